package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
)

// settingsFile is the on-disk form of the multiplier tables.
//
//	[field_multipliers]
//	"1" = 0.75
//	"15" = 1.0
//
//	[time_decay]
//	months_1_12 = 1.0
//	months_13_24 = 0.5
//	months_25_plus = 0.0
//
//	[event_level_multipliers]
//	national = 1.0
//	sportmotion = 0.5
//
// Every section is optional on import; missing sections are left untouched.
type settingsFile struct {
	FieldMultipliers      map[string]float64 `toml:"field_multipliers,omitempty"`
	TimeDecay             *ranking.TimeDecay `toml:"time_decay,omitempty"`
	EventLevelMultipliers map[string]float64 `toml:"event_level_multipliers,omitempty"`
}

// decodeSettings reads a settings file into an update command.
func decodeSettings(r io.Reader) (command.UpdateSettingsCommand, error) {
	var f settingsFile
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return command.UpdateSettingsCommand{}, fmt.Errorf("failed to parse settings file: %w", err)
	}

	cmd := command.UpdateSettingsCommand{TimeDecay: f.TimeDecay}
	if f.FieldMultipliers != nil {
		cmd.FieldMultipliers = make(ranking.FieldMultipliers, len(f.FieldMultipliers))
		for k, v := range f.FieldMultipliers {
			size, err := strconv.Atoi(k)
			if err != nil {
				return command.UpdateSettingsCommand{}, fmt.Errorf("field_multipliers: key %q is not a field size", k)
			}
			cmd.FieldMultipliers[size] = v
		}
	}
	if f.EventLevelMultipliers != nil {
		cmd.EventLevelMultipliers = ranking.EventLevelMultipliers(f.EventLevelMultipliers)
	}
	return cmd, cmd.Validate()
}

// encodeSettings writes the effective settings in the import format.
func encodeSettings(w io.Writer, s ranking.Settings) error {
	f := settingsFile{
		FieldMultipliers:      make(map[string]float64, len(s.FieldMultipliers)),
		TimeDecay:             &s.TimeDecay,
		EventLevelMultipliers: map[string]float64(s.EventLevelMultipliers),
	}
	for size, v := range s.FieldMultipliers {
		f.FieldMultipliers[strconv.Itoa(size)] = v
	}
	return toml.NewEncoder(w).Encode(f)
}
