package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE SETTINGS COMMAND
// Replaces one or more multiplier tables. New values apply from the next run;
// existing snapshots are not recomputed.
// ══════════════════════════════════════════════════════════════════════════════

// SettingsWriter persists validated multiplier tables.
type SettingsWriter interface {
	SaveFieldMultipliers(ctx context.Context, fm ranking.FieldMultipliers) error
	SaveTimeDecay(ctx context.Context, td ranking.TimeDecay) error
	SaveEventLevelMultipliers(ctx context.Context, m ranking.EventLevelMultipliers) error
}

// UpdateSettingsCommand contains the tables to replace.
// nil values mean "don't change".
type UpdateSettingsCommand struct {
	FieldMultipliers      ranking.FieldMultipliers
	TimeDecay             *ranking.TimeDecay
	EventLevelMultipliers ranking.EventLevelMultipliers
}

// Validate validates the command.
func (c UpdateSettingsCommand) Validate() error {
	if c.FieldMultipliers == nil && c.TimeDecay == nil && c.EventLevelMultipliers == nil {
		return errors.New("update_settings: nothing to update")
	}
	if c.FieldMultipliers != nil {
		if err := c.FieldMultipliers.Validate(); err != nil {
			return fmt.Errorf("update_settings: %w", err)
		}
	}
	if c.TimeDecay != nil {
		if err := c.TimeDecay.Validate(); err != nil {
			return fmt.Errorf("update_settings: %w", err)
		}
	}
	if c.EventLevelMultipliers != nil {
		if err := c.EventLevelMultipliers.Validate(); err != nil {
			return fmt.Errorf("update_settings: %w", err)
		}
	}
	return nil
}

// UpdateSettingsResult lists the tables that were written.
type UpdateSettingsResult struct {
	Updated []string
}

// UpdateSettingsHandler handles settings updates.
type UpdateSettingsHandler struct {
	writer SettingsWriter
	log    *slog.Logger
}

// NewUpdateSettingsHandler creates a new handler.
func NewUpdateSettingsHandler(writer SettingsWriter, log *slog.Logger) *UpdateSettingsHandler {
	return &UpdateSettingsHandler{
		writer: writer,
		log:    logger.OrDefault(log).With(logger.Component("update_settings")),
	}
}

// Handle validates every table first and writes nothing when any is invalid.
// Tables are written one by one; a write error stops the update.
func (h *UpdateSettingsHandler) Handle(ctx context.Context, cmd UpdateSettingsCommand) (*UpdateSettingsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "UpdateSettings", shared.ErrValidation, err.Error(), err)
	}

	res := &UpdateSettingsResult{}
	if cmd.FieldMultipliers != nil {
		if err := h.writer.SaveFieldMultipliers(ctx, cmd.FieldMultipliers); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, ranking.SettingFieldMultipliers)
	}
	if cmd.TimeDecay != nil {
		if err := h.writer.SaveTimeDecay(ctx, *cmd.TimeDecay); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, ranking.SettingTimeDecay)
	}
	if cmd.EventLevelMultipliers != nil {
		if err := h.writer.SaveEventLevelMultipliers(ctx, cmd.EventLevelMultipliers); err != nil {
			return res, err
		}
		res.Updated = append(res.Updated, ranking.SettingEventLevelMultipliers)
	}

	h.log.Info("ranking settings updated", slog.Any("settings", res.Updated))
	return res, nil
}
