package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// SettingsStore serves the three multiplier tables.
// Reads never fail: a missing row, an unparsable value or a storage error all
// yield the documented default, logged at WARN.
type SettingsStore struct {
	repo    ranking.SettingsRepository
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(repo ranking.SettingsRepository, log *slog.Logger, m *metrics.Metrics) *SettingsStore {
	return &SettingsStore{
		repo:    repo,
		log:     logger.OrDefault(log).With(logger.Component("settings_store")),
		metrics: m,
	}
}

func (s *SettingsStore) fallback(setting string, err error) {
	s.metrics.IncSettingsFallback(setting)
	s.log.Warn("using default ranking setting", slog.String("setting", setting), logger.Err(err))
}

// GetFieldMultipliers returns the field-size table.
func (s *SettingsStore) GetFieldMultipliers(ctx context.Context) ranking.FieldMultipliers {
	if s.repo == nil {
		return ranking.DefaultFieldMultipliers()
	}
	fm, err := s.repo.LoadFieldMultipliers(ctx)
	if err == nil {
		err = fm.Validate()
	}
	if err != nil {
		s.fallback(ranking.SettingFieldMultipliers, err)
		return ranking.DefaultFieldMultipliers()
	}
	return fm
}

// GetTimeDecay returns the time decay table.
func (s *SettingsStore) GetTimeDecay(ctx context.Context) ranking.TimeDecay {
	if s.repo == nil {
		return ranking.DefaultTimeDecay()
	}
	td, err := s.repo.LoadTimeDecay(ctx)
	if err == nil {
		err = td.Validate()
	}
	if err != nil {
		s.fallback(ranking.SettingTimeDecay, err)
		return ranking.DefaultTimeDecay()
	}
	return td
}

// GetEventLevelMultipliers returns the event level table.
func (s *SettingsStore) GetEventLevelMultipliers(ctx context.Context) ranking.EventLevelMultipliers {
	if s.repo == nil {
		return ranking.DefaultEventLevelMultipliers()
	}
	m, err := s.repo.LoadEventLevelMultipliers(ctx)
	if err == nil && len(m) == 0 {
		err = ranking.ErrSettingNotFound
	}
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		s.fallback(ranking.SettingEventLevelMultipliers, err)
		return ranking.DefaultEventLevelMultipliers()
	}
	return m
}

// Snapshot loads all three tables once; the result is used for a whole run.
func (s *SettingsStore) Snapshot(ctx context.Context) ranking.Settings {
	return ranking.Settings{
		FieldMultipliers:      s.GetFieldMultipliers(ctx),
		TimeDecay:             s.GetTimeDecay(ctx),
		EventLevelMultipliers: s.GetEventLevelMultipliers(ctx),
	}
}

// SaveFieldMultipliers validates and upserts the field-size table.
func (s *SettingsStore) SaveFieldMultipliers(ctx context.Context, fm ranking.FieldMultipliers) error {
	if err := fm.Validate(); err != nil {
		return shared.WrapError("settings", "SaveFieldMultipliers", shared.ErrValidation, "invalid field multipliers", err)
	}
	if err := s.repo.SaveFieldMultipliers(ctx, fm); err != nil {
		return fmt.Errorf("save field multipliers: %w", err)
	}
	return nil
}

// SaveTimeDecay validates and upserts the time decay table.
func (s *SettingsStore) SaveTimeDecay(ctx context.Context, td ranking.TimeDecay) error {
	if err := td.Validate(); err != nil {
		return shared.WrapError("settings", "SaveTimeDecay", shared.ErrValidation, "invalid time decay", err)
	}
	if err := s.repo.SaveTimeDecay(ctx, td); err != nil {
		return fmt.Errorf("save time decay: %w", err)
	}
	return nil
}

// SaveEventLevelMultipliers validates and upserts the event level table.
func (s *SettingsStore) SaveEventLevelMultipliers(ctx context.Context, m ranking.EventLevelMultipliers) error {
	if err := m.Validate(); err != nil {
		return shared.WrapError("settings", "SaveEventLevelMultipliers", shared.ErrValidation, "invalid event level multipliers", err)
	}
	if err := s.repo.SaveEventLevelMultipliers(ctx, m); err != nil {
		return fmt.Errorf("save event level multipliers: %w", err)
	}
	return nil
}
