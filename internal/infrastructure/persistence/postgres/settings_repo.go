package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS REPOSITORY IMPLEMENTATION
// Each multiplier table is one JSONB row in ranking_settings keyed by name.
// ══════════════════════════════════════════════════════════════════════════════

// SettingsRepository implements ranking.SettingsRepository for PostgreSQL.
type SettingsRepository struct {
	conn Querier
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(conn Querier) *SettingsRepository {
	return &SettingsRepository{conn: conn}
}

func (r *SettingsRepository) load(ctx context.Context, name string, dst any) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "ranking_settings", "select")
	defer func() { end(err) }()

	var raw []byte
	err = r.conn.QueryRow(ctx, `SELECT value FROM ranking_settings WHERE name = $1`, name).Scan(&raw)
	if IsNoRows(err) {
		return ranking.ErrSettingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load setting %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", name, err)
	}
	return nil
}

func (r *SettingsRepository) save(ctx context.Context, name string, value any) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "ranking_settings", "upsert")
	defer func() { end(err) }()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", name, err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO ranking_settings (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, name, raw)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", name, err)
	}
	return nil
}

// LoadFieldMultipliers implements ranking.SettingsRepository.
func (r *SettingsRepository) LoadFieldMultipliers(ctx context.Context) (ranking.FieldMultipliers, error) {
	var fm ranking.FieldMultipliers
	if err := r.load(ctx, ranking.SettingFieldMultipliers, &fm); err != nil {
		return nil, err
	}
	return fm, nil
}

// LoadTimeDecay implements ranking.SettingsRepository.
func (r *SettingsRepository) LoadTimeDecay(ctx context.Context) (ranking.TimeDecay, error) {
	var td ranking.TimeDecay
	if err := r.load(ctx, ranking.SettingTimeDecay, &td); err != nil {
		return ranking.TimeDecay{}, err
	}
	return td, nil
}

// LoadEventLevelMultipliers implements ranking.SettingsRepository.
func (r *SettingsRepository) LoadEventLevelMultipliers(ctx context.Context) (ranking.EventLevelMultipliers, error) {
	var m ranking.EventLevelMultipliers
	if err := r.load(ctx, ranking.SettingEventLevelMultipliers, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveFieldMultipliers implements ranking.SettingsRepository.
func (r *SettingsRepository) SaveFieldMultipliers(ctx context.Context, fm ranking.FieldMultipliers) error {
	return r.save(ctx, ranking.SettingFieldMultipliers, fm)
}

// SaveTimeDecay implements ranking.SettingsRepository.
func (r *SettingsRepository) SaveTimeDecay(ctx context.Context, td ranking.TimeDecay) error {
	return r.save(ctx, ranking.SettingTimeDecay, td)
}

// SaveEventLevelMultipliers implements ranking.SettingsRepository.
func (r *SettingsRepository) SaveEventLevelMultipliers(ctx context.Context, m ranking.EventLevelMultipliers) error {
	return r.save(ctx, ranking.SettingEventLevelMultipliers, m)
}
