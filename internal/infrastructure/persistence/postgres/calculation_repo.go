package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// CalculationRepository implements ranking.CalculationRepository for PostgreSQL.
// The table holds a single row that every full recalculation overwrites.
type CalculationRepository struct {
	conn Querier
}

// NewCalculationRepository creates a new CalculationRepository.
func NewCalculationRepository(conn Querier) *CalculationRepository {
	return &CalculationRepository{conn: conn}
}

// SaveLastCalculation upserts the run summary.
func (r *CalculationRepository) SaveLastCalculation(ctx context.Context, record ranking.CalculationRecord) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "ranking_last_calculation", "upsert")
	defer func() { end(err) }()

	runID, err := uuid.Parse(record.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", record.RunID, err)
	}
	summary, err := json.Marshal(record.Report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO ranking_last_calculation (id, run_id, calculated_at, summary)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			calculated_at = EXCLUDED.calculated_at,
			summary = EXCLUDED.summary
	`, runID, record.CalculatedAt, summary)
	if err != nil {
		return fmt.Errorf("failed to save last calculation: %w", err)
	}
	return nil
}

// GetLastCalculation returns ranking.ErrNoCalculation when nothing was recorded.
func (r *CalculationRepository) GetLastCalculation(ctx context.Context) (record *ranking.CalculationRecord, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "ranking_last_calculation", "select")
	defer func() { end(err) }()

	var (
		runID        uuid.UUID
		calculatedAt time.Time
		summary      []byte
	)
	err = r.conn.QueryRow(ctx,
		`SELECT run_id, calculated_at, summary FROM ranking_last_calculation WHERE id = 1`,
	).Scan(&runID, &calculatedAt, &summary)
	if IsNoRows(err) {
		return nil, ranking.ErrNoCalculation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last calculation: %w", err)
	}

	record = &ranking.CalculationRecord{RunID: runID.String(), CalculatedAt: calculatedAt}
	if err := json.Unmarshal(summary, &record.Report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return record, nil
}
