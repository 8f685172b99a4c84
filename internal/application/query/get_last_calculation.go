package query

import (
	"context"
	"errors"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LAST CALCULATION QUERY
// Когда и с каким итогом прошёл последний полный пересчёт.
// ══════════════════════════════════════════════════════════════════════════════

// UnitDTO - итог одной единицы пересчёта.
type UnitDTO struct {
	Discipline    string `json:"discipline"`
	Kind          string `json:"kind"`
	SnapshotDate  string `json:"snapshot_date,omitempty"`
	ReferenceDate string `json:"reference_date,omitempty"`
	Saved         int    `json:"saved"`
	Error         string `json:"error,omitempty"`
}

// GetLastCalculationResult содержит данные о последнем пересчёте.
type GetLastCalculationResult struct {
	RunID        string    `json:"run_id"`
	CalculatedAt string    `json:"calculated_at"`
	DurationMs   int64     `json:"duration_ms"`
	TotalSaved   int       `json:"total_saved"`
	Failures     int       `json:"failures"`
	Units        []UnitDTO `json:"units"`
}

// GetLastCalculationHandler обрабатывает запрос.
type GetLastCalculationHandler struct {
	calculations ranking.CalculationRepository
}

// NewGetLastCalculationHandler создаёт обработчик.
func NewGetLastCalculationHandler(calculations ranking.CalculationRepository) *GetLastCalculationHandler {
	return &GetLastCalculationHandler{calculations: calculations}
}

// Handle выполняет запрос.
func (h *GetLastCalculationHandler) Handle(ctx context.Context) (*GetLastCalculationResult, error) {
	record, err := h.calculations.GetLastCalculation(ctx)
	if errors.Is(err, ranking.ErrNoCalculation) {
		return nil, shared.WrapError("query", "GetLastCalculation", shared.ErrNotFound, "no calculation recorded", err)
	}
	if err != nil {
		return nil, shared.WrapError("query", "GetLastCalculation", shared.ErrStorage, "failed to read last calculation", err)
	}

	report := record.Report
	res := &GetLastCalculationResult{
		RunID:        record.RunID,
		CalculatedAt: record.CalculatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		DurationMs:   report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		TotalSaved:   report.TotalSaved(),
		Failures:     len(report.Failures()),
		Units:        make([]UnitDTO, len(report.Units)),
	}
	for i, u := range report.Units {
		dto := UnitDTO{
			Discipline: u.Discipline.String(),
			Kind:       u.Kind.String(),
			Saved:      u.Saved,
			Error:      u.Error,
		}
		if !u.SnapshotDate.IsZero() {
			dto.SnapshotDate = u.SnapshotDate.Format("2006-01-02")
		}
		if !u.ReferenceDate.IsZero() {
			dto.ReferenceDate = u.ReferenceDate.Format("2006-01-02")
		}
		res.Units[i] = dto
	}
	return res, nil
}
