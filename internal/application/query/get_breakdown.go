package query

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BREAKDOWN QUERY
// Разбор очков гонщика по каждому результату: размер зачёта, множители,
// давность в месяцах. Считается тем же конвейером, что и снапшоты.
// ══════════════════════════════════════════════════════════════════════════════

// GetBreakdownQuery содержит параметры разбора.
type GetBreakdownQuery struct {
	Discipline ranking.Discipline
	RiderID    int64

	// AsOf - дата расчёта (nil = текущий рейтинг).
	AsOf *time.Time
}

// Validate проверяет корректность параметров.
func (q GetBreakdownQuery) Validate() error {
	if !q.Discipline.IsValid() {
		return shared.ErrInvalidDiscipline
	}
	if q.RiderID <= 0 {
		return errors.New("rider id must be positive")
	}
	return nil
}

// ContributionDTO - вклад одного результата.
type ContributionDTO struct {
	EventID              int64   `json:"event_id"`
	ClassID              int64   `json:"class_id"`
	EventDate            string  `json:"event_date"`
	Discipline           string  `json:"discipline"`
	EventLevel           string  `json:"event_level"`
	BasePoints           float64 `json:"base_points"`
	Source               string  `json:"source"`
	FieldSize            int     `json:"field_size"`
	FieldMultiplier      float64 `json:"field_multiplier"`
	EventLevelMultiplier float64 `json:"event_level_multiplier"`
	MonthsDiff           int     `json:"months_diff"`
	TimeMultiplier       float64 `json:"time_multiplier"`
	RankingPoints        float64 `json:"ranking_points"`
	WeightedPoints       float64 `json:"weighted_points"`
}

// GetBreakdownResult содержит разбор очков гонщика.
type GetBreakdownResult struct {
	Discipline    string            `json:"discipline"`
	RiderID       int64             `json:"rider_id"`
	ReferenceDate string            `json:"reference_date"`
	TotalPoints   float64           `json:"total_points"`
	Contributions []ContributionDTO `json:"contributions"`
}

// GetBreakdownHandler обрабатывает запросы разбора.
type GetBreakdownHandler struct {
	computer RankingComputer
}

// NewGetBreakdownHandler создаёт обработчик.
func NewGetBreakdownHandler(computer RankingComputer) *GetBreakdownHandler {
	return &GetBreakdownHandler{computer: computer}
}

// Handle выполняет запрос. Вклады отсортированы от новых к старым.
func (h *GetBreakdownHandler) Handle(ctx context.Context, q GetBreakdownQuery) (*GetBreakdownResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetBreakdown", shared.ErrValidation, err.Error(), err)
	}

	data, err := h.computer.CalculateRankingData(ctx, q.Discipline, q.AsOf)
	if err != nil {
		return nil, shared.WrapError("query", "GetBreakdown", shared.ErrStorage, "failed to compute ranking", err)
	}

	var contribs []ranking.Contribution
	for _, c := range data.Contributions {
		if c.RiderID == q.RiderID {
			contribs = append(contribs, c)
		}
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		if !contribs[i].EventDate.Equal(contribs[j].EventDate) {
			return contribs[i].EventDate.After(contribs[j].EventDate)
		}
		return contribs[i].EventID < contribs[j].EventID
	})

	res := &GetBreakdownResult{
		Discipline:    q.Discipline.String(),
		RiderID:       q.RiderID,
		ReferenceDate: data.ReferenceDate.Format(time.DateOnly),
		Contributions: make([]ContributionDTO, len(contribs)),
	}
	var total float64
	for i, c := range contribs {
		res.Contributions[i] = ContributionDTO{
			EventID:              c.EventID,
			ClassID:              c.ClassID,
			EventDate:            c.EventDate.Format(time.DateOnly),
			Discipline:           c.Discipline.String(),
			EventLevel:           c.EventLevel,
			BasePoints:           c.BasePoints,
			Source:               string(c.Source),
			FieldSize:            c.FieldSize,
			FieldMultiplier:      c.FieldMultiplier,
			EventLevelMultiplier: c.EventLevelMultiplier,
			MonthsDiff:           c.MonthsDiff,
			TimeMultiplier:       c.TimeMultiplier,
			RankingPoints:        c.RankingPoints,
			WeightedPoints:       c.WeightedPoints,
		}
		total += c.WeightedPoints
	}
	res.TotalPoints = math.Round(total*100) / 100
	return res, nil
}
