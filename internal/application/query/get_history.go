package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HISTORY QUERY
// История мест гонщика или клуба: все снапшоты сущности по возрастанию даты.
// ══════════════════════════════════════════════════════════════════════════════

// GetHistoryQuery содержит параметры запроса истории.
type GetHistoryQuery struct {
	Discipline ranking.Discipline
	Kind       ranking.EntityKind
	EntityID   int64
}

// Validate проверяет корректность параметров.
func (q GetHistoryQuery) Validate() error {
	if !q.Discipline.IsValid() {
		return shared.ErrInvalidDiscipline
	}
	if q.Kind != ranking.KindRider && q.Kind != ranking.KindClub {
		return ranking.ErrInvalidEntityKind
	}
	if q.EntityID <= 0 {
		return errors.New("entity id must be positive")
	}
	return nil
}

// HistoryPointDTO - одна точка истории.
type HistoryPointDTO struct {
	Date        string  `json:"date"`
	Rank        int     `json:"rank"`
	TotalPoints float64 `json:"total_points"`
	RankChange  *int    `json:"rank_change"`
}

// GetHistoryResult содержит историю сущности.
type GetHistoryResult struct {
	Discipline string            `json:"discipline"`
	Kind       string            `json:"kind"`
	EntityID   int64             `json:"id"`
	Name       string            `json:"name,omitempty"`
	Points     []HistoryPointDTO `json:"points"`

	// BestRank - лучшее место за историю (0, если истории нет).
	BestRank int `json:"best_rank"`
}

// GetHistoryHandler обрабатывает запросы истории.
type GetHistoryHandler struct {
	snapshots ranking.SnapshotRepository
	names     ranking.NameDirectory
	log       *slog.Logger
}

// NewGetHistoryHandler создаёт обработчик. names может быть nil.
func NewGetHistoryHandler(snapshots ranking.SnapshotRepository, names ranking.NameDirectory, log *slog.Logger) *GetHistoryHandler {
	return &GetHistoryHandler{
		snapshots: snapshots,
		names:     names,
		log:       logger.OrDefault(log).With(logger.Component("get_history")),
	}
}

// Handle выполняет запрос. Пустая история - не ошибка.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*GetHistoryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetHistory", shared.ErrValidation, err.Error(), err)
	}

	points, err := h.snapshots.GetHistory(ctx, q.Kind, q.Discipline, q.EntityID)
	if err != nil {
		return nil, shared.WrapError("query", "GetHistory", shared.ErrStorage, "failed to read history", err)
	}

	res := &GetHistoryResult{
		Discipline: q.Discipline.String(),
		Kind:       q.Kind.String(),
		EntityID:   q.EntityID,
		Points:     make([]HistoryPointDTO, len(points)),
	}
	for i, p := range points {
		dto := HistoryPointDTO{
			Date:        p.Date.Format(time.DateOnly),
			Rank:        int(p.Rank),
			TotalPoints: p.TotalPoints,
		}
		if p.RankChange != nil {
			c := int(*p.RankChange)
			dto.RankChange = &c
		}
		res.Points[i] = dto
		if res.BestRank == 0 || dto.Rank < res.BestRank {
			res.BestRank = dto.Rank
		}
	}

	names := lookupNames(ctx, h.names, q.Kind, []ranking.SnapshotEntry{{EntityID: q.EntityID}}, h.log)
	res.Name = names[q.EntityID]
	return res, nil
}

// GetRiderHistory возвращает историю гонщика.
func (h *GetHistoryHandler) GetRiderHistory(ctx context.Context, d ranking.Discipline, riderID int64) (*GetHistoryResult, error) {
	return h.Handle(ctx, GetHistoryQuery{Discipline: d, Kind: ranking.KindRider, EntityID: riderID})
}

// GetClubHistory возвращает историю клуба.
func (h *GetHistoryHandler) GetClubHistory(ctx context.Context, d ranking.Discipline, clubID int64) (*GetHistoryResult, error) {
	return h.Handle(ctx, GetHistoryQuery{Discipline: d, Kind: ranking.KindClub, EntityID: clubID})
}
