// Package query contains read operations following CQRS pattern.
// Queries never modify state, except that a missing current ranking is
// computed on first read and snapshotted.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RANKING QUERY
// Страница текущего рейтинга дисциплины: последний снапшот, упорядоченный по
// месту. Если снапшотов ещё нет, рейтинг считается на лету и сохраняется.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultPageSize - размер страницы по умолчанию.
	DefaultPageSize = 50

	// MaxPageSize - максимальный размер страницы.
	MaxPageSize = 500
)

// GetRankingQuery содержит параметры запроса рейтинга.
type GetRankingQuery struct {
	Discipline ranking.Discipline
	Kind       ranking.EntityKind

	// Page - номер страницы, начиная с 1 (0 = первая).
	Page int

	// PageSize - размер страницы (0 = по умолчанию, больше MaxPageSize обрезается).
	PageSize int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetRankingQuery) Validate() error {
	if !q.Discipline.IsValid() {
		return shared.ErrInvalidDiscipline
	}
	if q.Kind != ranking.KindRider && q.Kind != ranking.KindClub {
		return ranking.ErrInvalidEntityKind
	}
	if q.Page < 0 || q.PageSize < 0 {
		return shared.ErrInvalidPage
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return nil
}

// RankingEntryDTO - строка рейтинга для API.
type RankingEntryDTO struct {
	// Rank - место (одинаковые очки = одинаковое место).
	Rank int `json:"rank"`

	// EntityID - ID гонщика или клуба.
	EntityID int64 `json:"id"`

	// Name - отображаемое имя (пусто, если справочник недоступен).
	Name string `json:"name,omitempty"`

	TotalPoints  float64 `json:"total_points"`
	Points0To12  float64 `json:"points_0_12"`
	Points13To24 float64 `json:"points_13_24"`
	EventsCount  int     `json:"events_count"`

	// RidersCount - только для клубов.
	RidersCount int `json:"riders_count,omitempty"`

	// PreviousRank - место в предыдущем снапшоте (nil - новичок).
	PreviousRank *int `json:"previous_rank"`

	// RankChange - изменение места (+ вверх, - вниз).
	RankChange *int `json:"rank_change"`

	// RankDirection - "up", "down", "stable", "new".
	RankDirection string `json:"rank_direction"`
}

// GetRankingResult содержит страницу рейтинга.
type GetRankingResult struct {
	Discipline   string            `json:"discipline"`
	Kind         string            `json:"kind"`
	SnapshotDate string            `json:"snapshot_date"`
	Entries      []RankingEntryDTO `json:"entries"`
	Total        int               `json:"total"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
	TotalPages   int               `json:"total_pages"`
	HasMore      bool              `json:"has_more"`

	// Computed - рейтинг был посчитан на лету в этом запросе.
	Computed bool `json:"computed"`
}

// RankingComputer считает рейтинг дисциплины.
type RankingComputer interface {
	CalculateRankingData(ctx context.Context, d ranking.Discipline, asOf *time.Time) (*command.RankingData, error)
	ComputeSnapshots(ctx context.Context, d ranking.Discipline, asOf *time.Time, kinds ...ranking.EntityKind) (*command.SnapshotSet, error)
}

// GetRankingHandler обрабатывает запросы рейтинга.
type GetRankingHandler struct {
	snapshots ranking.SnapshotRepository
	computer  RankingComputer
	locker    ranking.Locker
	cache     ranking.PageCache
	names     ranking.NameDirectory
	metrics   *metrics.Metrics
	log       *slog.Logger

	group singleflight.Group
}

// NewGetRankingHandler создаёт обработчик. cache, names и locker могут быть nil.
func NewGetRankingHandler(
	snapshots ranking.SnapshotRepository,
	computer RankingComputer,
	locker ranking.Locker,
	cache ranking.PageCache,
	names ranking.NameDirectory,
	m *metrics.Metrics,
	log *slog.Logger,
) *GetRankingHandler {
	return &GetRankingHandler{
		snapshots: snapshots,
		computer:  computer,
		locker:    locker,
		cache:     cache,
		names:     names,
		metrics:   m,
		log:       logger.OrDefault(log).With(logger.Component("get_ranking")),
	}
}

// Handle выполняет запрос.
func (h *GetRankingHandler) Handle(ctx context.Context, q GetRankingQuery) (*GetRankingResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetRanking", shared.ErrValidation, err.Error(), err)
	}

	// Кеш
	if page := h.fromCache(ctx, q); page != nil {
		return h.buildResult(ctx, q, page, false), nil
	}

	// Последний снапшот
	date, ok, err := h.snapshots.LatestSnapshotDate(ctx, q.Kind, q.Discipline)
	if err != nil {
		return nil, shared.WrapError("query", "GetRanking", shared.ErrStorage, "failed to find latest snapshot", err)
	}
	if ok {
		offset := (q.Page - 1) * q.PageSize
		entries, total, err := h.snapshots.GetPage(ctx, q.Kind, q.Discipline, date, offset, q.PageSize)
		if err != nil {
			return nil, shared.WrapError("query", "GetRanking", shared.ErrStorage, "failed to read snapshot page", err)
		}
		page := &ranking.CachedPage{SnapshotDate: date, Total: total, Entries: entries}
		h.toCache(ctx, q, page)
		return h.buildResult(ctx, q, page, false), nil
	}

	// Снапшотов нет - считаем на лету
	snap, err := h.computeLive(ctx, q.Discipline, q.Kind)
	if err != nil {
		return nil, err
	}
	page := &ranking.CachedPage{
		SnapshotDate: snap.Date,
		Total:        snap.Len(),
		Entries:      snap.Page(q.Page, q.PageSize),
	}
	return h.buildResult(ctx, q, page, true), nil
}

// computeLive считает текущий рейтинг один раз на (дисциплина, тип), даже если
// запросов много. Если дисциплина занята пересчётом, результат не сохраняется.
// Общий расчёт не отменяется вместе с запросом, который его начал.
func (h *GetRankingHandler) computeLive(ctx context.Context, d ranking.Discipline, kind ranking.EntityKind) (*ranking.Snapshot, error) {
	key := d.String() + ":" + kind.String()
	detached := context.WithoutCancel(ctx)
	v, err, dup := h.group.Do(key, func() (any, error) {
		return h.computeAndSave(detached, d, kind)
	})
	if dup {
		h.metrics.IncLiveComputeShared()
	}
	if err != nil {
		return nil, err
	}
	return v.(*ranking.Snapshot), nil
}

func (h *GetRankingHandler) computeAndSave(ctx context.Context, d ranking.Discipline, kind ranking.EntityKind) (*ranking.Snapshot, error) {
	start := time.Now()
	log := h.log.With(logger.Discipline(d.String()), logger.Kind(kind.String()))

	unlock, lockErr := h.lock(ctx, d)
	if lockErr == nil {
		defer unlock()
		set, err := h.computer.ComputeSnapshots(ctx, d, nil, kind)
		if err != nil {
			h.metrics.ObserveRun(metrics.RunTypeLive, metrics.StatusFailure, time.Since(start).Seconds(), 0)
			return nil, fmt.Errorf("compute live ranking: %w", err)
		}
		for _, u := range set.Units {
			if u.Failed() {
				log.Warn("live ranking computed but not saved", slog.String("error", u.Error))
			}
		}
		snap := set.Snapshot(kind)
		if snap == nil {
			return nil, fmt.Errorf("compute live ranking: no %s snapshot built", kind)
		}
		h.metrics.ObserveRun(metrics.RunTypeLive, metrics.StatusSuccess, time.Since(start).Seconds(), float64(time.Now().Unix()))
		log.Info("live ranking computed", logger.Latency(time.Since(start)))
		return snap, nil
	}
	if !shared.IsLocked(lockErr) {
		return nil, lockErr
	}

	// Идёт пересчёт: отдаём расчёт без сохранения.
	log.Debug("discipline is being recalculated, serving unsaved ranking")
	data, err := h.computer.CalculateRankingData(ctx, d, nil)
	if err != nil {
		return nil, fmt.Errorf("compute live ranking: %w", err)
	}
	ranked := data.Riders
	if kind == ranking.KindClub {
		ranked = data.Clubs
	}
	return ranking.NewSnapshot(kind, d, data.ReferenceDate, ranked)
}

func (h *GetRankingHandler) lock(ctx context.Context, d ranking.Discipline) (func(), error) {
	if h.locker == nil {
		return func() {}, nil
	}
	return h.locker.Lock(ctx, d)
}

func (h *GetRankingHandler) fromCache(ctx context.Context, q GetRankingQuery) *ranking.CachedPage {
	if h.cache == nil {
		return nil
	}
	page, err := h.cache.GetPage(ctx, q.Kind, q.Discipline, q.Page, q.PageSize)
	if err != nil {
		h.log.Debug("ranking cache read failed", logger.Err(err))
		return nil
	}
	return page
}

func (h *GetRankingHandler) toCache(ctx context.Context, q GetRankingQuery, page *ranking.CachedPage) {
	if h.cache == nil {
		return
	}
	if err := h.cache.SetPage(ctx, q.Kind, q.Discipline, q.Page, q.PageSize, page); err != nil {
		h.log.Debug("ranking cache write failed", logger.Err(err))
	}
}

// buildResult формирует итоговый результат.
func (h *GetRankingHandler) buildResult(ctx context.Context, q GetRankingQuery, page *ranking.CachedPage, computed bool) *GetRankingResult {
	names := lookupNames(ctx, h.names, q.Kind, page.Entries, h.log)

	dtos := make([]RankingEntryDTO, len(page.Entries))
	for i, e := range page.Entries {
		dtos[i] = toEntryDTO(e, names[e.EntityID])
	}

	_, to := ranking.PageBounds(q.Page, q.PageSize, page.Total)
	return &GetRankingResult{
		Discipline:   q.Discipline.String(),
		Kind:         q.Kind.String(),
		SnapshotDate: page.SnapshotDate.Format(time.DateOnly),
		Entries:      dtos,
		Total:        page.Total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   ranking.TotalPages(page.Total, q.PageSize),
		HasMore:      to < page.Total,
		Computed:     computed,
	}
}

// lookupNames достаёт имена. Ошибка справочника не ломает запрос.
func lookupNames(ctx context.Context, dir ranking.NameDirectory, kind ranking.EntityKind, entries []ranking.SnapshotEntry, log *slog.Logger) map[int64]string {
	if dir == nil || len(entries) == 0 {
		return nil
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.EntityID
	}
	names, err := dir.Names(ctx, kind, ids)
	if err != nil {
		log.Warn("name lookup failed", logger.Kind(kind.String()), logger.Err(err))
		return nil
	}
	return names
}

// toEntryDTO конвертирует строку снапшота в DTO.
func toEntryDTO(e ranking.SnapshotEntry, name string) RankingEntryDTO {
	dto := RankingEntryDTO{
		Rank:          int(e.Rank),
		EntityID:      e.EntityID,
		Name:          name,
		TotalPoints:   e.TotalPoints,
		Points0To12:   e.Points0To12,
		Points13To24:  e.Points13To24,
		EventsCount:   e.EventsCount,
		RidersCount:   e.RidersCount,
		RankDirection: string(e.Direction()),
	}
	if e.PreviousRank != nil {
		p := int(*e.PreviousRank)
		dto.PreviousRank = &p
	}
	if e.RankChange != nil {
		c := int(*e.RankChange)
		dto.RankChange = &c
	}
	return dto
}

// IsNotFound сообщает, что запрошенных данных нет.
func IsNotFound(err error) bool {
	return shared.IsNotFound(err) ||
		errors.Is(err, ranking.ErrSnapshotNotFound) ||
		errors.Is(err, ranking.ErrNoCalculation)
}
