package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL HISTORY COMMAND
// Fills missing month-start snapshots going back from the reference month.
// Existing snapshots are never rewritten, so a second pass changes nothing.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBackfillMonths is how far back history is filled.
const DefaultBackfillMonths = ranking.WindowMonths

// BackfillHistoryCommand contains the parameters of a backfill.
type BackfillHistoryCommand struct {
	Discipline ranking.Discipline

	// Months overrides the configured depth when positive.
	Months int
}

// Validate validates the command.
func (c BackfillHistoryCommand) Validate() error {
	if !c.Discipline.IsValid() {
		return fmt.Errorf("backfill_history: %w: %q", ranking.ErrInvalidDiscipline, c.Discipline)
	}
	if c.Months < 0 {
		return fmt.Errorf("backfill_history: months must not be negative, got %d", c.Months)
	}
	return nil
}

// BackfillHistoryResult is the outcome of one backfill.
type BackfillHistoryResult struct {
	Discipline      ranking.Discipline
	Computed        []time.Time
	SkippedExisting []time.Time
	SkippedNoData   []time.Time
	Units           []ranking.UnitReport
}

// Failed returns the unit reports that did not save.
func (r *BackfillHistoryResult) Failed() []ranking.UnitReport {
	var out []ranking.UnitReport
	for _, u := range r.Units {
		if u.Failed() {
			out = append(out, u)
		}
	}
	return out
}

// BackfillHistoryConfig configures the handler.
type BackfillHistoryConfig struct {
	Months int
}

// BackfillHistoryHandler handles backfills.
type BackfillHistoryHandler struct {
	engine    *Engine
	results   ranking.ResultRepository
	snapshots ranking.SnapshotRepository
	locker    ranking.Locker
	metrics   *metrics.Metrics
	log       *slog.Logger
	config    BackfillHistoryConfig
}

// NewBackfillHistoryHandler creates a new handler.
func NewBackfillHistoryHandler(
	engine *Engine,
	results ranking.ResultRepository,
	snapshots ranking.SnapshotRepository,
	locker ranking.Locker,
	m *metrics.Metrics,
	log *slog.Logger,
	config BackfillHistoryConfig,
) *BackfillHistoryHandler {
	if config.Months <= 0 {
		config.Months = DefaultBackfillMonths
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &BackfillHistoryHandler{
		engine:    engine,
		results:   results,
		snapshots: snapshots,
		locker:    locker,
		metrics:   m,
		log:       logger.OrDefault(log).With(logger.Component("backfill_history")),
		config:    config,
	}
}

// Handle takes the discipline lock and fills the missing months.
func (h *BackfillHistoryHandler) Handle(ctx context.Context, cmd BackfillHistoryCommand) (*BackfillHistoryResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "BackfillHistory", shared.ErrValidation, err.Error(), err)
	}
	months := cmd.Months
	if months == 0 {
		months = h.config.Months
	}

	unlock, err := h.locker.Lock(ctx, cmd.Discipline)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	res, err := h.run(ctx, cmd.Discipline, months)

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusFailure
	case len(res.Failed()) > 0:
		status = metrics.StatusPartial
	}
	h.metrics.ObserveRun(metrics.RunTypeBackfill, status, time.Since(start).Seconds(), float64(time.Now().Unix()))
	return res, err
}

// run walks month starts from the reference month backwards. The caller holds
// the discipline lock. A non-nil result is returned unless ctx was cancelled
// before the first month.
func (h *BackfillHistoryHandler) run(ctx context.Context, d ranking.Discipline, months int) (*BackfillHistoryResult, error) {
	log := h.log.With(logger.Discipline(d.String()))
	first := timeutil.StartOfMonth(h.engine.ReferenceDate(ctx, d))
	res := &BackfillHistoryResult{Discipline: d}

	for i := 0; i < months; i++ {
		if err := ctx.Err(); err != nil {
			log.Warn("backfill interrupted", slog.Int("months_done", i), logger.Err(err))
			return res, err
		}
		candidate := timeutil.AddMonths(first, -i)

		hasData, err := h.results.HasResultsOnOrBefore(ctx, d, candidate)
		if err != nil {
			log.Warn("result lookup failed, skipping month",
				logger.SnapshotDate(candidate), logger.Err(err))
			hasData = false
		}
		if !hasData {
			res.SkippedNoData = append(res.SkippedNoData, candidate)
			h.metrics.IncBackfillMonth(d.String(), metrics.BackfillSkipNoData)
			continue
		}

		missing := h.missingKinds(ctx, d, candidate, log)
		if len(missing) == 0 {
			res.SkippedExisting = append(res.SkippedExisting, candidate)
			h.metrics.IncBackfillMonth(d.String(), metrics.BackfillSkipExists)
			continue
		}

		asOf := candidate
		set, err := h.engine.ComputeSnapshots(ctx, d, &asOf, missing...)
		if err != nil {
			log.Error("backfill month failed", logger.SnapshotDate(candidate), logger.Err(err))
			for _, kind := range missing {
				res.Units = append(res.Units, ranking.NewUnitReport(d, kind, candidate, candidate, 0, err))
			}
			h.metrics.IncBackfillMonth(d.String(), metrics.BackfillFailed)
			continue
		}
		res.Units = append(res.Units, set.Units...)
		res.Computed = append(res.Computed, candidate)
		h.metrics.IncBackfillMonth(d.String(), metrics.BackfillComputed)
	}

	log.Info("backfill finished",
		slog.Int("computed", len(res.Computed)),
		slog.Int("skipped_existing", len(res.SkippedExisting)),
		slog.Int("skipped_no_data", len(res.SkippedNoData)),
		slog.Int("failed_units", len(res.Failed())),
	)
	return res, nil
}

// missingKinds returns the kinds without a snapshot at date.
// A failed existence check counts as existing so nothing is overwritten.
func (h *BackfillHistoryHandler) missingKinds(ctx context.Context, d ranking.Discipline, date time.Time, log *slog.Logger) []ranking.EntityKind {
	var missing []ranking.EntityKind
	for _, kind := range []ranking.EntityKind{ranking.KindRider, ranking.KindClub} {
		exists, err := h.snapshots.SnapshotExists(ctx, kind, d, date)
		if err != nil {
			log.Warn("snapshot existence check failed, treating as existing",
				logger.Kind(kind.String()), logger.SnapshotDate(date), logger.Err(err))
			continue
		}
		if !exists {
			missing = append(missing, kind)
		}
	}
	return missing
}
