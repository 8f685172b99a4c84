package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE RANKINGS COMMAND
// Full multi-discipline run: compute and snapshot riders and clubs for every
// discipline at its current reference date, then record the last calculation.
// A failed unit does not abort the other disciplines.
// ══════════════════════════════════════════════════════════════════════════════

// RecalculateRankingsCommand contains the parameters of a full run.
type RecalculateRankingsCommand struct {
	// Disciplines to recompute. Empty means the handler's configured set.
	Disciplines []ranking.Discipline

	// Backfill also fills missing monthly history after the snapshots are saved.
	Backfill bool

	// Trigger describes who started the run (scheduler, cli, http).
	Trigger string
}

// Validate validates the command.
func (c RecalculateRankingsCommand) Validate() error {
	for _, d := range c.Disciplines {
		if !d.IsValid() {
			return fmt.Errorf("recalculate_rankings: %w: %q", ranking.ErrInvalidDiscipline, d)
		}
	}
	return nil
}

// RecalculateRankingsConfig configures the handler.
type RecalculateRankingsConfig struct {
	// Disciplines computed when the command does not list any.
	Disciplines []ranking.Discipline

	// Concurrency limits how many disciplines run at once.
	Concurrency int
}

// DefaultRecalculateRankingsConfig returns all disciplines, computed concurrently.
func DefaultRecalculateRankingsConfig() RecalculateRankingsConfig {
	return RecalculateRankingsConfig{
		Disciplines: ranking.AllDisciplines(),
		Concurrency: len(ranking.AllDisciplines()),
	}
}

// RecalculateRankingsHandler handles full recalculation runs.
type RecalculateRankingsHandler struct {
	engine       *Engine
	backfill     *BackfillHistoryHandler
	calculations ranking.CalculationRepository
	locker       ranking.Locker
	metrics      *metrics.Metrics
	log          *slog.Logger
	config       RecalculateRankingsConfig
	now          func() time.Time
}

// NewRecalculateRankingsHandler creates a new handler. backfill may be nil.
func NewRecalculateRankingsHandler(
	engine *Engine,
	backfill *BackfillHistoryHandler,
	calculations ranking.CalculationRepository,
	locker ranking.Locker,
	m *metrics.Metrics,
	log *slog.Logger,
	config RecalculateRankingsConfig,
) *RecalculateRankingsHandler {
	if len(config.Disciplines) == 0 {
		config.Disciplines = ranking.AllDisciplines()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &RecalculateRankingsHandler{
		engine:       engine,
		backfill:     backfill,
		calculations: calculations,
		locker:       locker,
		metrics:      m,
		log:          logger.OrDefault(log).With(logger.Component("recalculate_rankings")),
		config:       config,
		now:          time.Now,
	}
}

// Handle runs the recalculation. The report is always returned; the error
// joins every failed unit and a failed last-calculation write.
func (h *RecalculateRankingsHandler) Handle(ctx context.Context, cmd RecalculateRankingsCommand) (*ranking.RunReport, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "RecalculateRankings", shared.ErrValidation, err.Error(), err)
	}
	disciplines := cmd.Disciplines
	if len(disciplines) == 0 {
		disciplines = h.config.Disciplines
	}

	report := &ranking.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: h.now().UTC(),
	}
	log := h.log.With(logger.RunID(report.RunID), slog.String("trigger", cmd.Trigger))
	log.Info("ranking recalculation started", slog.Int("disciplines", len(disciplines)))

	perDiscipline := make([][]ranking.UnitReport, len(disciplines))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)
	for i, d := range disciplines {
		g.Go(func() error {
			units := h.recalculateDiscipline(gctx, d, cmd.Backfill, log)
			mu.Lock()
			perDiscipline[i] = units
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, units := range perDiscipline {
		for _, u := range units {
			report.Add(u)
		}
	}
	report.FinishedAt = h.now().UTC()

	runErr := report.Err()
	record := ranking.CalculationRecord{
		RunID:        report.RunID,
		CalculatedAt: report.FinishedAt,
		Report:       *report,
	}
	if err := h.calculations.SaveLastCalculation(ctx, record); err != nil {
		log.Error("failed to record last calculation", logger.Err(err))
		runErr = errors.Join(runErr, fmt.Errorf("record last calculation: %w", err))
	}

	status := metrics.StatusSuccess
	switch {
	case runErr != nil && len(report.Failures()) == len(report.Units):
		status = metrics.StatusFailure
	case runErr != nil:
		status = metrics.StatusPartial
	}
	h.metrics.ObserveRun(metrics.RunTypeRecalculate, status,
		report.FinishedAt.Sub(report.StartedAt).Seconds(), float64(report.FinishedAt.Unix()))

	log.Info("ranking recalculation finished",
		slog.String("status", status),
		slog.Int("rows_saved", report.TotalSaved()),
		slog.String("summary", report.Summary()),
		logger.Latency(report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, runErr
}

func (h *RecalculateRankingsHandler) recalculateDiscipline(
	ctx context.Context,
	d ranking.Discipline,
	backfill bool,
	log *slog.Logger,
) []ranking.UnitReport {
	failAll := func(err error) []ranking.UnitReport {
		return []ranking.UnitReport{
			ranking.NewUnitReport(d, ranking.KindRider, time.Time{}, time.Time{}, 0, err),
			ranking.NewUnitReport(d, ranking.KindClub, time.Time{}, time.Time{}, 0, err),
		}
	}

	unlock, err := h.locker.Lock(ctx, d)
	if err != nil {
		log.Warn("discipline is locked, skipping", logger.Discipline(d.String()), logger.Err(err))
		return failAll(err)
	}
	defer unlock()

	set, err := h.engine.ComputeSnapshots(ctx, d, nil)
	if err != nil {
		log.Error("ranking computation failed", logger.Discipline(d.String()), logger.Err(err))
		return failAll(err)
	}
	units := set.Units

	log.Info("discipline recalculated",
		logger.Discipline(d.String()),
		logger.ReferenceDate(set.Data.ReferenceDate),
		slog.Int("riders", len(set.Data.Riders)),
		slog.Int("clubs", len(set.Data.Clubs)),
	)

	if backfill && h.backfill != nil {
		res, err := h.backfill.run(ctx, d, h.backfill.config.Months)
		units = append(units, res.Units...)
		if err != nil {
			log.Error("history backfill interrupted", logger.Discipline(d.String()), logger.Err(err))
		}
	}
	return units
}
