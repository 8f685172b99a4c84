// Package jobs contains the scheduled jobs of the ranking worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECALCULATE RANKINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Recalculator runs a full multi-discipline recalculation.
type Recalculator interface {
	Handle(ctx context.Context, cmd command.RecalculateRankingsCommand) (*ranking.RunReport, error)
}

// RecalculateRankingsConfig contains configuration for the job.
type RecalculateRankingsConfig struct {
	// Disciplines to recalculate (empty = handler defaults).
	Disciplines []ranking.Discipline

	// Backfill fills missing history after each run.
	Backfill bool

	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultRecalculateRankingsConfig returns sensible defaults.
func DefaultRecalculateRankingsConfig() RecalculateRankingsConfig {
	return RecalculateRankingsConfig{Timeout: 30 * time.Minute}
}

// RecalculateRankingsJob recomputes and snapshots rider and club rankings.
type RecalculateRankingsJob struct {
	handler Recalculator
	log     *slog.Logger
	config  RecalculateRankingsConfig

	lastReport atomic.Pointer[ranking.RunReport]
}

// NewRecalculateRankingsJob creates a new recalculation job.
func NewRecalculateRankingsJob(handler Recalculator, log *slog.Logger, config RecalculateRankingsConfig) *RecalculateRankingsJob {
	return &RecalculateRankingsJob{
		handler: handler,
		log:     logger.OrDefault(log).With(logger.Component("job"), "job", "recalculate_rankings"),
		config:  config,
	}
}

// Name returns the job name.
func (j *RecalculateRankingsJob) Name() string {
	return "recalculate_rankings"
}

// Description returns a human-readable description.
func (j *RecalculateRankingsJob) Description() string {
	return "Recomputes rider and club rankings for every discipline and saves snapshots"
}

// Run executes the recalculation. Partial failures are returned as an error
// after every discipline has been attempted.
func (j *RecalculateRankingsJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	report, err := j.handler.Handle(ctx, command.RecalculateRankingsCommand{
		Disciplines: j.config.Disciplines,
		Backfill:    j.config.Backfill,
		Trigger:     "scheduler",
	})
	if report != nil {
		j.lastReport.Store(report)
		j.log.Info("recalculation finished",
			logger.RunID(report.RunID),
			"units", len(report.Units),
			"saved", report.TotalSaved(),
			"failures", len(report.Failures()),
		)
	}
	if err != nil {
		return fmt.Errorf("recalculate rankings: %w", err)
	}
	return nil
}

// LastReport returns the report of the most recent run, or nil.
func (j *RecalculateRankingsJob) LastReport() *ranking.RunReport {
	return j.lastReport.Load()
}
