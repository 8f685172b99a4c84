package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL HISTORY JOB
// ══════════════════════════════════════════════════════════════════════════════

// Backfiller fills missing monthly snapshots of one discipline.
type Backfiller interface {
	Handle(ctx context.Context, cmd command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error)
}

// BackfillHistoryConfig contains configuration for the job.
type BackfillHistoryConfig struct {
	Disciplines []ranking.Discipline
	Months      int
	Timeout     time.Duration
}

// DefaultBackfillHistoryConfig returns sensible defaults.
func DefaultBackfillHistoryConfig() BackfillHistoryConfig {
	return BackfillHistoryConfig{
		Disciplines: ranking.AllDisciplines(),
		Months:      command.DefaultBackfillMonths,
		Timeout:     2 * time.Hour,
	}
}

// BackfillHistoryJob walks every configured discipline sequentially.
// A discipline locked by a running recalculation is skipped, not failed.
type BackfillHistoryJob struct {
	handler Backfiller
	log     *slog.Logger
	config  BackfillHistoryConfig
}

// NewBackfillHistoryJob creates a new backfill job.
func NewBackfillHistoryJob(handler Backfiller, log *slog.Logger, config BackfillHistoryConfig) *BackfillHistoryJob {
	if len(config.Disciplines) == 0 {
		config.Disciplines = ranking.AllDisciplines()
	}
	return &BackfillHistoryJob{
		handler: handler,
		log:     logger.OrDefault(log).With(logger.Component("job"), "job", "backfill_history"),
		config:  config,
	}
}

// Name returns the job name.
func (j *BackfillHistoryJob) Name() string {
	return "backfill_history"
}

// Description returns a human-readable description.
func (j *BackfillHistoryJob) Description() string {
	return fmt.Sprintf("Fills missing month-start snapshots for the last %d months", j.config.Months)
}

// Run executes the backfill.
func (j *BackfillHistoryJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	var errs []error
	for _, d := range j.config.Disciplines {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := j.handler.Handle(ctx, command.BackfillHistoryCommand{Discipline: d, Months: j.config.Months})
		if shared.IsLocked(err) {
			j.log.Info("discipline busy, backfill skipped", logger.Discipline(d.String()))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}

		j.log.Info("discipline backfilled",
			logger.Discipline(d.String()),
			"computed", len(res.Computed),
			"skipped_existing", len(res.SkippedExisting),
			"skipped_no_data", len(res.SkippedNoData),
		)
		for _, u := range res.Failed() {
			errs = append(errs, fmt.Errorf("%s: %s", u.String(), u.SnapshotDate.Format(time.DateOnly)))
		}
	}
	return errors.Join(errs...)
}
