package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

type recalculatorFunc func(ctx context.Context, cmd command.RecalculateRankingsCommand) (*ranking.RunReport, error)

func (f recalculatorFunc) Handle(ctx context.Context, cmd command.RecalculateRankingsCommand) (*ranking.RunReport, error) {
	return f(ctx, cmd)
}

type backfillerFunc func(ctx context.Context, cmd command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error)

func (f backfillerFunc) Handle(ctx context.Context, cmd command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error) {
	return f(ctx, cmd)
}

func TestRecalculateRankingsJob_Run(t *testing.T) {
	var got command.RecalculateRankingsCommand
	handler := recalculatorFunc(func(ctx context.Context, cmd command.RecalculateRankingsCommand) (*ranking.RunReport, error) {
		got = cmd
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return &ranking.RunReport{RunID: "run-1"}, nil
	})

	job := NewRecalculateRankingsJob(handler, logger.Discard(), RecalculateRankingsConfig{
		Disciplines: []ranking.Discipline{ranking.DisciplineDH},
		Backfill:    true,
		Timeout:     time.Minute,
	})

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "recalculate_rankings", job.Name())
	assert.Equal(t, []ranking.Discipline{ranking.DisciplineDH}, got.Disciplines)
	assert.True(t, got.Backfill)
	assert.Equal(t, "scheduler", got.Trigger)
	require.NotNil(t, job.LastReport())
	assert.Equal(t, "run-1", job.LastReport().RunID)
}

func TestRecalculateRankingsJob_PartialFailureKeepsReport(t *testing.T) {
	handler := recalculatorFunc(func(context.Context, command.RecalculateRankingsCommand) (*ranking.RunReport, error) {
		report := &ranking.RunReport{RunID: "run-2"}
		report.Add(ranking.NewUnitReport(ranking.DisciplineDH, ranking.KindClub,
			timeutil.Date(2024, 6, 1), timeutil.Date(2024, 6, 1), 0, errors.New("tx aborted")))
		return report, report.Err()
	})

	job := NewRecalculateRankingsJob(handler, logger.Discard(), DefaultRecalculateRankingsConfig())
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tx aborted")
	assert.Len(t, job.LastReport().Failures(), 1)
}

func TestBackfillHistoryJob_Run(t *testing.T) {
	var seen []ranking.Discipline
	handler := backfillerFunc(func(_ context.Context, cmd command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error) {
		seen = append(seen, cmd.Discipline)
		assert.Equal(t, 6, cmd.Months)
		switch cmd.Discipline {
		case ranking.DisciplineDH:
			return nil, shared.ErrRecalculationLocked
		case ranking.DisciplineGravity:
			date := timeutil.Date(2024, 5, 1)
			return &command.BackfillHistoryResult{
				Discipline: cmd.Discipline,
				Units: []ranking.UnitReport{
					ranking.NewUnitReport(cmd.Discipline, ranking.KindRider, date, date, 0, errors.New("disk full")),
				},
			}, nil
		}
		return &command.BackfillHistoryResult{Discipline: cmd.Discipline, Computed: []time.Time{timeutil.Date(2024, 6, 1)}}, nil
	})

	job := NewBackfillHistoryJob(handler, logger.Discard(), BackfillHistoryConfig{Months: 6})
	err := job.Run(context.Background())

	assert.Equal(t, ranking.AllDisciplines(), seen)
	require.Error(t, err, "failed units surface as a job error")
	assert.Contains(t, err.Error(), "disk full")
	assert.NotContains(t, err.Error(), "DH", "a locked discipline is skipped")
}

func TestBackfillHistoryJob_Cancelled(t *testing.T) {
	handler := backfillerFunc(func(context.Context, command.BackfillHistoryCommand) (*command.BackfillHistoryResult, error) {
		t.Fatal("handler must not run after cancellation")
		return nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewBackfillHistoryJob(handler, logger.Discard(), DefaultBackfillHistoryConfig())
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
}
