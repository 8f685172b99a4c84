package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/service"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

var today = timeutil.Date(2024, 7, 20)

func row(rider, event, class, club int64, points float64, date time.Time) ranking.ResultRow {
	clubID := club
	return ranking.ResultRow{
		RiderID:        rider,
		EventID:        event,
		ClassID:        class,
		EventDate:      date,
		Discipline:     ranking.DisciplineEnduro,
		EventLevel:     ranking.EventLevelNational,
		Status:         ranking.StatusFinished,
		Points:         points,
		SeriesEligible: true,
		AwardsPoints:   true,
		ResultClubID:   &clubID,
	}
}

// seededStore: three riders at one national event (field of 3) plus one
// older result for rider 1 fifteen months before the reference date.
func seededStore() *memory.Store {
	store := memory.NewStore()
	store.AddResults(
		row(1, 1, 1, 10, 100, timeutil.Date(2024, 6, 1)),
		row(2, 1, 1, 10, 80, timeutil.Date(2024, 6, 1)),
		row(3, 1, 1, 20, 60, timeutil.Date(2024, 6, 1)),
		row(1, 2, 1, 10, 50, timeutil.Date(2023, 3, 10)),
	)
	return store
}

func newEngine(store *memory.Store) *Engine {
	settings := service.NewSettingsStore(store, logger.Discard(), nil)
	return NewEngine(store, store, settings,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return today }),
	)
}

func TestEngine_CalculateRankingData(t *testing.T) {
	engine := newEngine(seededStore())

	data, err := engine.CalculateRankingData(context.Background(), ranking.DisciplineEnduro, nil)
	require.NoError(t, err)

	assert.Equal(t, timeutil.Date(2024, 6, 1), data.ReferenceDate)
	assert.True(t, data.Window.IsLive())
	require.Len(t, data.Riders, 3)

	assert.Equal(t, int64(1), data.Riders[0].EntityID)
	assert.InDelta(t, 97.75, data.Riders[0].TotalPoints, 1e-9)
	assert.InDelta(t, 79.0, data.Riders[0].Points0To12, 1e-9)
	assert.InDelta(t, 37.5, data.Riders[0].Points13To24, 1e-9)
	assert.Equal(t, 2, data.Riders[0].EventsCount)
	assert.InDelta(t, 63.2, data.Riders[1].TotalPoints, 1e-9)
	assert.InDelta(t, 47.4, data.Riders[2].TotalPoints, 1e-9)

	require.Len(t, data.Clubs, 2)
	assert.Equal(t, int64(10), data.Clubs[0].EntityID)
	assert.InDelta(t, 129.35, data.Clubs[0].TotalPoints, 1e-9)
	assert.Equal(t, 2, data.Clubs[0].RidersCount)
	assert.Equal(t, 2, data.Clubs[0].EventsCount)
	assert.Equal(t, ranking.Rank(2), data.Clubs[1].Rank)
}

func TestEngine_ReferenceDateFallsBackToToday(t *testing.T) {
	store := memory.NewStore()
	engine := newEngine(store)
	assert.Equal(t, today, engine.ReferenceDate(context.Background(), ranking.DisciplineDH))

	store.Faults.LatestEventDate = errors.New("timeout")
	assert.Equal(t, today, engine.ReferenceDate(context.Background(), ranking.DisciplineEnduro))
}

func TestEngine_RejectsInvalidDiscipline(t *testing.T) {
	_, err := newEngine(memory.NewStore()).CalculateRankingData(context.Background(), "XC", nil)
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, ranking.ErrInvalidDiscipline)
}

func TestEngine_ComputeSnapshotsIsIdempotent(t *testing.T) {
	store := seededStore()
	engine := newEngine(store)
	ctx := context.Background()

	first, err := engine.ComputeSnapshots(ctx, ranking.DisciplineEnduro, nil)
	require.NoError(t, err)
	second, err := engine.ComputeSnapshots(ctx, ranking.DisciplineEnduro, nil)
	require.NoError(t, err)

	date := timeutil.Date(2024, 6, 1)
	assert.Equal(t, []time.Time{date}, store.SnapshotDates(ranking.KindRider, ranking.DisciplineEnduro))
	assert.Equal(t, first.Riders.Entries, second.Riders.Entries)
	assert.Equal(t, first.Riders.Entries, store.Snapshot(ranking.KindRider, ranking.DisciplineEnduro, date).Entries)
	assert.Len(t, store.Snapshot(ranking.KindClub, ranking.DisciplineEnduro, date).Entries, 2)

	for _, u := range second.Units {
		assert.False(t, u.Failed())
	}
}

func TestEngine_AggregateDisciplineIncludesMembers(t *testing.T) {
	store := seededStore()
	dh := row(4, 3, 1, 30, 90, timeutil.Date(2024, 5, 5))
	dh.Discipline = ranking.DisciplineDH
	store.AddResults(dh)
	engine := newEngine(store)

	gravity, err := engine.CalculateRankingData(context.Background(), ranking.DisciplineGravity, nil)
	require.NoError(t, err)
	assert.Len(t, gravity.Riders, 4)

	enduro, err := engine.CalculateRankingData(context.Background(), ranking.DisciplineEnduro, nil)
	require.NoError(t, err)
	assert.Len(t, enduro.Riders, 3)
}

func TestEngine_PreviousRanksFailSoft(t *testing.T) {
	store := seededStore()
	store.Faults.PreviousRanks = errors.New("read replica down")
	engine := newEngine(store)

	set, err := engine.ComputeSnapshots(context.Background(), ranking.DisciplineEnduro, nil)
	require.NoError(t, err)

	for _, e := range set.Riders.Entries {
		assert.Nil(t, e.PreviousRank)
		assert.Nil(t, e.RankChange)
	}
	assert.Equal(t, 2, store.Writes)
}

func TestEngine_ResultLoadFailureSavesNothing(t *testing.T) {
	store := seededStore()
	store.Faults.LoadQualifying = errors.New("connection reset")
	engine := newEngine(store)

	_, err := engine.ComputeSnapshots(context.Background(), ranking.DisciplineEnduro, nil)
	require.Error(t, err)
	assert.Zero(t, store.Writes)
}

func TestEngine_ClubFieldSizeCountsClubRidersOnly(t *testing.T) {
	store := memory.NewStore()
	clubless := row(2, 1, 1, 0, 80, timeutil.Date(2024, 6, 1))
	clubless.ResultClubID = nil
	store.AddResults(row(1, 1, 1, 10, 100, timeutil.Date(2024, 6, 1)), clubless)
	engine := newEngine(store)

	data, err := engine.CalculateRankingData(context.Background(), ranking.DisciplineEnduro, nil)
	require.NoError(t, err)

	// гонщики: зачёт из двух участников (×0.77)
	require.Len(t, data.Riders, 2)
	assert.InDelta(t, 77.0, data.Riders[0].TotalPoints, 1e-9)

	// клубы: гонщик без клуба не входит в размер зачёта (×0.75)
	require.Len(t, data.Clubs, 1)
	assert.Equal(t, int64(10), data.Clubs[0].EntityID)
	assert.InDelta(t, 75.0, data.Clubs[0].TotalPoints, 1e-9)
	assert.Equal(t, 1, data.Clubs[0].RidersCount)
}

func TestBackfill_IsNonDestructive(t *testing.T) {
	store := seededStore()
	engine := newEngine(store)
	handler := NewBackfillHistoryHandler(engine, store, store, nil, nil, logger.Discard(), BackfillHistoryConfig{})
	ctx := context.Background()

	res, err := handler.Handle(ctx, BackfillHistoryCommand{Discipline: ranking.DisciplineEnduro})
	require.NoError(t, err)

	// 2024-06 back to 2023-04 have data; 2023-03-01 precedes the oldest event.
	assert.Len(t, res.Computed, 15)
	assert.Len(t, res.SkippedNoData, 9)
	assert.Empty(t, res.Failed())
	assert.Equal(t, 30, store.Writes)

	oldest := store.Snapshot(ranking.KindRider, ranking.DisciplineEnduro, timeutil.Date(2023, 4, 1))
	require.NotNil(t, oldest)
	require.Len(t, oldest.Entries, 1)
	assert.InDelta(t, 37.5, oldest.Entries[0].TotalPoints, 1e-9)

	before := store.Snapshot(ranking.KindRider, ranking.DisciplineEnduro, timeutil.Date(2024, 1, 1))

	again, err := handler.Handle(ctx, BackfillHistoryCommand{Discipline: ranking.DisciplineEnduro})
	require.NoError(t, err)
	assert.Empty(t, again.Computed)
	assert.Len(t, again.SkippedExisting, 15)
	assert.Equal(t, 30, store.Writes)
	assert.Equal(t, before, store.Snapshot(ranking.KindRider, ranking.DisciplineEnduro, timeutil.Date(2024, 1, 1)))
}

func TestBackfill_OnlyMissingKindsAreWritten(t *testing.T) {
	store := seededStore()
	engine := newEngine(store)
	ctx := context.Background()

	month := timeutil.Date(2024, 6, 1)
	_, err := engine.ComputeSnapshots(ctx, ranking.DisciplineEnduro, &month, ranking.KindRider)
	require.NoError(t, err)
	require.Equal(t, 1, store.Writes)

	handler := NewBackfillHistoryHandler(engine, store, store, nil, nil, logger.Discard(), BackfillHistoryConfig{})
	res, err := handler.Handle(ctx, BackfillHistoryCommand{Discipline: ranking.DisciplineEnduro, Months: 1})
	require.NoError(t, err)

	require.Len(t, res.Units, 1)
	assert.Equal(t, ranking.KindClub, res.Units[0].Kind)
	assert.Equal(t, 2, store.Writes)
}

func TestBackfill_ExistenceCheckFailureSkipsMonth(t *testing.T) {
	store := seededStore()
	store.Faults.SnapshotExists = errors.New("timeout")
	handler := NewBackfillHistoryHandler(newEngine(store), store, store, nil, nil, logger.Discard(), BackfillHistoryConfig{Months: 3})

	res, err := handler.Handle(context.Background(), BackfillHistoryCommand{Discipline: ranking.DisciplineEnduro})
	require.NoError(t, err)
	assert.Len(t, res.SkippedExisting, 3)
	assert.Zero(t, store.Writes)
}

func TestBackfill_StopsOnCancel(t *testing.T) {
	store := seededStore()
	handler := NewBackfillHistoryHandler(newEngine(store), store, store, nil, nil, logger.Discard(), BackfillHistoryConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := handler.Handle(ctx, BackfillHistoryCommand{Discipline: ranking.DisciplineEnduro})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Writes)
}

func TestRecalculate_AllDisciplines(t *testing.T) {
	store := seededStore()
	handler := NewRecalculateRankingsHandler(newEngine(store), nil, store, nil, nil, logger.Discard(),
		DefaultRecalculateRankingsConfig())

	report, err := handler.Handle(context.Background(), RecalculateRankingsCommand{Trigger: "test"})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Units, 6)
	assert.Empty(t, report.Failures())

	last, err := store.GetLastCalculation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.RunID)
}

func TestRecalculate_PartialFailure(t *testing.T) {
	store := seededStore()
	store.Faults.ReplaceSnapshot = func(s *ranking.Snapshot) error {
		if s.Kind == ranking.KindClub && s.Discipline == ranking.DisciplineEnduro {
			return errors.New("deadlock detected")
		}
		return nil
	}
	handler := NewRecalculateRankingsHandler(newEngine(store), nil, store, nil, nil, logger.Discard(),
		DefaultRecalculateRankingsConfig())

	report, err := handler.Handle(context.Background(), RecalculateRankingsCommand{})
	require.Error(t, err)
	require.NotNil(t, report)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, ranking.DisciplineEnduro, failures[0].Discipline)
	assert.Equal(t, ranking.KindClub, failures[0].Kind)
	assert.Equal(t, 5, store.Writes)

	_, err = store.GetLastCalculation(context.Background())
	assert.NoError(t, err, "partial runs are still recorded")
}

func TestRecalculate_SkipsLockedDiscipline(t *testing.T) {
	store := seededStore()
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), ranking.DisciplineDH)
	require.NoError(t, err)
	defer unlock()

	handler := NewRecalculateRankingsHandler(newEngine(store), nil, store, locker, nil, logger.Discard(),
		DefaultRecalculateRankingsConfig())

	report, err := handler.Handle(context.Background(), RecalculateRankingsCommand{})
	assert.ErrorIs(t, err, shared.ErrRecalculationLocked)
	assert.Len(t, report.Failures(), 2)
}

func TestRecalculate_AfterBackfillCarriesRankChange(t *testing.T) {
	store := seededStore()
	engine := newEngine(store)
	backfill := NewBackfillHistoryHandler(engine, store, store, nil, nil, logger.Discard(), BackfillHistoryConfig{})
	handler := NewRecalculateRankingsHandler(engine, backfill, store, nil, nil, logger.Discard(),
		RecalculateRankingsConfig{Disciplines: []ranking.Discipline{ranking.DisciplineEnduro}})
	ctx := context.Background()

	_, err := handler.Handle(ctx, RecalculateRankingsCommand{Backfill: true})
	require.NoError(t, err)

	// The backfill runs after the live snapshot, so recompute to pick up May.
	_, err = handler.Handle(ctx, RecalculateRankingsCommand{})
	require.NoError(t, err)

	snap := store.Snapshot(ranking.KindRider, ranking.DisciplineEnduro, timeutil.Date(2024, 6, 1))
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 3)

	top := snap.Entries[0]
	require.NotNil(t, top.PreviousRank)
	assert.Equal(t, ranking.Rank(1), *top.PreviousRank)
	assert.Equal(t, ranking.RankDirectionStable, top.Direction())
	assert.Equal(t, ranking.RankDirectionNew, snap.Entries[1].Direction())
}

func TestRecalculateCommand_Validate(t *testing.T) {
	err := RecalculateRankingsCommand{Disciplines: []ranking.Discipline{"XC"}}.Validate()
	assert.ErrorIs(t, err, ranking.ErrInvalidDiscipline)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, ranking.DisciplineEnduro)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, ranking.DisciplineEnduro)
	assert.ErrorIs(t, err, shared.ErrRecalculationLocked)

	other, err := locker.Lock(ctx, ranking.DisciplineDH)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := locker.Lock(ctx, ranking.DisciplineEnduro)
	require.NoError(t, err)
	again()
}

func TestUpdateSettings(t *testing.T) {
	store := memory.NewStore()
	settings := service.NewSettingsStore(store, logger.Discard(), nil)
	handler := NewUpdateSettingsHandler(settings, logger.Discard())
	ctx := context.Background()

	_, err := handler.Handle(ctx, UpdateSettingsCommand{})
	assert.Error(t, err)

	_, err = handler.Handle(ctx, UpdateSettingsCommand{TimeDecay: &ranking.TimeDecay{Months1To12: -1}})
	assert.Error(t, err)

	decay := ranking.TimeDecay{Months1To12: 1, Months13To24: 0.25}
	res, err := handler.Handle(ctx, UpdateSettingsCommand{TimeDecay: &decay})
	require.NoError(t, err)
	assert.Equal(t, []string{ranking.SettingTimeDecay}, res.Updated)
	assert.Equal(t, decay, settings.GetTimeDecay(ctx))
}
