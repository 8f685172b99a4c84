package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/postgres"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// startPostgres runs a throwaway PostgreSQL container with all migrations applied.
func startPostgres(t *testing.T) *postgres.Connection {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: requires docker")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("ranking"),
		tcpostgres.WithUsername("ranking"),
		tcpostgres.WithPassword("ranking"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := postgres.NewConnectionFromURL(ctx, dsn, postgres.DefaultPoolOptions())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	applied, err := postgres.NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	require.Len(t, applied, len(postgres.GetMigrations()))
	return conn
}

func seedResults(t *testing.T, conn *postgres.Connection) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO clubs (id, name) VALUES (10, 'Trail Dogs'), (20, 'Rock Garden')`,
		`INSERT INTO riders (id, first_name, last_name, club_id) VALUES
			(1, 'Anna', 'Berg', 10), (2, 'Erik', 'Lund', 10), (3, 'Maja', 'Holm', 20), (4, 'Olof', 'Sand', 20)`,
		`INSERT INTO classes (id, name, series_eligible, awards_points) VALUES
			(1, 'Elite', TRUE, TRUE), (2, 'Fun', TRUE, FALSE)`,
		`INSERT INTO events (id, date, discipline, event_level) VALUES
			(1, '2024-06-01', 'ENDURO', 'national'),
			(2, '2023-03-10', 'ENDURO', 'national'),
			(3, '2024-05-05', 'DH', 'national')`,
		`INSERT INTO results (event_id, rider_id, class_id, club_id, status, points, run_1_points, run_2_points) VALUES
			(1, 1, 1, 10, 'finished', 100, NULL, NULL),
			(1, 2, 1, 10, 'finished', 80, NULL, NULL),
			(1, 3, 1, 20, 'finished', 60, NULL, NULL),
			(1, 4, 1, 20, 'dnf', 90, NULL, NULL),
			(1, 4, 2, 20, 'finished', 90, NULL, NULL),
			(2, 1, 1, 10, 'finished', 50, NULL, NULL),
			(3, 3, 1, NULL, 'finished', 0, 30, 40)`,
	}
	for _, s := range stmts {
		_, err := conn.Exec(ctx, s)
		require.NoError(t, err)
	}
}

func TestResultRepository_Integration(t *testing.T) {
	conn := startPostgres(t)
	seedResults(t, conn)
	ctx := context.Background()
	repo := postgres.NewResultRepository(conn)

	latest, ok, err := repo.LatestEventDate(ctx, ranking.DisciplineEnduro)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, timeutil.Date(2024, 6, 1), latest)

	latest, ok, err = repo.LatestEventDate(ctx, ranking.DisciplineGravity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, timeutil.Date(2024, 6, 1), latest)

	has, err := repo.HasResultsOnOrBefore(ctx, ranking.DisciplineEnduro, timeutil.Date(2023, 3, 9))
	require.NoError(t, err)
	assert.False(t, has)

	window := ranking.NewWindow(latest, nil)
	results, err := repo.LoadQualifying(ctx, ranking.DisciplineEnduro, window)
	require.NoError(t, err)
	require.Len(t, results, 4, "dnf and non-points classes are excluded")

	dh, err := repo.LoadQualifying(ctx, ranking.DisciplineDH, ranking.NewWindow(timeutil.Date(2024, 5, 5), nil))
	require.NoError(t, err)
	require.Len(t, dh, 1)
	assert.InDelta(t, 70.0, dh[0].BasePoints, 1e-9, "run points take precedence over the points field")
	assert.Equal(t, int64(20), dh[0].ClubID, "rider club is the fallback")
}

func TestSnapshotRepository_Integration(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()
	repo := postgres.NewSnapshotRepository(conn)
	date := timeutil.Date(2024, 6, 1)

	standings := []ranking.Standing{
		{EntityID: 1, TotalPoints: 97.75, EventsCount: 2},
		{EntityID: 2, TotalPoints: 63.2, EventsCount: 1},
		{EntityID: 3, TotalPoints: 63.2, EventsCount: 1},
	}
	snap, err := ranking.NewSnapshot(ranking.KindRider, ranking.DisciplineEnduro, date, ranking.RankStandings(standings))
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceSnapshot(ctx, snap))

	// Replacing the same date must not duplicate rows.
	require.NoError(t, repo.ReplaceSnapshot(ctx, snap))

	entries, total, err := repo.GetPage(ctx, ranking.KindRider, ranking.DisciplineEnduro, date, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, ranking.Rank(1), entries[0].Rank)
	assert.Equal(t, ranking.Rank(2), entries[1].Rank)
	assert.Nil(t, entries[0].PreviousRank)

	exists, err := repo.SnapshotExists(ctx, ranking.KindRider, ranking.DisciplineEnduro, date)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.SnapshotExists(ctx, ranking.KindClub, ranking.DisciplineEnduro, date)
	require.NoError(t, err)
	assert.False(t, exists)

	prev, err := repo.PreviousRanks(ctx, ranking.KindRider, ranking.DisciplineEnduro, date.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, map[int64]ranking.Rank{1: 1, 2: 2, 3: 2}, prev)

	prev, err = repo.PreviousRanks(ctx, ranking.KindRider, ranking.DisciplineEnduro, date)
	require.NoError(t, err)
	assert.Empty(t, prev)

	latest, ok, err := repo.LatestSnapshotDate(ctx, ranking.KindRider, ranking.DisciplineEnduro)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, date, latest)

	_, _, err = repo.GetPage(ctx, ranking.KindRider, ranking.DisciplineDH, date, 0, 10)
	assert.ErrorIs(t, err, ranking.ErrSnapshotNotFound)

	history, err := repo.GetHistory(ctx, ranking.KindRider, ranking.DisciplineEnduro, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 97.75, history[0].TotalPoints, 1e-9)
}

func TestSettingsAndCalculationRepositories_Integration(t *testing.T) {
	conn := startPostgres(t)
	ctx := context.Background()

	settings := postgres.NewSettingsRepository(conn)
	_, err := settings.LoadTimeDecay(ctx)
	assert.ErrorIs(t, err, ranking.ErrSettingNotFound)

	td := ranking.TimeDecay{Months1To12: 1, Months13To24: 0.4, Months25Plus: 0}
	require.NoError(t, settings.SaveTimeDecay(ctx, td))
	got, err := settings.LoadTimeDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, td, got)

	fm := ranking.DefaultFieldMultipliers()
	require.NoError(t, settings.SaveFieldMultipliers(ctx, fm))
	gotFM, err := settings.LoadFieldMultipliers(ctx)
	require.NoError(t, err)
	assert.Equal(t, fm, gotFM)

	calcs := postgres.NewCalculationRepository(conn)
	_, err = calcs.GetLastCalculation(ctx)
	assert.ErrorIs(t, err, ranking.ErrNoCalculation)

	runID := uuid.NewString()
	report := ranking.RunReport{RunID: runID}
	report.Add(ranking.NewUnitReport(ranking.DisciplineEnduro, ranking.KindRider,
		timeutil.Date(2024, 6, 1), timeutil.Date(2024, 6, 1), 3, nil))
	at := time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, calcs.SaveLastCalculation(ctx, ranking.CalculationRecord{RunID: runID, CalculatedAt: at, Report: report}))

	record, err := calcs.GetLastCalculation(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, record.RunID)
	assert.True(t, at.Equal(record.CalculatedAt))
	assert.Equal(t, 3, record.Report.TotalSaved())
}

func TestDirectoryRepository_Integration(t *testing.T) {
	conn := startPostgres(t)
	seedResults(t, conn)
	dir := postgres.NewDirectoryRepository(conn)

	riders, err := dir.Names(context.Background(), ranking.KindRider, []int64{1, 3, 99})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "Anna Berg", 3: "Maja Holm"}, riders)

	clubs, err := dir.Names(context.Background(), ranking.KindClub, []int64{10})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{10: "Trail Dogs"}, clubs)
}
