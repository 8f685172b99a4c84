package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/retry"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY IMPLEMENTATION
// Rider snapshots live in ranking_snapshots, club snapshots in
// club_ranking_snapshots. Both share the same layout apart from the id column
// and riders_count.
// ══════════════════════════════════════════════════════════════════════════════

type snapshotTable struct {
	name     string
	idColumn string
	isClub   bool
}

var (
	riderSnapshots = snapshotTable{name: "ranking_snapshots", idColumn: "rider_id"}
	clubSnapshots  = snapshotTable{name: "club_ranking_snapshots", idColumn: "club_id", isClub: true}
)

func tableFor(kind ranking.EntityKind) snapshotTable {
	if kind == ranking.KindClub {
		return clubSnapshots
	}
	return riderSnapshots
}

func (t snapshotTable) insertSQL() string {
	if t.isClub {
		return fmt.Sprintf(`
			INSERT INTO %s (%s, discipline, snapshot_date, total_points, points_0_12, points_13_24,
			                events_count, riders_count, ranking_position, previous_position, position_change)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, t.name, t.idColumn)
	}
	return fmt.Sprintf(`
		INSERT INTO %s (%s, discipline, snapshot_date, total_points, points_0_12, points_13_24,
		                events_count, ranking_position, previous_position, position_change)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, t.name, t.idColumn)
}

func (t snapshotTable) ridersColumn() string {
	if t.isClub {
		return "riders_count"
	}
	return "0"
}

// SnapshotRepository implements ranking.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewSnapshotRepository creates a new SnapshotRepository.
// Snapshot replacement is retried on transient database errors; every retry
// is recorded as an event on the replace span.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient, retry.WithOnRetry(recordRetry)),
	}
}

func recordRetry(ctx context.Context, attempt int, err error, delay time.Duration) {
	tracing.AddEvent(ctx, "db.retry",
		attribute.Int("attempt", attempt),
		attribute.String("error", err.Error()),
		attribute.Int64("delay_ms", delay.Milliseconds()),
	)
}

// ─────────────────────────────────────────────────────────────────────────────
// WRITE
// ─────────────────────────────────────────────────────────────────────────────

// ReplaceSnapshot deletes all rows of (kind, discipline, date) and inserts the
// snapshot in one transaction. Readers never see a half-written date.
func (r *SnapshotRepository) ReplaceSnapshot(ctx context.Context, snap *ranking.Snapshot) (err error) {
	t := tableFor(snap.Kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "replace")
	defer func() { end(err) }()

	date := timeutil.DateOf(snap.Date)
	discipline := snap.Discipline.String()

	return r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE discipline = $1 AND snapshot_date = $2`, t.name),
				discipline, date)
			if err != nil {
				return fmt.Errorf("failed to delete snapshot rows: %w", err)
			}
			if len(snap.Entries) == 0 {
				return nil
			}

			insert := t.insertSQL()
			batch := &pgx.Batch{}
			for _, e := range snap.Entries {
				var prev, change *int
				if e.PreviousRank != nil {
					p := int(*e.PreviousRank)
					prev = &p
				}
				if e.RankChange != nil {
					c := int(*e.RankChange)
					change = &c
				}
				if t.isClub {
					batch.Queue(insert, e.EntityID, discipline, date, e.TotalPoints, e.Points0To12, e.Points13To24,
						e.EventsCount, e.RidersCount, int(e.Rank), prev, change)
				} else {
					batch.Queue(insert, e.EntityID, discipline, date, e.TotalPoints, e.Points0To12, e.Points13To24,
						e.EventsCount, int(e.Rank), prev, change)
				}
			}

			br := tx.SendBatch(ctx, batch)
			for range snap.Entries {
				if _, err := br.Exec(); err != nil {
					_ = br.Close()
					return fmt.Errorf("failed to insert snapshot row: %w", err)
				}
			}
			return br.Close()
		})
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// READ
// ─────────────────────────────────────────────────────────────────────────────

// PreviousRanks returns ranks from the latest snapshot strictly before date.
func (r *SnapshotRepository) PreviousRanks(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, before time.Time) (ranks map[int64]ranking.Rank, err error) {
	t := tableFor(kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "previous_ranks")
	defer func() { end(err) }()

	rows, err := r.conn.Query(ctx, fmt.Sprintf(`
		SELECT %[2]s, ranking_position
		FROM %[1]s
		WHERE discipline = $1
		  AND snapshot_date = (
		      SELECT MAX(snapshot_date) FROM %[1]s
		      WHERE discipline = $1 AND snapshot_date < $2
		  )`, t.name, t.idColumn),
		d.String(), timeutil.DateOf(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query previous ranks: %w", err)
	}
	defer rows.Close()

	ranks = make(map[int64]ranking.Rank)
	for rows.Next() {
		var id int64
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan previous rank: %w", err)
		}
		ranks[id] = ranking.Rank(pos)
	}
	return ranks, rows.Err()
}

// SnapshotExists reports whether a snapshot exists for the date.
func (r *SnapshotRepository) SnapshotExists(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, date time.Time) (exists bool, err error) {
	t := tableFor(kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "exists")
	defer func() { end(err) }()

	err = r.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE discipline = $1 AND snapshot_date = $2)`, t.name),
		d.String(), timeutil.DateOf(date),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot: %w", err)
	}
	return exists, nil
}

// LatestSnapshotDate returns the newest snapshot date.
func (r *SnapshotRepository) LatestSnapshotDate(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline) (date time.Time, ok bool, err error) {
	t := tableFor(kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "latest_date")
	defer func() { end(err) }()

	var latest *time.Time
	err = r.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT MAX(snapshot_date) FROM %s WHERE discipline = $1`, t.name),
		d.String(),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return timeutil.DateOf(*latest), true, nil
}

// GetPage returns snapshot rows ordered by rank and the total row count.
func (r *SnapshotRepository) GetPage(
	ctx context.Context,
	kind ranking.EntityKind,
	d ranking.Discipline,
	date time.Time,
	offset, limit int,
) (entries []ranking.SnapshotEntry, total int, err error) {
	t := tableFor(kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "page")
	defer func() { end(err) }()

	date = timeutil.DateOf(date)
	err = r.conn.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE discipline = $1 AND snapshot_date = $2`, t.name),
		d.String(), date,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count snapshot rows: %w", err)
	}
	if total == 0 {
		return nil, 0, ranking.ErrSnapshotNotFound
	}

	rows, err := r.conn.Query(ctx, fmt.Sprintf(`
		SELECT %s, total_points, points_0_12, points_13_24, events_count, %s,
		       ranking_position, previous_position, position_change
		FROM %s
		WHERE discipline = $1 AND snapshot_date = $2
		ORDER BY ranking_position, %s
		LIMIT $3 OFFSET $4`, t.idColumn, t.ridersColumn(), t.name, t.idColumn),
		d.String(), date, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query snapshot page: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e            ranking.SnapshotEntry
			pos          int
			prev, change *int
		)
		if err := rows.Scan(&e.EntityID, &e.TotalPoints, &e.Points0To12, &e.Points13To24,
			&e.EventsCount, &e.RidersCount, &pos, &prev, &change); err != nil {
			return nil, 0, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e.Rank = ranking.Rank(pos)
		if prev != nil {
			p := ranking.Rank(*prev)
			e.PreviousRank = &p
		}
		if change != nil {
			c := ranking.RankChange(*change)
			e.RankChange = &c
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetHistory returns every snapshot of one entity ordered by date.
func (r *SnapshotRepository) GetHistory(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, entityID int64) (points []ranking.HistoryPoint, err error) {
	t := tableFor(kind)
	ctx, end := tracing.StartDBSpan(ctx, t.name, "history")
	defer func() { end(err) }()

	rows, err := r.conn.Query(ctx, fmt.Sprintf(`
		SELECT snapshot_date, ranking_position, total_points, position_change
		FROM %s
		WHERE %s = $1 AND discipline = $2
		ORDER BY snapshot_date`, t.name, t.idColumn),
		entityID, d.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      ranking.HistoryPoint
			pos    int
			change *int
		)
		if err := rows.Scan(&p.Date, &pos, &p.TotalPoints, &change); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		p.Date = timeutil.DateOf(p.Date)
		p.Rank = ranking.Rank(pos)
		if change != nil {
			c := ranking.RankChange(*change)
			p.RankChange = &c
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
