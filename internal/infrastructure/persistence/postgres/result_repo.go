package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT REPOSITORY IMPLEMENTATION (read-only)
// ══════════════════════════════════════════════════════════════════════════════

// qualifyingFilter is shared by every result query. $1 is the discipline list.
// The points check is coarse; ResultRow.Qualifies makes the final decision.
const qualifyingFilter = `
	r.status = 'finished'
	AND c.series_eligible AND c.awards_points
	AND e.discipline = ANY($1)
	AND (r.points > 0 OR COALESCE(r.run_1_points, 0) > 0 OR COALESCE(r.run_2_points, 0) > 0)`

const resultJoins = `
	FROM results r
	JOIN events e ON e.id = r.event_id
	JOIN classes c ON c.id = r.class_id
	LEFT JOIN riders rd ON rd.id = r.rider_id`

// ResultRepository implements ranking.ResultRepository for PostgreSQL.
type ResultRepository struct {
	conn Querier
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(conn Querier) *ResultRepository {
	return &ResultRepository{conn: conn}
}

// LatestEventDate returns the latest event date with a qualifying result.
func (r *ResultRepository) LatestEventDate(ctx context.Context, d ranking.Discipline) (date time.Time, ok bool, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "results", "latest_event_date")
	defer func() { end(err) }()

	var latest *time.Time
	err = r.conn.QueryRow(ctx, `SELECT MAX(e.date)`+resultJoins+` WHERE`+qualifyingFilter,
		d.MemberStrings(),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest event date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return timeutil.DateOf(*latest), true, nil
}

// HasResultsOnOrBefore reports whether any qualifying result exists up to date.
func (r *ResultRepository) HasResultsOnOrBefore(ctx context.Context, d ranking.Discipline, date time.Time) (exists bool, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "results", "has_results_on_or_before")
	defer func() { end(err) }()

	err = r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1`+resultJoins+` WHERE`+qualifyingFilter+` AND e.date <= $2)`,
		d.MemberStrings(), timeutil.DateOf(date),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check results before %s: %w", timeutil.FormatDate(date), err)
	}
	return exists, nil
}

// LoadQualifying loads qualifying results of the discipline inside the window.
// Rows are ordered so that identical inputs always produce identical output.
func (r *ResultRepository) LoadQualifying(ctx context.Context, d ranking.Discipline, window ranking.Window) (results []ranking.Result, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "results", "load_qualifying")
	defer func() { end(err) }()

	rows, err := r.conn.Query(ctx, `
		SELECT r.rider_id, r.event_id, r.class_id, e.date, e.discipline, e.event_level,
		       r.status, r.run_1_points, r.run_2_points, r.points,
		       c.series_eligible, c.awards_points, r.club_id, rd.club_id`+
		resultJoins+`
		WHERE`+qualifyingFilter+`
		  AND e.date >= $2
		  AND ($3::date IS NULL OR e.date <= $3)
		ORDER BY e.date, r.event_id, r.class_id, r.rider_id`,
		d.MemberStrings(), window.Start, window.End,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query qualifying results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row               ranking.ResultRow
			discipline, state string
		)
		if err := rows.Scan(
			&row.RiderID, &row.EventID, &row.ClassID, &row.EventDate, &discipline, &row.EventLevel,
			&state, &row.Run1Points, &row.Run2Points, &row.Points,
			&row.SeriesEligible, &row.AwardsPoints, &row.ResultClubID, &row.RiderClubID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		row.Discipline = ranking.Discipline(discipline)
		row.Status = ranking.ResultStatus(state)

		if row.Qualifies(d, window) {
			results = append(results, row.ToResult())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}
