// Package command contains write operations (CQRS - Commands).
// Commands compute rankings from race results and persist dated snapshots.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
	"github.com/gravityseries/ranking-hub/pkg/tracing"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING ENGINE
// Runs the ranking pipeline for one discipline:
// reference date → qualifying results → field sizes → weighted points →
// rank assignment → snapshot.
// The engine does not serialize writers; callers hold a per-discipline lock.
// ══════════════════════════════════════════════════════════════════════════════

// SettingsProvider returns the multiplier tables frozen for one run.
type SettingsProvider interface {
	Snapshot(ctx context.Context) ranking.Settings
}

// RankingData is the in-memory result of one pipeline run.
type RankingData struct {
	Discipline    ranking.Discipline
	ReferenceDate time.Time
	Window        ranking.Window
	Settings      ranking.Settings

	// Riders and Clubs are sorted and ranked.
	Riders []ranking.Standing
	Clubs  []ranking.Standing

	// Contributions holds the weighted rider population, one per qualifying result.
	Contributions []ranking.Contribution
}

// SnapshotSet is what ComputeSnapshots produced for one discipline.
// Snapshots are built even when saving them failed; Units tells which writes succeeded.
type SnapshotSet struct {
	Data   *RankingData
	Riders *ranking.Snapshot
	Clubs  *ranking.Snapshot
	Units  []ranking.UnitReport
}

// Snapshot returns the snapshot of the given kind.
func (s *SnapshotSet) Snapshot(kind ranking.EntityKind) *ranking.Snapshot {
	if kind == ranking.KindClub {
		return s.Clubs
	}
	return s.Riders
}

// Engine computes rankings and writes snapshots.
type Engine struct {
	results   ranking.ResultRepository
	snapshots ranking.SnapshotRepository
	settings  SettingsProvider
	cache     ranking.PageCache
	metrics   *metrics.Metrics
	log       *slog.Logger
	today     func() time.Time
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithPageCache invalidates cached pages after every snapshot write.
func WithPageCache(c ranking.PageCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics records snapshot writes.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides how "today" is resolved.
func WithClock(today func() time.Time) EngineOption {
	return func(e *Engine) { e.today = today }
}

// NewEngine creates a ranking engine.
func NewEngine(
	results ranking.ResultRepository,
	snapshots ranking.SnapshotRepository,
	settings SettingsProvider,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		results:   results,
		snapshots: snapshots,
		settings:  settings,
		today:     timeutil.Today,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrDefault(e.log).With(logger.Component("ranking_engine"))
	return e
}

// ReferenceDate returns the latest event date with qualifying results for the
// discipline, or today when there is none. It never fails.
func (e *Engine) ReferenceDate(ctx context.Context, d ranking.Discipline) time.Time {
	date, ok, err := e.results.LatestEventDate(ctx, d)
	if err != nil {
		e.log.Warn("reference date lookup failed, using today",
			logger.Discipline(d.String()), logger.Err(err))
		return e.today()
	}
	if !ok {
		return e.today()
	}
	return timeutil.DateOf(date)
}

// CalculateRankingData runs the pipeline without writing anything.
// asOf == nil computes the live ranking (reference = latest event date, open
// window); otherwise asOf is both the reference date and the window end.
func (e *Engine) CalculateRankingData(ctx context.Context, d ranking.Discipline, asOf *time.Time) (data *RankingData, err error) {
	if !d.IsValid() {
		return nil, shared.WrapError("ranking", "Calculate", shared.ErrInvalidInput, "invalid discipline", ranking.ErrInvalidDiscipline)
	}

	ctx, end := tracing.StartSpan(ctx, "ranking.calculate",
		attribute.String("discipline", d.String()),
		attribute.Bool("historical", asOf != nil),
	)
	defer func() { end(err) }()

	var reference time.Time
	if asOf != nil {
		reference = timeutil.DateOf(*asOf)
	} else {
		reference = e.ReferenceDate(ctx, d)
	}
	window := ranking.NewWindow(reference, asOf)
	settings := e.settings.Snapshot(ctx)

	results, err := e.results.LoadQualifying(ctx, d, window)
	if err != nil {
		return nil, fmt.Errorf("load qualifying results for %s: %w", d, err)
	}

	calc := ranking.NewCalculator(settings, reference)
	contributions := calc.WeighAll(results)
	clubContributions := calc.WeighAll(ranking.ClubResults(results))

	data = &RankingData{
		Discipline:    d,
		ReferenceDate: reference,
		Window:        window,
		Settings:      settings,
		Riders:        ranking.RankStandings(ranking.AggregateRiders(contributions)),
		Clubs:         ranking.RankStandings(ranking.AggregateClubs(clubContributions)),
		Contributions: contributions,
	}

	tracing.SetAttributes(ctx,
		attribute.String("reference_date", timeutil.FormatDate(reference)),
		attribute.Int("results", len(results)),
		attribute.Int("riders", len(data.Riders)),
		attribute.Int("clubs", len(data.Clubs)),
	)
	return data, nil
}

// SaveSnapshot persists a ranked list as the snapshot for (kind, discipline, date).
// Previous ranks come from the latest snapshot strictly before date; when that
// read fails every entity is treated as new. Existing rows for the same date
// are replaced atomically. Write failures are returned.
func (e *Engine) SaveSnapshot(
	ctx context.Context,
	kind ranking.EntityKind,
	d ranking.Discipline,
	date time.Time,
	ranked []ranking.Standing,
) (snap *ranking.Snapshot, err error) {
	ctx, end := tracing.StartSpan(ctx, "ranking.save_snapshot",
		attribute.String("discipline", d.String()),
		attribute.String("kind", kind.String()),
		attribute.String("snapshot_date", timeutil.FormatDate(date)),
	)
	defer func() { end(err) }()

	snap, err = ranking.NewSnapshot(kind, d, date, ranked)
	if err != nil {
		return nil, err
	}

	previous, prevErr := e.snapshots.PreviousRanks(ctx, kind, d, snap.Date)
	if prevErr != nil {
		e.log.Warn("previous ranks unavailable, treating all entries as new",
			logger.Discipline(d.String()), logger.Kind(kind.String()),
			logger.SnapshotDate(snap.Date), logger.Err(prevErr))
		previous = nil
	}
	snap.ApplyPreviousRanks(previous)

	err = e.snapshots.ReplaceSnapshot(ctx, snap)
	e.metrics.ObserveSnapshot(d.String(), kind.String(), snap.Len(), err)
	if err != nil {
		return snap, shared.WrapError("snapshot", "Save", shared.ErrStorage,
			fmt.Sprintf("%s %s %s", d, kind, timeutil.FormatDate(snap.Date)), err)
	}

	if e.cache != nil {
		if cerr := e.cache.Invalidate(ctx, d); cerr != nil {
			e.log.Warn("failed to invalidate ranking page cache",
				logger.Discipline(d.String()), logger.Err(cerr))
		}
	}

	e.log.Debug("snapshot saved",
		logger.Discipline(d.String()), logger.Kind(kind.String()),
		logger.SnapshotDate(snap.Date), slog.Int("rows", snap.Len()))
	return snap, nil
}

// ComputeSnapshots computes the ranking for one discipline and saves the
// requested kinds (both when none are given). The snapshot date is the
// reference date of the run. A returned error means nothing could be computed;
// write failures are reported per unit in the set.
func (e *Engine) ComputeSnapshots(
	ctx context.Context,
	d ranking.Discipline,
	asOf *time.Time,
	kinds ...ranking.EntityKind,
) (*SnapshotSet, error) {
	data, err := e.CalculateRankingData(ctx, d, asOf)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = []ranking.EntityKind{ranking.KindRider, ranking.KindClub}
	}

	set := &SnapshotSet{Data: data}
	for _, kind := range kinds {
		ranked := data.Riders
		if kind == ranking.KindClub {
			ranked = data.Clubs
		}

		snap, err := e.SaveSnapshot(ctx, kind, d, data.ReferenceDate, ranked)
		if kind == ranking.KindClub {
			set.Clubs = snap
		} else {
			set.Riders = snap
		}

		saved := 0
		if snap != nil {
			saved = snap.Len()
		}
		if err != nil {
			e.log.Error("snapshot write failed",
				logger.Discipline(d.String()), logger.Kind(kind.String()),
				logger.SnapshotDate(data.ReferenceDate), logger.Err(err))
		}
		set.Units = append(set.Units, ranking.NewUnitReport(d, kind, data.ReferenceDate, data.ReferenceDate, saved, err))
	}
	return set, nil
}
