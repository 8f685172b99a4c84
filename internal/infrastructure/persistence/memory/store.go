// Package memory provides in-process implementations of the ranking
// repositories. It backs unit tests and dry runs that must not touch PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

type snapshotKey struct {
	kind       ranking.EntityKind
	discipline ranking.Discipline
	date       time.Time
}

// Faults injects storage errors. A nil field means the operation succeeds.
type Faults struct {
	LatestEventDate error
	HasResults      error
	LoadQualifying  error
	ReplaceSnapshot func(s *ranking.Snapshot) error
	PreviousRanks   error
	SnapshotExists  error
	SaveCalculation error
}

// Store keeps results, settings and snapshots in memory.
type Store struct {
	mu sync.RWMutex

	rows      []ranking.ResultRow
	settings  map[string]any
	snapshots map[snapshotKey]*ranking.Snapshot
	last      *ranking.CalculationRecord
	names     map[ranking.EntityKind]map[int64]string

	// Writes counts ReplaceSnapshot calls that reached storage.
	Writes int

	Faults Faults
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		settings:  make(map[string]any),
		snapshots: make(map[snapshotKey]*ranking.Snapshot),
		names: map[ranking.EntityKind]map[int64]string{
			ranking.KindRider: {},
			ranking.KindClub:  {},
		},
	}
}

// AddResults appends raw result rows.
func (s *Store) AddResults(rows ...ranking.ResultRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// SetName registers a display name.
func (s *Store) SetName(kind ranking.EntityKind, id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[kind][id] = name
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ══════════════════════════════════════════════════════════════════════════════

func eligible(row ranking.ResultRow, d ranking.Discipline) bool {
	if row.Status != ranking.StatusFinished || !row.ClassEligible() || !d.Includes(row.Discipline) {
		return false
	}
	points, _ := row.BasePoints()
	return points > 0
}

// LatestEventDate implements ranking.ResultRepository.
func (s *Store) LatestEventDate(ctx context.Context, d ranking.Discipline) (time.Time, bool, error) {
	if s.Faults.LatestEventDate != nil {
		return time.Time{}, false, s.Faults.LatestEventDate
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	for _, row := range s.rows {
		if eligible(row, d) && row.EventDate.After(latest) {
			latest = row.EventDate
		}
	}
	return timeutil.DateOf(latest), !latest.IsZero(), nil
}

// HasResultsOnOrBefore implements ranking.ResultRepository.
func (s *Store) HasResultsOnOrBefore(ctx context.Context, d ranking.Discipline, date time.Time) (bool, error) {
	if s.Faults.HasResults != nil {
		return false, s.Faults.HasResults
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if eligible(row, d) && !timeutil.DateOf(row.EventDate).After(timeutil.DateOf(date)) {
			return true, nil
		}
	}
	return false, nil
}

// LoadQualifying implements ranking.ResultRepository.
func (s *Store) LoadQualifying(ctx context.Context, d ranking.Discipline, window ranking.Window) ([]ranking.Result, error) {
	if s.Faults.LoadQualifying != nil {
		return nil, s.Faults.LoadQualifying
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ranking.Result
	for _, row := range s.rows {
		if row.Qualifies(d, window) {
			out = append(out, row.ToResult())
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// LoadFieldMultipliers implements ranking.SettingsRepository.
func (s *Store) LoadFieldMultipliers(ctx context.Context) (ranking.FieldMultipliers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[ranking.SettingFieldMultipliers].(ranking.FieldMultipliers)
	if !ok {
		return nil, ranking.ErrSettingNotFound
	}
	return v, nil
}

// LoadTimeDecay implements ranking.SettingsRepository.
func (s *Store) LoadTimeDecay(ctx context.Context) (ranking.TimeDecay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[ranking.SettingTimeDecay].(ranking.TimeDecay)
	if !ok {
		return ranking.TimeDecay{}, ranking.ErrSettingNotFound
	}
	return v, nil
}

// LoadEventLevelMultipliers implements ranking.SettingsRepository.
func (s *Store) LoadEventLevelMultipliers(ctx context.Context) (ranking.EventLevelMultipliers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[ranking.SettingEventLevelMultipliers].(ranking.EventLevelMultipliers)
	if !ok {
		return nil, ranking.ErrSettingNotFound
	}
	return v, nil
}

// SaveFieldMultipliers implements ranking.SettingsRepository.
func (s *Store) SaveFieldMultipliers(ctx context.Context, fm ranking.FieldMultipliers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[ranking.SettingFieldMultipliers] = fm
	return nil
}

// SaveTimeDecay implements ranking.SettingsRepository.
func (s *Store) SaveTimeDecay(ctx context.Context, td ranking.TimeDecay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[ranking.SettingTimeDecay] = td
	return nil
}

// SaveEventLevelMultipliers implements ranking.SettingsRepository.
func (s *Store) SaveEventLevelMultipliers(ctx context.Context, m ranking.EventLevelMultipliers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[ranking.SettingEventLevelMultipliers] = m
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

func cloneSnapshot(snap *ranking.Snapshot) *ranking.Snapshot {
	c := *snap
	c.Entries = make([]ranking.SnapshotEntry, len(snap.Entries))
	copy(c.Entries, snap.Entries)
	return &c
}

// ReplaceSnapshot implements ranking.SnapshotRepository.
func (s *Store) ReplaceSnapshot(ctx context.Context, snap *ranking.Snapshot) error {
	if s.Faults.ReplaceSnapshot != nil {
		if err := s.Faults.ReplaceSnapshot(snap); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshotKey{snap.Kind, snap.Discipline, timeutil.DateOf(snap.Date)}] = cloneSnapshot(snap)
	s.Writes++
	return nil
}

// Snapshot returns a stored snapshot, or nil.
func (s *Store) Snapshot(kind ranking.EntityKind, d ranking.Discipline, date time.Time) *ranking.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey{kind, d, timeutil.DateOf(date)}]
	if !ok {
		return nil
	}
	return cloneSnapshot(snap)
}

// SnapshotDates returns stored snapshot dates in ascending order.
func (s *Store) SnapshotDates(kind ranking.EntityKind, d ranking.Discipline) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datesLocked(kind, d)
}

func (s *Store) datesLocked(kind ranking.EntityKind, d ranking.Discipline) []time.Time {
	var dates []time.Time
	for k := range s.snapshots {
		if k.kind == kind && k.discipline == d {
			dates = append(dates, k.date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// PreviousRanks implements ranking.SnapshotRepository.
func (s *Store) PreviousRanks(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, before time.Time) (map[int64]ranking.Rank, error) {
	if s.Faults.PreviousRanks != nil {
		return nil, s.Faults.PreviousRanks
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]ranking.Rank)
	dates := s.datesLocked(kind, d)
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i].Before(timeutil.DateOf(before)) {
			for _, e := range s.snapshots[snapshotKey{kind, d, dates[i]}].Entries {
				out[e.EntityID] = e.Rank
			}
			break
		}
	}
	return out, nil
}

// SnapshotExists implements ranking.SnapshotRepository.
func (s *Store) SnapshotExists(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, date time.Time) (bool, error) {
	if s.Faults.SnapshotExists != nil {
		return false, s.Faults.SnapshotExists
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[snapshotKey{kind, d, timeutil.DateOf(date)}]
	return ok, nil
}

// LatestSnapshotDate implements ranking.SnapshotRepository.
func (s *Store) LatestSnapshotDate(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dates := s.datesLocked(kind, d)
	if len(dates) == 0 {
		return time.Time{}, false, nil
	}
	return dates[len(dates)-1], true, nil
}

// GetPage implements ranking.SnapshotRepository.
func (s *Store) GetPage(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, date time.Time, offset, limit int) ([]ranking.SnapshotEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey{kind, d, timeutil.DateOf(date)}]
	if !ok {
		return nil, 0, ranking.ErrSnapshotNotFound
	}
	total := len(snap.Entries)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]ranking.SnapshotEntry, end-offset)
	copy(out, snap.Entries[offset:end])
	return out, total, nil
}

// GetHistory implements ranking.SnapshotRepository.
func (s *Store) GetHistory(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, entityID int64) ([]ranking.HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ranking.HistoryPoint
	for _, date := range s.datesLocked(kind, d) {
		for _, e := range s.snapshots[snapshotKey{kind, d, date}].Entries {
			if e.EntityID == entityID {
				out = append(out, ranking.HistoryPoint{
					Date:        date,
					Rank:        e.Rank,
					TotalPoints: e.TotalPoints,
					RankChange:  e.RankChange,
				})
				break
			}
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATIONS & NAMES
// ══════════════════════════════════════════════════════════════════════════════

// SaveLastCalculation implements ranking.CalculationRepository.
func (s *Store) SaveLastCalculation(ctx context.Context, record ranking.CalculationRecord) error {
	if s.Faults.SaveCalculation != nil {
		return s.Faults.SaveCalculation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := record
	s.last = &r
	return nil
}

// GetLastCalculation implements ranking.CalculationRepository.
func (s *Store) GetLastCalculation(ctx context.Context) (*ranking.CalculationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, ranking.ErrNoCalculation
	}
	r := *s.last
	return &r, nil
}

// Names implements ranking.NameDirectory.
func (s *Store) Names(ctx context.Context, kind ranking.EntityKind, ids []int64) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if n, ok := s.names[kind][id]; ok {
			out[id] = n
		}
	}
	return out, nil
}
