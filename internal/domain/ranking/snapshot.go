package ranking

import (
	"fmt"
	"time"

	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotEntry - одна строка датированного снапшота рейтинга.
// Для гонщиков RidersCount всегда 0.
type SnapshotEntry struct {
	EntityID int64

	TotalPoints  float64
	Points0To12  float64
	Points13To24 float64
	EventsCount  int
	RidersCount  int

	Rank Rank

	// PreviousRank - место в последнем снапшоте до этой даты (nil - не было).
	PreviousRank *Rank

	// RankChange = PreviousRank - Rank (nil, если предыдущего места нет).
	RankChange *RankChange
}

// Direction возвращает направление изменения места.
func (e SnapshotEntry) Direction() RankDirection {
	if e.RankChange == nil {
		return RankDirectionNew
	}
	return e.RankChange.Direction()
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - рейтинг одной дисциплины на дату.
// Одна строка на (сущность, дисциплина, дата). Повторный расчёт за ту же дату
// полностью заменяет строки.
type Snapshot struct {
	Kind       EntityKind
	Discipline Discipline
	Date       time.Time
	Entries    []SnapshotEntry
}

// NewSnapshot строит снапшот из ранжированного списка.
func NewSnapshot(kind EntityKind, discipline Discipline, date time.Time, ranked []Standing) (*Snapshot, error) {
	if date.IsZero() {
		return nil, ErrInvalidSnapshotDate
	}
	if !discipline.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDiscipline, discipline)
	}

	entries := make([]SnapshotEntry, 0, len(ranked))
	for _, s := range ranked {
		if !s.Rank.IsValid() {
			return nil, fmt.Errorf("entity %d: %w", s.EntityID, ErrInvalidRank)
		}
		entries = append(entries, SnapshotEntry{
			EntityID:     s.EntityID,
			TotalPoints:  s.TotalPoints,
			Points0To12:  s.Points0To12,
			Points13To24: s.Points13To24,
			EventsCount:  s.EventsCount,
			RidersCount:  s.RidersCount,
			Rank:         s.Rank,
		})
	}

	return &Snapshot{
		Kind:       kind,
		Discipline: discipline,
		Date:       timeutil.DateOf(date),
		Entries:    entries,
	}, nil
}

// ApplyPreviousRanks проставляет PreviousRank и RankChange из предыдущего снапшота.
// Сущности без предыдущего места получают nil.
func (s *Snapshot) ApplyPreviousRanks(previous map[int64]Rank) {
	for i := range s.Entries {
		e := &s.Entries[i]
		prev, ok := previous[e.EntityID]
		if !ok {
			e.PreviousRank = nil
			e.RankChange = nil
			continue
		}
		p := prev
		change := ComputeRankChange(prev, e.Rank)
		e.PreviousRank = &p
		e.RankChange = &change
	}
}

// Len возвращает количество строк.
func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// Page возвращает страницу (page начинается с 1).
func (s *Snapshot) Page(page, pageSize int) []SnapshotEntry {
	from, to := PageBounds(page, pageSize, len(s.Entries))
	if from >= to {
		return nil
	}
	out := make([]SnapshotEntry, to-from)
	copy(out, s.Entries[from:to])
	return out
}

// PageBounds переводит номер страницы в границы среза [from, to).
func PageBounds(page, pageSize, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	from := (page - 1) * pageSize
	if from > total {
		from = total
	}
	to := from + pageSize
	if to > total {
		to = total
	}
	return from, to
}

// TotalPages возвращает количество страниц.
func TotalPages(total, pageSize int) int {
	if pageSize < 1 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryPoint - положение сущности в одном из снапшотов.
type HistoryPoint struct {
	Date        time.Time
	Rank        Rank
	TotalPoints float64
	RankChange  *RankChange
}
