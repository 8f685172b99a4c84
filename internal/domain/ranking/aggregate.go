package ranking

import (
	"math"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDING
// ══════════════════════════════════════════════════════════════════════════════

// Standing - итог по одному гонщику или клубу до присвоения рангов.
type Standing struct {
	// EntityID - ID гонщика или клуба.
	EntityID int64

	// TotalPoints - сумма взвешенных очков (с учётом давности).
	TotalPoints float64

	// Points0To12 - очки без учёта давности за последние 12 месяцев.
	Points0To12 float64

	// Points13To24 - очки без учёта давности за 12-23 месяца.
	Points13To24 float64

	// EventsCount - количество соревнований, давших очки.
	EventsCount int

	// RidersCount - количество гонщиков, принёсших очки клубу (только для клубов).
	RidersCount int

	// Rank - место после AssignRanks.
	Rank Rank
}

// roundPoints округляет очки до сотых, как они хранятся в снапшотах.
func roundPoints(v float64) float64 {
	return math.Round(v*100) / 100
}

type accumulator struct {
	standing Standing
	events   map[int64]struct{}
	riders   map[int64]struct{}
}

func newAccumulator(id int64) *accumulator {
	return &accumulator{
		standing: Standing{EntityID: id},
		events:   make(map[int64]struct{}),
		riders:   make(map[int64]struct{}),
	}
}

// add учитывает вклад с дополнительным множителем (позиция в клубе).
func (a *accumulator) add(c Contribution, multiplier float64) {
	ranking := c.RankingPoints * multiplier
	a.standing.TotalPoints += ranking * c.TimeMultiplier
	switch {
	case c.InRecentBucket():
		a.standing.Points0To12 += ranking
	case c.InWindow():
		a.standing.Points13To24 += ranking
	}
	a.events[c.EventID] = struct{}{}
	a.riders[c.RiderID] = struct{}{}
}

func (a *accumulator) result(withRiders bool) Standing {
	s := a.standing
	s.TotalPoints = roundPoints(s.TotalPoints)
	s.Points0To12 = roundPoints(s.Points0To12)
	s.Points13To24 = roundPoints(s.Points13To24)
	s.EventsCount = len(a.events)
	if withRiders {
		s.RidersCount = len(a.riders)
	}
	return s
}

func collect(accs map[int64]*accumulator, withRiders bool) []Standing {
	out := make([]Standing, 0, len(accs))
	for _, a := range accs {
		out = append(out, a.result(withRiders))
	}
	SortStandings(out)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RIDERS
// ══════════════════════════════════════════════════════════════════════════════

// AggregateRiders суммирует вклады по гонщикам.
// Результат отсортирован по убыванию TotalPoints, ранги не присвоены.
func AggregateRiders(contributions []Contribution) []Standing {
	accs := make(map[int64]*accumulator)
	for _, c := range contributions {
		acc, ok := accs[c.RiderID]
		if !ok {
			acc = newAccumulator(c.RiderID)
			accs[c.RiderID] = acc
		}
		acc.add(c, 1.0)
	}
	return collect(accs, false)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLUBS
// ══════════════════════════════════════════════════════════════════════════════

// ClubPositionMultiplier возвращает множитель для места гонщика внутри клуба
// в зачёте: 1 - ×1.00, 2 - ×0.50, дальше результат не учитывается (0).
func ClubPositionMultiplier(position int) float64 {
	switch position {
	case 1:
		return 1.00
	case 2:
		return 0.50
	default:
		return 0
	}
}

// ClubResults оставляет только результаты с определённым клубом.
// Размеры зачётов для клубного рейтинга считаются по этому набору.
func ClubResults(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.HasClub() {
			out = append(out, r)
		}
	}
	return out
}

type clubFieldKey struct {
	FieldKey
	ClubID int64
}

// AggregateClubs суммирует вклады по клубам.
// В каждом зачёте (соревнование + класс + клуб) учитываются только два лучших
// гонщика клуба по базовым очкам. Третий и далее не дают ни очков,
// ни соревнований, ни гонщиков. Результаты без клуба пропускаются.
func AggregateClubs(contributions []Contribution) []Standing {
	groups := make(map[clubFieldKey][]Contribution)
	for _, c := range contributions {
		if !c.HasClub() {
			continue
		}
		key := clubFieldKey{
			FieldKey: FieldKey{EventID: c.EventID, ClassID: c.ClassID},
			ClubID:   c.ClubID,
		}
		groups[key] = append(groups[key], c)
	}

	accs := make(map[int64]*accumulator)
	for key, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].BasePoints != group[j].BasePoints {
				return group[i].BasePoints > group[j].BasePoints
			}
			return group[i].RiderID < group[j].RiderID
		})

		acc, ok := accs[key.ClubID]
		if !ok {
			acc = newAccumulator(key.ClubID)
			accs[key.ClubID] = acc
		}
		for i, c := range group {
			mult := ClubPositionMultiplier(i + 1)
			if mult == 0 {
				break
			}
			acc.add(c, mult)
		}
	}
	return collect(accs, true)
}
