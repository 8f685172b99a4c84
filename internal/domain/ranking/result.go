package ranking

import (
	"time"

	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RACE RESULT (read-only input)
// ══════════════════════════════════════════════════════════════════════════════

// ResultStatus - статус результата гонщика на соревновании.
type ResultStatus string

const (
	// StatusFinished - гонщик финишировал. Только такие результаты учитываются.
	StatusFinished ResultStatus = "finished"
	// StatusDNF - не финишировал.
	StatusDNF ResultStatus = "dnf"
	// StatusDNS - не стартовал.
	StatusDNS ResultStatus = "dns"
	// StatusDSQ - дисквалифицирован.
	StatusDSQ ResultStatus = "dsq"
)

// ScoreSource показывает, откуда взяты базовые очки результата.
type ScoreSource string

const (
	// ScoreSourceRuns - сумма очков за два заезда.
	ScoreSourceRuns ScoreSource = "runs"
	// ScoreSourcePoints - общее поле points.
	ScoreSourcePoints ScoreSource = "points"
)

// ResultRow - строка результата в том виде, как она хранится во внешней системе.
// Содержит всё, что нужно для проверки квалификации и выбора источника очков.
type ResultRow struct {
	RiderID   int64
	EventID   int64
	ClassID   int64
	EventDate time.Time

	Discipline Discipline
	EventLevel string
	Status     ResultStatus

	// Run1Points / Run2Points - очки за заезды (nil, если не было).
	Run1Points *float64
	Run2Points *float64

	// Points - общее поле очков.
	Points float64

	// SeriesEligible и AwardsPoints - флаги класса.
	SeriesEligible bool
	AwardsPoints   bool

	// ResultClubID - клуб, указанный в самом результате.
	ResultClubID *int64

	// RiderClubID - текущий клуб гонщика.
	RiderClubID *int64
}

// BasePoints возвращает базовые очки и их источник.
// Если хотя бы один заезд дал положительные очки, берётся сумма заездов,
// иначе - общее поле points.
func (r ResultRow) BasePoints() (float64, ScoreSource) {
	var runs float64
	var anyPositive bool
	for _, p := range []*float64{r.Run1Points, r.Run2Points} {
		if p == nil {
			continue
		}
		runs += *p
		if *p > 0 {
			anyPositive = true
		}
	}
	if anyPositive {
		return runs, ScoreSourceRuns
	}
	return r.Points, ScoreSourcePoints
}

// ClassEligible - класс участвует в серии и начисляет очки.
func (r ResultRow) ClassEligible() bool {
	return r.SeriesEligible && r.AwardsPoints
}

// Qualifies проверяет, учитывается ли результат в рейтинге дисциплины за окно.
func (r ResultRow) Qualifies(discipline Discipline, window Window) bool {
	if r.Status != StatusFinished || !r.ClassEligible() {
		return false
	}
	if !discipline.Includes(r.Discipline) {
		return false
	}
	if !window.Contains(r.EventDate) {
		return false
	}
	points, _ := r.BasePoints()
	return points > 0
}

// ToResult переводит строку в квалифицированный результат.
func (r ResultRow) ToResult() Result {
	points, source := r.BasePoints()
	return Result{
		RiderID:    r.RiderID,
		EventID:    r.EventID,
		ClassID:    r.ClassID,
		ClubID:     ResolveClub(r.ResultClubID, r.RiderClubID),
		Discipline: r.Discipline,
		EventDate:  timeutil.DateOf(r.EventDate),
		EventLevel: r.EventLevel,
		BasePoints: points,
		Source:     source,
	}
}

// ResolveClub определяет клуб результата в два шага:
// клуб из самого результата, затем текущий клуб гонщика. 0 - клуба нет.
func ResolveClub(resultClubID, riderClubID *int64) int64 {
	if resultClubID != nil && *resultClubID > 0 {
		return *resultClubID
	}
	if riderClubID != nil && *riderClubID > 0 {
		return *riderClubID
	}
	return 0
}

// Result - квалифицированный результат, готовый к взвешиванию.
type Result struct {
	RiderID int64
	EventID int64
	ClassID int64

	// ClubID - клуб после разрешения (0 = не определён).
	ClubID int64

	Discipline Discipline
	EventDate  time.Time
	EventLevel string

	BasePoints float64
	Source     ScoreSource
}

// HasClub возвращает true, если для результата определён клуб.
func (r Result) HasClub() bool {
	return r.ClubID > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// WindowMonths - длина скользящего окна рейтинга.
const WindowMonths = 24

// Window - окно дат, из которого берутся результаты. Обе границы включительно.
// End == nil означает "живой" режим без верхней границы.
type Window struct {
	Start time.Time
	End   *time.Time
}

// NewWindow строит окно [reference - 24 месяца, asOf].
// asOf == nil - живой режим.
func NewWindow(reference time.Time, asOf *time.Time) Window {
	w := Window{Start: timeutil.AddMonths(reference, -WindowMonths)}
	if asOf != nil {
		end := timeutil.DateOf(*asOf)
		w.End = &end
	}
	return w
}

// Contains проверяет, попадает ли дата в окно.
func (w Window) Contains(date time.Time) bool {
	d := timeutil.DateOf(date)
	if d.Before(w.Start) {
		return false
	}
	if w.End != nil && d.After(*w.End) {
		return false
	}
	return true
}

// IsLive возвращает true для окна без верхней границы.
func (w Window) IsLive() bool {
	return w.End == nil
}
