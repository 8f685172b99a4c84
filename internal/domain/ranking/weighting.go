package ranking

import (
	"time"

	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIELD SIZE
// ══════════════════════════════════════════════════════════════════════════════

// FieldKey идентифицирует зачёт: класс на конкретном соревновании.
type FieldKey struct {
	EventID int64
	ClassID int64
}

// FieldSizes - количество квалифицированных результатов в каждом зачёте.
type FieldSizes map[FieldKey]int

// CountFieldSizes считает размер зачётов по уже загруженному набору результатов.
func CountFieldSizes(results []Result) FieldSizes {
	sizes := make(FieldSizes)
	for _, r := range results {
		sizes[FieldKey{EventID: r.EventID, ClassID: r.ClassID}]++
	}
	return sizes
}

// Size возвращает размер зачёта (0, если такого зачёта нет в наборе).
func (fs FieldSizes) Size(eventID, classID int64) int {
	return fs[FieldKey{EventID: eventID, ClassID: classID}]
}

// ══════════════════════════════════════════════════════════════════════════════
// WEIGHTED POINTS
// ══════════════════════════════════════════════════════════════════════════════

// Contribution - вклад одного результата в рейтинг со всеми множителями.
type Contribution struct {
	Result

	FieldSize  int
	MonthsDiff int

	FieldMultiplier      float64
	EventLevelMultiplier float64
	TimeMultiplier       float64

	// RankingPoints = base × field × level (без учёта давности).
	RankingPoints float64

	// WeightedPoints = RankingPoints × time.
	WeightedPoints float64
}

// InRecentBucket - результат моложе 12 месяцев.
func (c Contribution) InRecentBucket() bool {
	return c.MonthsDiff < 12
}

// InWindow - результат моложе 24 месяцев и участвует в рейтинге.
func (c Contribution) InWindow() bool {
	return c.MonthsDiff < WindowMonths
}

// Calculator взвешивает результаты относительно опорной даты.
// Настройки фиксируются при создании и не меняются в течение расчёта.
type Calculator struct {
	settings  Settings
	reference time.Time
}

// NewCalculator создаёт калькулятор для опорной даты.
func NewCalculator(settings Settings, reference time.Time) *Calculator {
	return &Calculator{
		settings:  settings,
		reference: timeutil.DateOf(reference),
	}
}

// Reference возвращает опорную дату.
func (c *Calculator) Reference() time.Time {
	return c.reference
}

// Settings возвращает настройки расчёта.
func (c *Calculator) Settings() Settings {
	return c.settings
}

// Weigh считает вклад результата при известном размере зачёта.
func (c *Calculator) Weigh(r Result, fieldSize int) Contribution {
	months := timeutil.MonthsBetween(r.EventDate, c.reference)
	if months < 0 {
		// Результат позже опорной даты (живой режим): считается свежим.
		months = 0
	}

	fieldMult := c.settings.FieldMultipliers.For(fieldSize)
	levelMult := c.settings.EventLevelMultipliers.For(r.EventLevel)
	timeMult := c.settings.TimeDecay.For(months)

	rankingPoints := r.BasePoints * fieldMult * levelMult

	return Contribution{
		Result:               r,
		FieldSize:            fieldSize,
		MonthsDiff:           months,
		FieldMultiplier:      fieldMult,
		EventLevelMultiplier: levelMult,
		TimeMultiplier:       timeMult,
		RankingPoints:        rankingPoints,
		WeightedPoints:       rankingPoints * timeMult,
	}
}

// WeighAll взвешивает набор результатов, считая размеры зачётов по нему же.
func (c *Calculator) WeighAll(results []Result) []Contribution {
	sizes := CountFieldSizes(results)
	out := make([]Contribution, 0, len(results))
	for _, r := range results {
		out = append(out, c.Weigh(r, sizes.Size(r.EventID, r.ClassID)))
	}
	return out
}
