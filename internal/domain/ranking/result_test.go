package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

func ptr[T any](v T) *T { return &v }

func finishedRow(points float64, date time.Time) ResultRow {
	return ResultRow{
		RiderID:        1,
		EventID:        10,
		ClassID:        100,
		EventDate:      date,
		Discipline:     DisciplineEnduro,
		EventLevel:     EventLevelNational,
		Status:         StatusFinished,
		Points:         points,
		SeriesEligible: true,
		AwardsPoints:   true,
	}
}

func TestResultRow_BasePoints(t *testing.T) {
	t.Run("runs win when any run is positive", func(t *testing.T) {
		row := finishedRow(40, timeutil.Date(2024, 5, 1))
		row.Run1Points = ptr(30.0)
		row.Run2Points = ptr(0.0)

		points, source := row.BasePoints()
		assert.Equal(t, 30.0, points)
		assert.Equal(t, ScoreSourceRuns, source)
	})

	t.Run("points used when runs are zero", func(t *testing.T) {
		row := finishedRow(40, timeutil.Date(2024, 5, 1))
		row.Run1Points = ptr(0.0)
		row.Run2Points = ptr(0.0)

		points, source := row.BasePoints()
		assert.Equal(t, 40.0, points)
		assert.Equal(t, ScoreSourcePoints, source)
	})

	t.Run("points used when runs are missing", func(t *testing.T) {
		points, source := finishedRow(25, timeutil.Date(2024, 5, 1)).BasePoints()
		assert.Equal(t, 25.0, points)
		assert.Equal(t, ScoreSourcePoints, source)
	})
}

func TestResultRow_Qualifies(t *testing.T) {
	ref := timeutil.Date(2024, 6, 15)
	window := NewWindow(ref, nil)
	date := timeutil.Date(2024, 3, 1)

	assert.True(t, finishedRow(10, date).Qualifies(DisciplineEnduro, window))
	assert.True(t, finishedRow(10, date).Qualifies(DisciplineGravity, window))
	assert.False(t, finishedRow(10, date).Qualifies(DisciplineDH, window))
	assert.False(t, finishedRow(0, date).Qualifies(DisciplineEnduro, window))

	dnf := finishedRow(10, date)
	dnf.Status = StatusDNF
	assert.False(t, dnf.Qualifies(DisciplineEnduro, window))

	ineligible := finishedRow(10, date)
	ineligible.AwardsPoints = false
	assert.False(t, ineligible.Qualifies(DisciplineEnduro, window))
}

func TestResolveClub(t *testing.T) {
	assert.Equal(t, int64(5), ResolveClub(ptr(int64(5)), ptr(int64(7))))
	assert.Equal(t, int64(7), ResolveClub(nil, ptr(int64(7))))
	assert.Equal(t, int64(7), ResolveClub(ptr(int64(0)), ptr(int64(7))))
	assert.Equal(t, int64(0), ResolveClub(nil, nil))
}

func TestWindow_Boundary(t *testing.T) {
	ref := timeutil.Date(2024, 6, 15)
	live := NewWindow(ref, nil)

	assert.Equal(t, timeutil.Date(2022, 6, 15), live.Start)
	assert.True(t, live.IsLive())
	assert.True(t, live.Contains(timeutil.Date(2022, 6, 15)))
	assert.True(t, live.Contains(timeutil.Date(2022, 6, 16)), "one day inside the window")
	assert.False(t, live.Contains(timeutil.Date(2022, 6, 14)), "24 months + 1 day is outside")
	assert.True(t, live.Contains(timeutil.Date(2024, 7, 1)), "live window has no upper bound")

	asOf := timeutil.Date(2024, 6, 1)
	historical := NewWindow(asOf, &asOf)
	assert.False(t, historical.IsLive())
	assert.True(t, historical.Contains(asOf))
	assert.False(t, historical.Contains(timeutil.Date(2024, 6, 2)))
}

func TestParseDiscipline(t *testing.T) {
	d, err := ParseDiscipline(" enduro ")
	assert.NoError(t, err)
	assert.Equal(t, DisciplineEnduro, d)

	_, err = ParseDiscipline("xc")
	assert.ErrorIs(t, err, ErrInvalidDiscipline)

	assert.Equal(t, []Discipline{DisciplineEnduro, DisciplineDH}, DisciplineGravity.Members())
	assert.Equal(t, []Discipline{DisciplineDH}, DisciplineDH.Members())
}
