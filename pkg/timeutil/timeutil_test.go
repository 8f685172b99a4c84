package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 0, MonthsBetween(Date(2024, 6, 1), Date(2024, 6, 30)))
	assert.Equal(t, 1, MonthsBetween(Date(2024, 1, 31), Date(2024, 2, 1)))
	assert.Equal(t, 12, MonthsBetween(Date(2023, 6, 30), Date(2024, 6, 1)))
	assert.Equal(t, 24, MonthsBetween(Date(2022, 6, 15), Date(2024, 6, 15)))
	assert.Equal(t, -1, MonthsBetween(Date(2024, 7, 1), Date(2024, 6, 1)))
}

func TestStartOfMonthAndAddMonths(t *testing.T) {
	assert.Equal(t, Date(2024, 6, 1), StartOfMonth(Date(2024, 6, 17)))
	assert.Equal(t, Date(2023, 12, 1), AddMonths(Date(2024, 1, 1), -1))
	assert.Equal(t, Date(2022, 6, 15), AddMonths(Date(2024, 6, 15), -24))
}

func TestToday_UsesSeriesTimezone(t *testing.T) {
	defer func() { nowFunc = time.Now }()
	require.NoError(t, SetLocation("Europe/Stockholm"))

	// 23:30 UTC on June 30 is already July 1 in Stockholm (UTC+2 in summer).
	nowFunc = func() time.Time { return time.Date(2024, 6, 30, 23, 30, 0, 0, time.UTC) }
	assert.Equal(t, Date(2024, 7, 1), Today())
}

func TestSetLocation_Unknown(t *testing.T) {
	assert.Error(t, SetLocation("Mars/Olympus"))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 2, 29), d)
	assert.Equal(t, "2024-02-29", FormatDate(d))

	_, err = ParseDate("29.02.2024")
	assert.Error(t, err)
}
