package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFieldMultipliers(t *testing.T) {
	fm := DefaultFieldMultipliers()

	assert.Len(t, fm, MaxFieldSize)
	assert.Equal(t, 0.75, fm.For(1))
	assert.Equal(t, 0.77, fm.For(2))
	assert.Equal(t, 1.00, fm.For(15))
	assert.NoError(t, fm.Validate())

	prev := 0.0
	for _, size := range fm.Sizes() {
		assert.Greater(t, fm[size], prev, "ramp must increase at size %d", size)
		prev = fm[size]
	}
}

func TestFieldMultipliers_Clamp(t *testing.T) {
	fm := DefaultFieldMultipliers()

	assert.Equal(t, fm.For(15), fm.For(20))
	assert.Equal(t, fm.For(15), fm.For(100))
	assert.Equal(t, fm.For(1), fm.For(0))
	assert.Equal(t, fm.For(1), fm.For(-3))
}

func TestFieldMultipliers_MissingKeyFallsBackToDefault(t *testing.T) {
	fm := FieldMultipliers{1: 0.5}

	assert.Equal(t, 0.5, fm.For(1))
	assert.Equal(t, 0.77, fm.For(2))
}

func TestFieldMultipliers_Validate(t *testing.T) {
	assert.Error(t, FieldMultipliers{}.Validate())
	assert.ErrorIs(t, FieldMultipliers{16: 1}.Validate(), ErrInvalidFieldSize)
	assert.ErrorIs(t, FieldMultipliers{0: 1}.Validate(), ErrInvalidFieldSize)
	assert.ErrorIs(t, FieldMultipliers{3: -0.1}.Validate(), ErrInvalidMultiplier)
}

func TestTimeDecay_For(t *testing.T) {
	td := DefaultTimeDecay()

	cases := []struct {
		months int
		want   float64
	}{
		{0, 1.0},
		{11, 1.0},
		{12, 0.5},
		{23, 0.5},
		{24, 0.0},
		{25, 0.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, td.For(tc.months), "months=%d", tc.months)
	}
}

func TestTimeDecay_Validate(t *testing.T) {
	assert.NoError(t, DefaultTimeDecay().Validate())
	assert.ErrorIs(t, TimeDecay{Months1To12: -1}.Validate(), ErrInvalidMultiplier)
}

func TestEventLevelMultipliers(t *testing.T) {
	m := DefaultEventLevelMultipliers()

	assert.Equal(t, 1.00, m.For(EventLevelNational))
	assert.Equal(t, 0.50, m.For(EventLevelSportmotion))
	assert.Equal(t, 1.00, m.For("regional"), "unknown level must not penalize")
	assert.ErrorIs(t, EventLevelMultipliers{"": 1}.Validate(), ErrInvalidMultiplier)
}
