package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	err := WrapError("snapshot", "Save", ErrStorage, "insert failed", errors.New("conn reset"))

	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, "snapshot.Save: insert failed: conn reset", err.Error())
	assert.False(t, IsNotFound(err))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", ErrRankingNotFound)))
	assert.True(t, IsValidation(ErrInvalidDiscipline))
	assert.True(t, IsValidation(ErrInvalidPage))
	assert.True(t, IsLocked(ErrRecalculationLocked))
	assert.True(t, IsRetryable(ErrRecalculationLocked))
	assert.False(t, IsRetryable(ErrInvalidSettings))
}
