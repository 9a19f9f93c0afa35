package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", Clone(ErrNotFound, "school not found"))
	assert.True(t, Is(wrapped, ErrNotFound))
	assert.False(t, Is(wrapped, ErrStatusConflict))
	assert.False(t, Is(nil, ErrNotFound))
}

func TestCloneKeepsStatus(t *testing.T) {
	clone := Clone(ErrIllegalStatus, "cannot move cancelled to paid")
	assert.Equal(t, http.StatusUnprocessableEntity, clone.Status)
	assert.Equal(t, "illegal status transition", ErrIllegalStatus.Message)
}
