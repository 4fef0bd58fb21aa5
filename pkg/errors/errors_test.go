package errors

import (
	"database/sql"
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundCarriesResource(t *testing.T) {
	err := NotFound("incident", 999)
	assert.Equal(t, ErrNotFound.Code, err.Code)
	assert.Equal(t, "incident", err.Resource)
	assert.Equal(t, "999", err.ResourceID)
	assert.Equal(t, "incident 999 not found", err.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NotFound("note", 3))
	assert.True(t, stdErrors.Is(wrapped, ErrNotFound))
	assert.False(t, stdErrors.Is(wrapped, ErrForbidden))
}

func TestValidationCopiesDetails(t *testing.T) {
	details := []string{"a", "b"}
	err := Validation("invalid incident", details)
	details[0] = "changed"
	require.Len(t, err.Details, 2)
	assert.Equal(t, "a", err.Details[0])
	assert.Nil(t, ErrValidation.Details)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
	assert.Nil(t, FromError(nil))
}
