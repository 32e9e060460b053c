package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	t.Run("Success - Codes survive wrapping", func(t *testing.T) {
		err := fmt.Errorf("failed to load deal: %w", NewNotFoundError("entity"))

		assert.True(t, IsNotFound(err))
		assert.False(t, IsValidation(err))
		assert.Equal(t, ErrCodeNotFound, GetErrorCode(err))
		assert.Contains(t, err.Error(), "entity not found")
	})

	t.Run("Success - Conflict details", func(t *testing.T) {
		err := NewConflictErrorWithDetails("pipeline has deals", map[string]any{"dealCount": 3})

		assert.True(t, IsConflict(err))
		assert.Equal(t, 3, GetDetails(err)["dealCount"])
	})

	t.Run("Success - Each constructor maps to its checker", func(t *testing.T) {
		assert.True(t, IsExpired(NewExpiredError("restore window elapsed")))
		assert.True(t, IsForbidden(NewForbiddenError("owner only")))
		assert.True(t, IsUnauthorized(NewUnauthorizedError()))
		assert.True(t, IsValidation(NewValidationErrorf("bad %s", "key")))
		assert.True(t, IsInternal(NewInternalError(fmt.Errorf("boom"))))
	})

	t.Run("Error - Plain errors are internal", func(t *testing.T) {
		err := fmt.Errorf("boom")

		assert.False(t, IsNotFound(err))
		assert.Equal(t, ErrCodeInternal, GetErrorCode(err))
		assert.Nil(t, GetDetails(err))
	})
}
