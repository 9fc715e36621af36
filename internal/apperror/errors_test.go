package apperror

import (
	"errors"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := NotFound("citation %s not found", "TCT-2025-000001")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "citation TCT-2025-000001 not found", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := Conflict("citation is void")
	wrapped := pkgerrors.Wrap(base, "failed to update citation")

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.True(t, IsKind(wrapped, KindConflict))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestRetryableUnwrapsCause(t *testing.T) {
	cause := errors.New("lock timeout")
	err := Retryable(cause, "offense history busy")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindRetryable, err.Kind)
	assert.Contains(t, err.Error(), "lock timeout")
}

func TestValidationFields(t *testing.T) {
	err := Field("reason", "is required")

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, map[string]string{"reason": "is required"}, err.Fields)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindNotContestable, http.StatusUnprocessableEntity},
		{KindAlreadyResolved, http.StatusConflict},
		{KindInvalidSchedule, http.StatusUnprocessableEntity},
		{KindForbidden, http.StatusForbidden},
		{KindRetryable, http.StatusConflict},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.HTTPStatus())
		})
	}
}
