package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kloudping-venkat/DevopsMate/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("decide: %w", apperr.Conflict("approval.Decide", "approval %s already %s", "a1", "rejected"))

	assert.True(t, errors.Is(err, apperr.ErrApprovalConflict))
	assert.False(t, errors.Is(err, apperr.ErrApprovalExpired))
	assert.Equal(t, apperr.KindApprovalConflict, apperr.KindOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, apperr.Wrap(apperr.KindBackendUnavailable, "llm", nil))
}

func TestErrorMessage(t *testing.T) {
	base := errors.New("connection refused")
	err := apperr.Unavailable("llm.Complete", base)

	assert.Equal(t, "llm.Complete: connection refused", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("x", "missing"), http.StatusNotFound},
		{apperr.Conflict("x", "stale"), http.StatusConflict},
		{apperr.Expired("x", "late"), http.StatusGone},
		{apperr.PermissionDenied("x", "no"), http.StatusForbidden},
		{apperr.Validation("x", "bad"), http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, apperr.HTTPStatus(tt.err), tt.err.Error())
	}
}
