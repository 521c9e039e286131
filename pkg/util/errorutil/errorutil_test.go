package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "validation",
			err:        NewValidationError("subject required", nil),
			wantCode:   CodeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrapped forbidden",
			err:        fmt.Errorf("add message: %w", NewForbidden("access denied")),
			wantCode:   CodeForbidden,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "not found",
			err:        NewNotFound("ticket", map[string]any{"ticket_id": "t-1"}),
			wantCode:   CodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "plain error",
			err:        errors.New("connection reset"),
			wantCode:   "INTERNAL_ERROR",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDomainError(tt.err)
			require.Equal(t, tt.wantCode, got.Code)
			require.Equal(t, tt.wantStatus, got.HTTPStatus)
		})
	}
}

func TestToDomainErrorNil(t *testing.T) {
	require.Nil(t, ToDomainError(nil))
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewNotFound("staff member", nil))
	require.True(t, HasCode(err, CodeNotFound))
	require.False(t, HasCode(err, CodeForbidden))
	require.False(t, HasCode(errors.New("boom"), CodeNotFound))
}

func TestNotFoundMessage(t *testing.T) {
	err := NewNotFound("ticket", nil)
	require.Equal(t, "ticket not found", err.Error())
	require.NotNil(t, ToDomainError(err).Details)
}
