package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{ValidationError("bad"), http.StatusBadRequest},
		{UnauthorizedError("nope"), http.StatusUnauthorized},
		{NotFoundError("gone"), http.StatusNotFound},
		{ConflictError("busy", nil), http.StatusConflict},
		{RateLimitedError("slow down"), http.StatusTooManyRequests},
		{UnavailableError("timed out", nil), http.StatusServiceUnavailable},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{&Error{Type: "mystery"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := InternalError("saving item", cause)

	assert.Equal(t, "internal: saving item: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "validation: bad body", ValidationError("bad body").Error())
}

func TestWithContextAndResponse(t *testing.T) {
	err := NotFoundError("item not found").WithContext("id", "abc")
	resp := err.ToResponse()

	assert.Equal(t, "item not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "abc", resp.Context["id"])

	var bare Error
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ValidationError("bad")
	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := AsStructuredError(errors.New("oops"))
	require.NotNil(t, plain)
	assert.Equal(t, TypeInternal, plain.Type)
	assert.Equal(t, "internal server error", plain.Message)
}
