package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("budget", "b-1")))
	assert.Equal(t, ErrCodeValidation, CodeOf(InvalidInput("title", "required")))
	assert.Equal(t, ErrCodeConflict, CodeOf(Conflict("version mismatch")))
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain error")))
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := NotFound("contract", "c-1")
	outer := fmt.Errorf("loading entity: %w", inner)
	assert.Equal(t, ErrCodeNotFound, CodeOf(outer))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to query")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to query")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMessageOf_HidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(fmt.Errorf("pq: relation does not exist")))
	assert.Equal(t, "version mismatch", MessageOf(Conflict("version mismatch")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          InvalidInput("f", "bad"),
		http.StatusNotFound:            NotFound("budget", "b-1"),
		http.StatusConflict:            Conflict("stale"),
		http.StatusForbidden:           New(ErrCodeUnauthorized, "nope"),
		http.StatusInternalServerError: fmt.Errorf("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, HTTPStatus(err), "error %v", err)
	}

	assert.Equal(t, http.StatusConflict,
		HTTPStatus(New(ErrCodeIdempotencyReuse, "key reused with different payload")))
}
