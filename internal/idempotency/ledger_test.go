package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantline-io/be-grants/internal/errors"
)

func TestResolveExisting_HashMismatchIsKeyReuse(t *testing.T) {
	_, err := resolveExisting("hash-original", "hash-different", nil, true)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIdempotencyReuse, errors.CodeOf(err))

	// Reuse is rejected whether or not the first request finished.
	_, err = resolveExisting("hash-original", "hash-different", nil, false)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIdempotencyReuse, errors.CodeOf(err))
}

func TestResolveExisting_CompletedSameHashReplaysResponse(t *testing.T) {
	stored := []byte(`{"id":"b-1","state":"SUBMITTED","version":4}`)

	res, err := resolveExisting("hash-1", "hash-1", stored, true)
	require.NoError(t, err)

	assert.False(t, res.Won)
	assert.True(t, res.Completed)
	assert.Equal(t, stored, res.Response)
}

func TestResolveExisting_InFlightSameHash(t *testing.T) {
	res, err := resolveExisting("hash-1", "hash-1", nil, false)
	require.NoError(t, err)

	assert.False(t, res.Won)
	assert.False(t, res.Completed)
	assert.Nil(t, res.Response)
}

func TestHashRequest_Deterministic(t *testing.T) {
	h1 := HashRequest("budget.submit", "user-1", []byte(`{"x":1}`))
	h2 := HashRequest("budget.submit", "user-1", []byte(`{"x":1}`))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded sha256
}

func TestHashRequest_SensitiveToEveryInput(t *testing.T) {
	base := HashRequest("budget.submit", "user-1", []byte(`{"x":1}`))

	assert.NotEqual(t, base, HashRequest("budget.close", "user-1", []byte(`{"x":1}`)))
	assert.NotEqual(t, base, HashRequest("budget.submit", "user-2", []byte(`{"x":1}`)))
	assert.NotEqual(t, base, HashRequest("budget.submit", "user-1", []byte(`{"x":2}`)))
}

func TestHashRequest_SeparatorPreventsAmbiguity(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide across field boundaries.
	assert.NotEqual(t,
		HashRequest("ab", "c", nil),
		HashRequest("a", "bc", nil),
	)
}

func TestHashRequest_EmptyBody(t *testing.T) {
	assert.Equal(t,
		HashRequest("budget.submit", "user-1", nil),
		HashRequest("budget.submit", "user-1", []byte{}),
	)
}
