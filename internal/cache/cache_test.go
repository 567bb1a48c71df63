package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersioned_GetSet(t *testing.T) {
	c := NewVersioned[string]()

	_, ok := c.Get("policy", "p-1")
	assert.False(t, ok)

	c.Set("policy", "p-1", "v1")
	got, ok := c.Get("policy", "p-1")
	require.True(t, ok)
	assert.Equal(t, "v1", got)
}

func TestVersioned_BumpInvalidatesType(t *testing.T) {
	c := NewVersioned[int]()
	c.Set("policy", "a", 1)
	c.Set("policy", "b", 2)
	c.Set("budget", "a", 3)

	c.Bump("policy")

	_, ok := c.Get("policy", "a")
	assert.False(t, ok)
	_, ok = c.Get("policy", "b")
	assert.False(t, ok)

	// Other types are untouched.
	got, ok := c.Get("budget", "a")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestVersioned_VersionCounts(t *testing.T) {
	c := NewVersioned[string]()
	assert.Equal(t, uint64(0), c.Version("policy"))

	c.Set("policy", "a", "x")
	c.Bump("policy")
	c.Bump("policy")
	assert.Equal(t, uint64(2), c.Version("policy"))

	// Bumping an unknown type is a no-op.
	c.Bump("unknown")
	assert.Equal(t, uint64(0), c.Version("unknown"))
}

func TestVersioned_SetAfterBump(t *testing.T) {
	c := NewVersioned[string]()
	c.Set("policy", "a", "old")
	c.Bump("policy")
	c.Set("policy", "a", "new")

	got, ok := c.Get("policy", "a")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}
