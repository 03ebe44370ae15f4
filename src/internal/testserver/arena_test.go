// FILE: srpauth/src/internal/testserver/arena_test.go
package testserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	var a Arena[string]
	one, two := "one", "two"

	h1 := a.Insert(&one)
	h2 := a.Insert(&two)
	assert.Equal(t, 2, a.Len())
	assert.NotEqual(t, h1, h2)

	v, ok := a.Get(h1)
	require.True(t, ok)
	assert.Equal(t, "one", *v)

	t.Run("RemoveInvalidatesHandle", func(t *testing.T) {
		v, ok := a.Remove(h1)
		require.True(t, ok)
		assert.Equal(t, "one", *v)

		_, ok = a.Get(h1)
		assert.False(t, ok)
		_, ok = a.Remove(h1)
		assert.False(t, ok)
		assert.Equal(t, 1, a.Len())
	})

	t.Run("SlotReuseBumpsGeneration", func(t *testing.T) {
		three := "three"
		h3 := a.Insert(&three)
		assert.Equal(t, h1.Index, h3.Index)
		assert.NotEqual(t, h1.Generation, h3.Generation)

		_, ok := a.Get(h1)
		assert.False(t, ok, "stale handle must not resolve to the new value")
		v, ok := a.Get(h3)
		require.True(t, ok)
		assert.Equal(t, "three", *v)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		_, ok := a.Get(Handle{Index: 99, Generation: 1})
		assert.False(t, ok)
	})

	assert.Len(t, a.Handles(), 2)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(newTestLogger())

	h, srv, err := reg.Spawn(DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, srv.URL())

	got, err := reg.Lookup(h)
	require.NoError(t, err)
	assert.Same(t, srv, got)

	_, _, err = reg.Spawn(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, reg.Close(h))
	_, err = reg.Lookup(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, reg.Close(h), ErrStaleHandle)

	reg.CloseAll()
	assert.Equal(t, 0, reg.Len())
}
