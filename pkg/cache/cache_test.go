package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	c.Set("a", "alpha")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.SetWithTTL("short", 1, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestCache_GetOrSet(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "fetched", nil
	}

	v, err := c.GetOrSet(context.Background(), "k", fetch)
	assert.NoError(t, err)
	assert.Equal(t, "fetched", v)

	v, err = c.GetOrSet(context.Background(), "k", fetch)
	assert.NoError(t, err)
	assert.Equal(t, "fetched", v)
	assert.Equal(t, 1, calls, "second lookup must come from cache")
}

func TestCache_GetOrSetError(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	fetchErr := errors.New("backend down")
	_, err := c.GetOrSet(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "", fetchErr
	})
	assert.ErrorIs(t, err, fetchErr)

	// Errors must not be cached.
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("user:1", 1)
	c.Set("user:2", 2)
	c.Set("session:1", 3)

	c.Invalidate("user:")

	_, ok := c.Get("user:1")
	assert.False(t, ok)
	_, ok = c.Get("user:2")
	assert.False(t, ok)
	_, ok = c.Get("session:1")
	assert.True(t, ok)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Size())

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Size())
}
