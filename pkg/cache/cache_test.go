package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestCache_Expiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Stop()

	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_SetIfAbsent(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	assert.True(t, c.SetIfAbsent("k", 1))
	assert.False(t, c.SetIfAbsent("k", 2))

	got, _ := c.Get("k")
	assert.Equal(t, 1, got)
}

func TestCache_Delete(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("k", "v")
	c.Delete("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_StopIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Stop()
	c.Stop()
}
