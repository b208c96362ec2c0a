package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheHitAndInvalidate(t *testing.T) {
	cache := NewCache(time.Minute)

	points := []Point{{Date: "2025-01-02", NAV: 100, TWR: 1}}
	cache.Set("nav:MAIN:0", points)

	got, ok := cache.Get("nav:MAIN:0")
	assert.True(t, ok)
	assert.Equal(t, points, got)

	_, ok = cache.Get("nav:OTHER:0")
	assert.False(t, ok)

	cache.InvalidateAll()
	_, ok = cache.Get("nav:MAIN:0")
	assert.False(t, ok)
}

func TestCacheExpires(t *testing.T) {
	cache := NewCache(time.Millisecond)

	cache.Set("nav:MAIN:0", []Point{{Date: "2025-01-02", NAV: 100}})
	time.Sleep(5 * time.Millisecond)

	_, ok := cache.Get("nav:MAIN:0")
	assert.False(t, ok)
}
