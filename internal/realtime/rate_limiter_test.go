package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	assert.True(t, rl.Allow(now))
	assert.True(t, rl.Allow(now))
	assert.True(t, rl.Allow(now))
	assert.False(t, rl.Allow(now))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	now := time.Now()

	assert.True(t, rl.Allow(now))
	assert.True(t, rl.Allow(now))
	assert.False(t, rl.Allow(now.Add(500*time.Millisecond)))

	// Both earlier events fall out of the window.
	assert.True(t, rl.Allow(now.Add(1100*time.Millisecond)))
}

func TestRateLimiter_RejectionsAreNotRecorded(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Second)
	now := time.Now()

	assert.True(t, rl.Allow(now))

	// Hammering while throttled must not push recovery further out.
	for i := 0; i < 10; i++ {
		assert.False(t, rl.Allow(now.Add(time.Duration(i)*50*time.Millisecond)))
	}
	assert.True(t, rl.Allow(now.Add(1100*time.Millisecond)))
}

func TestRateLimiter_DefaultsOnInvalidInputs(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for i := 0; i < rateLimitEvents; i++ {
		assert.True(t, rl.Allow(now))
	}
	assert.False(t, rl.Allow(now))
}
