package components

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterCooldown(t *testing.T) {
	rl := NewRateLimiter(time.Hour)

	assert.True(t, rl.CanUse("user-1"))
	assert.False(t, rl.CanUse("user-1"))
	assert.Positive(t, rl.TimeUntilNext("user-1"))

	assert.True(t, rl.CanUse("user-2"), "cooldown is per user")
}

func TestRateLimiterExpires(t *testing.T) {
	rl := NewRateLimiter(time.Millisecond)

	assert.True(t, rl.CanUse("user-1"))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.CanUse("user-1"))
	assert.Zero(t, rl.TimeUntilNext("user-2"))
}
