// Package globaltime provides a mockable wall clock so time-dependent
// pipeline logic (gating timeouts, cooldowns, TTL sweeps) can be tested
// deterministically.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu       sync.RWMutex
	mockTime time.Time
	mocked   bool
)

// Now returns the current time, or the mocked time if one has been set.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if mocked {
		return mockTime
	}
	return time.Now()
}

// UTC returns Now() normalized to UTC.
func UTC() time.Time {
	return Now().UTC()
}

// SetMockTime pins the clock to t until ResetTime is called.
func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	mockTime = t
	mocked = true
}

// ResetTime releases a mocked clock, returning to the real wall clock.
func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	mocked = false
	mockTime = time.Time{}
}
