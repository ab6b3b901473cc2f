package router

import (
	"sync"
	"time"
)

// RateLimiter counts inbound frames per connection in fixed windows.
// ARCHITECTURAL DISCOVERY: keyed by connection id, not user id, so one noisy
// tab cannot starve the user's other tabs
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit frames per window. A limit <= 0 disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one frame for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.clients[key]
	if !exists || now.Sub(limit.windowStart) >= rl.window {
		rl.clients[key] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}
	limit.messageCount++
	return true
}

// Forget drops the state for key. Called when a connection closes.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
