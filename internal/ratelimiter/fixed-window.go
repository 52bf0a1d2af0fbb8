package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// FixedWindowRateLimiter counts requests per client in windows that all reset together.
type FixedWindowRateLimiter struct {
	sync.Mutex
	clients map[string]int //string:UserIP, int count
	limit   int
	window  time.Duration
	resetAt time.Time
	now     func() time.Time
}

// NewFixedWindowLimiter starts the window reset loop. It stops when ctx is done.
func NewFixedWindowLimiter(ctx context.Context, limit int, window time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		clients: make(map[string]int),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	rl.resetAt = rl.now().Add(window)
	go rl.cleanup(ctx)
	return rl
}

func (rl *FixedWindowRateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.reset()
		}
	}
}

func (rl *FixedWindowRateLimiter) reset() {
	rl.Lock()
	rl.clients = make(map[string]int) // reset all
	rl.resetAt = rl.now().Add(rl.window)
	rl.Unlock()
}

// Allow reports whether ip may make another request, and if not, how long until it may.
func (rl *FixedWindowRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.Lock()
	defer rl.Unlock()

	if rl.clients[ip] < rl.limit {
		rl.clients[ip]++
		return true, 0
	}

	retry := rl.resetAt.Sub(rl.now())
	if retry < 0 {
		retry = 0
	}
	return false, retry
}
