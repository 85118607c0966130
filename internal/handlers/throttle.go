package handlers

import (
	"strings"
	"sync"
	"time"
)

// submitThrottle enforces a per-user sliding window on order submission.
// Every key keeps the timestamps of its recent submissions; a request is
// denied while the window already holds quota of them.
type submitThrottle struct {
	quota  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

func newSubmitThrottle(quota int, window time.Duration, now func() time.Time) *submitThrottle {
	if quota <= 0 || window <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &submitThrottle{
		quota:  quota,
		window: window,
		now:    now,
		seen:   make(map[string][]time.Time),
	}
}

// Take records one submission for key. When the window is already full it
// denies the request and reports how long the caller should wait before the
// oldest entry falls out of the window.
func (t *submitThrottle) Take(key string) (time.Duration, bool) {
	if t == nil {
		return 0, true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	at := t.now()
	horizon := at.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.seen[key][:0]
	for _, stamp := range t.seen[key] {
		if stamp.After(horizon) {
			recent = append(recent, stamp)
		}
	}
	if len(recent) >= t.quota {
		t.seen[key] = recent
		return recent[0].Sub(horizon), false
	}
	if len(recent) == 0 {
		t.sweepLocked(horizon)
	}
	t.seen[key] = append(recent, at)
	return 0, true
}

// sweepLocked drops keys whose newest entry already left the window, so the
// map does not accumulate one-off users.
func (t *submitThrottle) sweepLocked(horizon time.Time) {
	for key, stamps := range t.seen {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(horizon) {
			delete(t.seen, key)
		}
	}
}

func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
