// Package ratelimit implements fixed-window request limiting. Counters are
// in-memory and reset on restart; that is acceptable for a soft limit.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"moorgate/pkg/models"
)

// Actions with independent windows. Keys are chosen by the caller: user id,
// device id, or "conv_id:user_id" for room mutations.
const (
	ActionConvSend      = "conv_send"
	ActionSocialPublish = "social_publish"
	ActionDMCreate      = "dm_create"
	ActionRoomMutation  = "room_mutation"
	ActionWatchMutation = "watch_mutation"
	ActionLeaseRenew    = "lease_renew"
)

type window struct {
	start time.Time
	count int
}

// Limiter counts events per (action, key) in fixed windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	size    time.Duration
	now     func() time.Time
}

// New creates a limiter with the given window size.
func New(size time.Duration) *Limiter {
	if size <= 0 {
		size = time.Minute
	}
	return &Limiter{
		windows: make(map[string]*window),
		size:    size,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow records one event and reports whether it fits the limit. When the
// window is full, retryAfterS is the whole-second time until rollover
// (minimum 1). A non-positive limit disables the action's limiting.
func (l *Limiter) Allow(action, key string, limit int) (bool, int) {
	if limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := action + "\x00" + key
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= l.size {
		w = &window{start: now}
		l.windows[id] = w
	}

	if w.count >= limit {
		remaining := l.size - now.Sub(w.start)
		retry := int(remaining / time.Second)
		if remaining%time.Second > 0 || retry == 0 {
			retry++
		}
		return false, retry
	}
	w.count++
	return true, 0
}

// Check is Allow returning a typed rate_limited error on rejection.
func (l *Limiter) Check(action, key string, limit int) error {
	if ok, retryAfterS := l.Allow(action, key, limit); !ok {
		return models.ErrRateLimited(retryAfterS)
	}
	return nil
}

// RoomKey builds the per-(conv_id, actor) key for room mutations.
func RoomKey(convID, userID string) string {
	return fmt.Sprintf("%s:%s", convID, userID)
}

// StartCleanup evicts stale windows periodically until stop is closed.
func (l *Limiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-stop:
				return
			}
		}
	}()
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, w := range l.windows {
		if now.Sub(w.start) >= l.size {
			delete(l.windows, id)
		}
	}
}
