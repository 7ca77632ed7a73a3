package gate

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUThrottle is an in-process, fixed-capacity failure throttle.
//
// Capacity is bounded by the LRU, so a flood of distinct (message, source)
// pairs evicts old entries instead of growing the map without limit.
type LRUThrottle struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *failureWindow]
	threshold int
	window    time.Duration
}

type failureWindow struct {
	start    time.Time
	failures int
}

// NewLRUThrottle creates a throttle that blocks a (message, source) pair
// after threshold failures within window. capacity bounds the number of
// tracked pairs.
func NewLRUThrottle(capacity, threshold int, window time.Duration) (*LRUThrottle, error) {
	cache, err := lru.New[string, *failureWindow](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUThrottle{cache: cache, threshold: threshold, window: window}, nil
}

// Blocked implements Throttle.
func (t *LRUThrottle) Blocked(messageID, source string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.cache.Get(throttleKey(messageID, source))
	if !ok {
		return false
	}
	if now.Sub(w.start) > t.window {
		// Window elapsed; the entry is stale.
		t.cache.Remove(throttleKey(messageID, source))
		return false
	}
	return w.failures >= t.threshold
}

// RecordFailure implements Throttle.
func (t *LRUThrottle) RecordFailure(messageID, source string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := throttleKey(messageID, source)
	w, ok := t.cache.Get(key)
	if !ok || now.Sub(w.start) > t.window {
		t.cache.Add(key, &failureWindow{start: now, failures: 1})
		return
	}
	w.failures++
}

func throttleKey(messageID, source string) string {
	return messageID + "\x00" + source
}
