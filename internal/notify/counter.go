package notify

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RecentCounter counts notifications scheduled per user within a sliding
// window. It tracks at most a bounded number of users.
type RecentCounter struct {
	window time.Duration

	mu    sync.Mutex
	times *lru.Cache[string, []time.Time]
}

// NewRecentCounter creates a counter over window for up to maxUsers users.
func NewRecentCounter(window time.Duration, maxUsers int) *RecentCounter {
	if maxUsers <= 0 {
		maxUsers = 4096
	}
	c, _ := lru.New[string, []time.Time](maxUsers)
	return &RecentCounter{window: window, times: c}
}

// Record notes a notification for userID at t.
func (c *RecentCounter) Record(userID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, _ := c.times.Get(userID)
	ts = append(prune(ts, t.Add(-c.window)), t)
	c.times.Add(userID, ts)
}

// Count returns how many notifications userID had in the window ending at now.
func (c *RecentCounter) Count(userID string, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.times.Get(userID)
	if !ok {
		return 0
	}
	ts = prune(ts, now.Add(-c.window))
	c.times.Add(userID, ts)
	return len(ts)
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return append([]time.Time(nil), ts[i:]...)
}
