package charging

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargeflow/internal/clock"
)

// TimeoutRegistry holds at most one pending payment timer per purchase.
type TimeoutRegistry struct {
	clock clock.Clock

	mu     sync.Mutex
	timers map[snowflake.ID]*timeoutEntry
}

type timeoutEntry struct {
	timer clock.Timer
}

func NewTimeoutRegistry(c clock.Clock) *TimeoutRegistry {
	return &TimeoutRegistry{
		clock:  c,
		timers: map[snowflake.ID]*timeoutEntry{},
	}
}

// Schedule arms fn to run after d, replacing any timer already armed for the
// purchase.
func (r *TimeoutRegistry) Schedule(purchaseID snowflake.ID, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.timers[purchaseID]; ok {
		current.timer.Stop()
	}

	entry := &timeoutEntry{}
	entry.timer = r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		if current, ok := r.timers[purchaseID]; ok && current == entry {
			delete(r.timers, purchaseID)
		}
		r.mu.Unlock()
		fn()
	})
	r.timers[purchaseID] = entry
}

// Cancel stops the purchase timer and reports whether one was armed.
func (r *TimeoutRegistry) Cancel(purchaseID snowflake.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.timers[purchaseID]
	if !ok {
		return false
	}
	delete(r.timers, purchaseID)
	return entry.timer.Stop()
}

func (r *TimeoutRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// StopAll disarms every timer. Purchases left pending stay pending.
func (r *TimeoutRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.timers {
		entry.timer.Stop()
		delete(r.timers, id)
	}
}
