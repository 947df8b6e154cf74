package events

import (
	"log"
	"sync"

	"github.com/stratumd/backend/internal/pubsub"
)

// Difficulty is the mining.set_difficulty variant. A new subscriber is sent
// the current difficulty once its subscribe response has gone out.
type Difficulty struct {
	Tracker *DifficultyTracker
}

func (Difficulty) Event() string { return EventDifficulty }

// ProcessPayload expects exactly one argument, the difficulty.
func (Difficulty) ProcessPayload(_ *pubsub.Subscription, args []any) ([]any, bool) {
	if len(args) != 1 {
		return nil, false
	}
	return []any{args[0]}, true
}

func (d Difficulty) AfterSubscribe(sub *pubsub.Subscription) {
	if d.Tracker == nil {
		return
	}
	cur := d.Tracker.Current()
	if cur <= 0 {
		return
	}
	if err := sub.Deliver(cur); err != nil {
		log.Printf("events: initial difficulty for %s: %v", sub, err)
	}
}

// Broadcast sends difficulty to every mining.set_difficulty subscriber.
func (d Difficulty) Broadcast(r *pubsub.Registry, difficulty float64) int {
	return r.Broadcast(d, difficulty)
}

// DifficultyTracker holds the pool's current share difficulty and notifies
// subscribers when it changes.
type DifficultyTracker struct {
	registry *pubsub.Registry

	mu      sync.RWMutex
	current float64
}

func NewDifficultyTracker(r *pubsub.Registry, initial float64) *DifficultyTracker {
	return &DifficultyTracker{registry: r, current: initial}
}

func (t *DifficultyTracker) Current() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Set updates the difficulty. Subscribers are only notified on a change;
// the returned count is the number of notifications sent.
func (t *DifficultyTracker) Set(difficulty float64) int {
	t.mu.Lock()
	if difficulty == t.current {
		t.mu.Unlock()
		return 0
	}
	t.current = difficulty
	t.mu.Unlock()

	return Difficulty{Tracker: t}.Broadcast(t.registry, difficulty)
}
