package events

import "github.com/stratumd/backend/internal/pubsub"

// Stats is the server.stats variant. Payloads pass through unchanged.
type Stats struct{}

func (Stats) Event() string { return EventStats }

func (s Stats) Broadcast(r *pubsub.Registry, snapshot any) int {
	return r.Broadcast(s, snapshot)
}
