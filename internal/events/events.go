// Package events defines the notification channels the server publishes and
// the subscription variants clients use to receive them.
package events

const (
	EventJobs       = "mining.notify"
	EventDifficulty = "mining.set_difficulty"
	EventStats      = "server.stats"
)
