package pubsub

import "errors"

var (
	ErrNotConnected      = errors.New("subscriber not connected")
	ErrNoSession         = errors.New("no session found")
	ErrAlreadySubscribed = errors.New("connection is already subscribed for such event")
	ErrNotSubscribed     = errors.New("not subscribed for event")
	ErrNoEvent           = errors.New("subscription has no event name")
	ErrKeyAssigned       = errors.New("subscription key already assigned")
)
