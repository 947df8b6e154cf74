package ws

import (
	"encoding/json"
	"fmt"

	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/pubsub"
	"github.com/stratumd/backend/internal/session"
)

// HandlerFunc serves one JSON-RPC method for a connection.
type HandlerFunc func(c *client, sess *session.Session, params []json.RawMessage) Result

func (s *Server) registerHandlers() {
	s.handlers = map[string]HandlerFunc{
		"mining.subscribe":            s.handleMiningSubscribe,
		"mining.subscribe_difficulty": s.handleSubscribeDifficulty,
		"mining.authorize":            s.handleAuthorize,
		"server.subscribe_stats":      s.handleSubscribeStats,
		"pubsub.subscribe":            s.handleSubscribe,
		"pubsub.unsubscribe":          s.handleUnsubscribe,
		"pubsub.find":                 s.handleFind,
	}
}

func decodeParams(raw []json.RawMessage) ([]any, error) {
	params := make([]any, 0, len(raw))
	for i, p := range raw {
		var v any
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		params = append(params, v)
	}
	return params, nil
}

func stringParam(raw []json.RawMessage, i int) (string, bool) {
	if i >= len(raw) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw[i], &v); err != nil {
		return "", false
	}
	return v, true
}

// behaviorFor returns the variant serving event; unknown events get the
// plain passthrough variant.
func (s *Server) behaviorFor(event string) pubsub.Behavior {
	switch event {
	case events.EventJobs:
		return s.jobs
	case events.EventDifficulty:
		return events.Difficulty{Tracker: s.tracker}
	case events.EventStats:
		return events.Stats{}
	default:
		return pubsub.Event(event)
	}
}

func (s *Server) subscribeWith(b pubsub.Behavior, raw []json.RawMessage) Result {
	params, err := decodeParams(raw)
	if err != nil {
		return Fail(ErrCodeInvalidParams, err.Error())
	}
	sub, err := pubsub.NewSubscription(b, params...)
	if err != nil {
		return Fail(ErrCodeInvalidParams, err.Error())
	}
	return SubscribeTo(sub)
}

// mining.subscribe [version, ...]
func (s *Server) handleMiningSubscribe(_ *client, _ *session.Session, params []json.RawMessage) Result {
	return s.subscribeWith(s.jobs, params)
}

func (s *Server) handleSubscribeDifficulty(_ *client, _ *session.Session, params []json.RawMessage) Result {
	return s.subscribeWith(events.Difficulty{Tracker: s.tracker}, params)
}

func (s *Server) handleSubscribeStats(_ *client, _ *session.Session, params []json.RawMessage) Result {
	return s.subscribeWith(events.Stats{}, params)
}

// pubsub.subscribe [event, params...]
func (s *Server) handleSubscribe(_ *client, _ *session.Session, params []json.RawMessage) Result {
	event, ok := stringParam(params, 0)
	if !ok || event == "" {
		return Fail(ErrCodeInvalidParams, "event name required")
	}
	return s.subscribeWith(s.behaviorFor(event), params[1:])
}

// pubsub.unsubscribe [key]
func (s *Server) handleUnsubscribe(_ *client, _ *session.Session, params []json.RawMessage) Result {
	key, ok := stringParam(params, 0)
	if !ok {
		return Fail(ErrCodeInvalidParams, "subscription key required")
	}
	return UnsubscribeFrom(key)
}

// pubsub.find [event] answers the [event, key] handle of the connection's
// first subscription to event.
func (s *Server) handleFind(c *client, _ *session.Session, params []json.RawMessage) Result {
	event, ok := stringParam(params, 0)
	if !ok {
		return Fail(ErrCodeInvalidParams, "event name required")
	}
	sub, err := s.registry.FindSubscription(c, event)
	if err != nil {
		rpcErr := rpcError(err)
		return Fail(rpcErr.Code, rpcErr.Message)
	}
	return Reply([]string{sub.Event(), sub.Key()})
}

// mining.authorize [username, password]
//
// Credentials are recorded for the session; checking them is left to the
// share pipeline.
func (s *Server) handleAuthorize(_ *client, sess *session.Session, params []json.RawMessage) Result {
	name, ok := stringParam(params, 0)
	if !ok || name == "" {
		return Fail(ErrCodeInvalidParams, "worker name required")
	}
	password, _ := stringParam(params, 1)
	sess.Authorize(name, password)

	for _, entry := range sess.Subscriptions() {
		if sub, ok := entry.(*pubsub.Subscription); ok {
			sub.BindWorker(sess)
		}
	}
	return Reply(true)
}
