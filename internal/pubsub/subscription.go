package pubsub

import (
	"fmt"
	"sync"

	"github.com/stratumd/backend/internal/session"
)

// Behavior fixes the event of a subscription variant.
type Behavior interface {
	Event() string
}

// PayloadProcessor reshapes emitted arguments into the outbound payload.
// Returning ok == false suppresses the notification for that subscriber.
type PayloadProcessor interface {
	ProcessPayload(sub *Subscription, args []any) (payload []any, ok bool)
}

// AfterDeliverer runs after a notification has been handed to the
// connection.
type AfterDeliverer interface {
	AfterDeliver(sub *Subscription, args []any)
}

// AfterSubscriber runs once after registration, when the Ack is completed.
type AfterSubscriber interface {
	AfterSubscribe(sub *Subscription)
}

// Event is the plain variant: a named event with passthrough payloads.
type Event string

func (e Event) Event() string { return string(e) }

// SessionLookup resolves a connection ID to its live session.
type SessionLookup interface {
	Get(id string) (*session.Session, bool)
}

// Subscription is one connection's interest in one event.
type Subscription struct {
	behavior      Behavior
	event         string
	params        []any
	clientVersion string

	// Set once by Registry.Subscribe before the subscription is published.
	key      string
	connID   string
	sessions SessionLookup

	mu             sync.Mutex
	workerName     string
	workerPassword string
}

// NewSubscription builds an unregistered subscription for b. The first
// param, if any, is taken as the client's software version.
func NewSubscription(b Behavior, params ...any) (*Subscription, error) {
	if b == nil || b.Event() == "" {
		return nil, ErrNoEvent
	}
	s := &Subscription{
		behavior: b,
		event:    b.Event(),
		params:   params,
	}
	if len(params) > 0 && params[0] != nil {
		if v, ok := params[0].(string); ok {
			s.clientVersion = v
		} else {
			s.clientVersion = fmt.Sprint(params[0])
		}
	}
	return s, nil
}

func (s *Subscription) Event() string         { return s.event }
func (s *Subscription) Key() string           { return s.key }
func (s *Subscription) Behavior() Behavior    { return s.behavior }
func (s *Subscription) ClientVersion() string { return s.clientVersion }
func (s *Subscription) ConnID() string        { return s.connID }

func (s *Subscription) Params() []any {
	out := make([]any, len(s.params))
	copy(out, s.params)
	return out
}

func (s *Subscription) Worker() (name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerName, s.workerPassword
}

// Equal reports whether both subscriptions carry the same key.
func (s *Subscription) Equal(other *Subscription) bool {
	return other != nil && other.key == s.key
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s/%s", s.event, s.key)
}

// assignKey gives the subscription its permanent key, avoiding every key in
// existing.
func (s *Subscription) assignKey(existing map[string]struct{}) (string, error) {
	if s.key != "" {
		return "", ErrKeyAssigned
	}
	s.key = generateKey(existing)
	return s.key, nil
}

func (s *Subscription) attach(connID string, sessions SessionLookup) {
	s.connID = connID
	s.sessions = sessions
}

// BindWorker adopts the first authorized worker of sess unless a worker is
// already bound. A session without authorized workers leaves it unset.
func (s *Subscription) BindWorker(sess *session.Session) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workerName != "" && s.workerPassword != "" {
		return
	}
	workers := sess.AuthorizedWorkers()
	if len(workers) == 0 {
		return
	}
	s.workerName = workers[0].Name
	s.workerPassword = workers[0].Password
}

// Session returns the owning session, or false once the connection is gone.
func (s *Subscription) Session() (*session.Session, bool) {
	if s.sessions == nil {
		return nil, false
	}
	return s.sessions.Get(s.connID)
}

func (s *Subscription) conn() (session.Conn, bool) {
	sess, ok := s.Session()
	if !ok {
		return nil, false
	}
	return sess.Conn(), true
}

func (s *Subscription) remoteAddr() string {
	if c, ok := s.conn(); ok {
		return c.RemoteAddr()
	}
	return "-"
}

// ProcessPayload turns emitted args into the payload sent to this
// subscriber. Without a PayloadProcessor the args pass through unchanged.
func (s *Subscription) ProcessPayload(args []any) ([]any, bool) {
	if p, ok := s.behavior.(PayloadProcessor); ok {
		return p.ProcessPayload(s, args)
	}
	payload := make([]any, len(args))
	copy(payload, args)
	return payload, true
}

// Deliver notifies this subscriber. A vanished connection and a suppressed
// payload are both silent no-ops.
func (s *Subscription) Deliver(args ...any) error {
	_, err := s.deliver(args)
	return err
}

func (s *Subscription) deliver(args []any) (bool, error) {
	c, ok := s.conn()
	if !ok {
		return false, nil
	}
	payload, ok := s.ProcessPayload(args)
	if !ok {
		return false, nil
	}
	if payload == nil {
		payload = []any{}
	}
	if err := c.Notify(s.event, payload); err != nil {
		return false, err
	}
	if h, ok := s.behavior.(AfterDeliverer); ok {
		h.AfterDeliver(s, args)
	}
	return true, nil
}
