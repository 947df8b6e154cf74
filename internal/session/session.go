package session

import (
	"sync"
	"time"
)

// Conn is the write side of a client connection as seen by the rest of the
// server.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Notify sends a one-way notification. No response is expected.
	Notify(method string, params []any) error
}

// Subscriber is an entry in a session's subscription table.
type Subscriber interface {
	Key() string
	Event() string
}

// Worker is a credential pair accepted by mining.authorize.
type Worker struct {
	Name     string
	Password string
}

// Session is the per-connection state bag. It owns the connection's
// subscriptions: once the session is removed from the Store they are no
// longer reachable from anywhere else.
type Session struct {
	conn      Conn
	createdAt time.Time

	mu      sync.RWMutex
	workers []Worker
	subs    map[string]Subscriber
	order   []string
}

func New(conn Conn) *Session {
	return &Session{
		conn:      conn,
		createdAt: time.Now(),
		subs:      make(map[string]Subscriber),
	}
}

func (s *Session) ID() string         { return s.conn.ID() }
func (s *Session) Conn() Conn         { return s.conn }
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Authorize records a worker. Re-authorizing an existing name replaces its
// password but keeps its position.
func (s *Session) Authorize(name, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.workers {
		if s.workers[i].Name == name {
			s.workers[i].Password = password
			return
		}
	}
	s.workers = append(s.workers, Worker{Name: name, Password: password})
}

// AuthorizedWorkers returns the authorized workers in authorization order.
func (s *Session) AuthorizedWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Worker, len(s.workers))
	copy(out, s.workers)
	return out
}

// AddSubscription stores sub under its key. It returns false, leaving the
// table untouched, if the key is already present.
func (s *Session) AddSubscription(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sub.Key()
	if _, ok := s.subs[key]; ok {
		return false
	}
	s.subs[key] = sub
	s.order = append(s.order, key)
	return true
}

func (s *Session) RemoveSubscription(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		return false
	}
	delete(s.subs, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Session) HasSubscription(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subs[key]
	return ok
}

func (s *Session) Subscription(key string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[key]
	return sub, ok
}

// Subscriptions returns the subscription table in insertion order.
func (s *Session) Subscriptions() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.subs[k])
	}
	return out
}

// Clear empties the subscription table and returns what was in it.
func (s *Session) Clear() []Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscriber, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.subs[k])
	}
	s.subs = make(map[string]Subscriber)
	s.order = nil
	return out
}
