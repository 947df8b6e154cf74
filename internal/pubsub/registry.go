package pubsub

import (
	"fmt"
	"iter"
	"log"
	"sort"
	"sync"

	"github.com/stratumd/backend/internal/session"
)

// ref identifies an index entry. It never keeps a subscription alive.
type ref struct {
	connID string
	key    string
}

// Ack acknowledges a successful Subscribe. Event and Key are echoed back to
// the client as the subscription handle.
type Ack struct {
	Event string
	Key   string

	after func()
	once  sync.Once
}

// Pair returns the (event, key) handle.
func (a *Ack) Pair() []string {
	return []string{a.Event, a.Key}
}

// HasContinuation reports whether Complete will run a post-subscribe step.
func (a *Ack) HasContinuation() bool {
	return a.after != nil
}

// Complete runs the post-subscribe step, if any. Callers answering a client
// request must call it only after the response has been written. Repeated
// calls are no-ops.
func (a *Ack) Complete() {
	a.once.Do(func() {
		if a.after != nil {
			a.after()
		}
	})
}

type Option func(*Registry)

// WithDebug logs every subscriber as it is yielded to a fan-out.
func WithDebug(debug bool) Option {
	return func(r *Registry) { r.debug = debug }
}

// Registry is the event index plus the subscribe/unsubscribe/emit protocol.
// One Registry is created at startup and shared by all connections.
type Registry struct {
	sessions SessionLookup
	debug    bool

	mu    sync.Mutex
	index map[string][]ref
}

func NewRegistry(sessions SessionLookup, opts ...Option) *Registry {
	r := &Registry{
		sessions: sessions,
		index:    make(map[string][]ref),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) session(conn session.Conn) (*session.Session, error) {
	if conn == nil {
		return nil, ErrNotConnected
	}
	sess, ok := r.sessions.Get(conn.ID())
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

// resolve looks e up in its session. A key reused on the same connection by
// another event does not resolve.
func (r *Registry) resolve(event string, e ref) (*Subscription, bool) {
	sess, ok := r.sessions.Get(e.connID)
	if !ok {
		return nil, false
	}
	entry, ok := sess.Subscription(e.key)
	if !ok {
		return nil, false
	}
	sub, ok := entry.(*Subscription)
	if !ok || sub.event != event {
		return nil, false
	}
	return sub, true
}

// pruneLocked drops unresolvable entries for event and returns the live
// subscriptions in index order. r.mu must be held.
func (r *Registry) pruneLocked(event string) []*Subscription {
	refs := r.index[event]
	live := make([]*Subscription, 0, len(refs))
	kept := refs[:0]
	for _, e := range refs {
		sub, ok := r.resolve(event, e)
		if !ok {
			continue
		}
		kept = append(kept, e)
		live = append(live, sub)
	}
	if len(kept) == 0 {
		delete(r.index, event)
	} else {
		clear(refs[len(kept):])
		r.index[event] = kept
	}
	return live
}

// Subscribe registers sub for conn. The returned Ack must be completed by
// the caller; see Ack.Complete.
func (r *Registry) Subscribe(conn session.Conn, sub *Subscription) (*Ack, error) {
	sess, err := r.session(conn)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoEvent
	}

	r.mu.Lock()
	live := r.pruneLocked(sub.event)
	keys := make(map[string]struct{}, len(live))
	for _, s := range live {
		keys[s.key] = struct{}{}
	}

	key, err := sub.assignKey(keys)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	if sess.HasSubscription(key) {
		r.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}

	sub.attach(conn.ID(), r.sessions)
	sub.BindWorker(sess)
	sess.AddSubscription(sub)
	r.index[sub.event] = append(r.index[sub.event], ref{connID: conn.ID(), key: key})
	r.mu.Unlock()

	r.logSubscriber("subscribed", sub)

	ack := &Ack{Event: sub.event, Key: key}
	if h, ok := sub.behavior.(AfterSubscriber); ok {
		ack.after = func() { h.AfterSubscribe(sub) }
	}
	return ack, nil
}

// Unsubscribe removes the subscription with key from conn's session. A
// missing key is not an error: it returns false and logs a warning.
func (r *Registry) Unsubscribe(conn session.Conn, key string) (bool, error) {
	sess, err := r.session(conn)
	if err != nil {
		return false, err
	}
	if !sess.RemoveSubscription(key) {
		log.Printf("pubsub: warning: cannot remove subscription %q from session %s", key, conn.ID())
		return false, nil
	}
	return true, nil
}

// UnsubscribeSubscription is Unsubscribe using sub's key.
func (r *Registry) UnsubscribeSubscription(conn session.Conn, sub *Subscription) (bool, error) {
	key := ""
	if sub != nil {
		key = sub.key
	}
	return r.Unsubscribe(conn, key)
}

// SubscriptionCount returns the number of live subscribers of event.
func (r *Registry) SubscriptionCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pruneLocked(event))
}

// Events returns the live subscriber count of every event that has one.
func (r *Registry) Events() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make([]string, 0, len(r.index))
	for event := range r.index {
		events = append(events, event)
	}
	sort.Strings(events)
	out := make(map[string]int, len(events))
	for _, event := range events {
		if n := len(r.pruneLocked(event)); n > 0 {
			out[event] = n
		}
	}
	return out
}

// FindSubscription returns conn's first subscription to event, in
// subscription order.
func (r *Registry) FindSubscription(conn session.Conn, event string) (*Subscription, error) {
	sess, err := r.session(conn)
	if err != nil {
		return nil, err
	}
	for _, entry := range sess.Subscriptions() {
		if entry.Event() != event {
			continue
		}
		if sub, ok := entry.(*Subscription); ok {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrNotSubscribed, event)
}

// Subscribers yields the live subscribers of event in index order. The
// index is snapshotted when iteration starts; subscribers whose connection
// or key has gone away by the time they are reached are skipped.
func (r *Registry) Subscribers(event string) iter.Seq[*Subscription] {
	return func(yield func(*Subscription) bool) {
		r.mu.Lock()
		refs := make([]ref, len(r.index[event]))
		copy(refs, r.index[event])
		r.mu.Unlock()

		stale := false
		defer func() {
			if stale {
				r.mu.Lock()
				r.pruneLocked(event)
				r.mu.Unlock()
			}
		}()

		for _, e := range refs {
			sub, ok := r.resolve(event, e)
			if !ok {
				stale = true
				continue
			}
			r.logSubscriber("yield", sub)
			if !yield(sub) {
				return
			}
		}
	}
}

// Emit notifies every live subscriber of event with args and returns how
// many notifications were sent. A failing subscriber is logged and skipped.
func (r *Registry) Emit(event string, args ...any) int {
	sent := 0
	for sub := range r.Subscribers(event) {
		ok, err := sub.deliver(args)
		if err != nil {
			log.Printf("pubsub: deliver %s to %s failed: %v", sub, sub.remoteAddr(), err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent
}

// Broadcast emits args on the fixed event of b.
func (r *Registry) Broadcast(b Behavior, args ...any) int {
	event := b.Event()
	if event == "" {
		log.Printf("pubsub: broadcast on %T without an event name ignored", b)
		return 0
	}
	return r.Emit(event, args...)
}

// Disconnect drops every index entry belonging to connID. Transports call
// it after removing the connection's session.
func (r *Registry) Disconnect(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for event, refs := range r.index {
		kept := refs[:0]
		for _, e := range refs {
			if e.connID == connID {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.index, event)
		} else {
			clear(refs[len(kept):])
			r.index[event] = kept
		}
	}
	return removed
}

func (r *Registry) logSubscriber(action string, sub *Subscription) {
	if !r.debug {
		return
	}
	name, _ := sub.Worker()
	if name == "" {
		log.Printf("pubsub: %s %s (addr %s, version %q)", action, sub, sub.remoteAddr(), sub.clientVersion)
		return
	}
	log.Printf("pubsub: %s %s (addr %s, worker %s, version %q)", action, sub, sub.remoteAddr(), name, sub.clientVersion)
}
