package session

import (
	"fmt"
	"sync"
	"testing"
)

type testConn struct{ id string }

func (c testConn) ID() string                 { return c.id }
func (c testConn) RemoteAddr() string         { return "127.0.0.1:3333" }
func (c testConn) Notify(string, []any) error { return nil }

type testSub struct{ key, event string }

func (s testSub) Key() string   { return s.key }
func (s testSub) Event() string { return s.event }

func TestNewStore(t *testing.T) {
	s := NewStore()
	if s == nil {
		t.Fatal("NewStore() returned nil")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("new store Count() = %d, want 0", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	sess, ok := s.Get("nonexistent")
	if ok {
		t.Error("Get for missing key returned ok=true")
	}
	if sess != nil {
		t.Error("Get for missing key returned non-nil session")
	}
}

func TestAddGetRemove(t *testing.T) {
	s := NewStore()
	sess := New(testConn{id: "a"})
	s.Add(sess)

	got, ok := s.Get("a")
	if !ok || got != sess {
		t.Fatalf("Get(a) = %v, %v; want the added session", got, ok)
	}

	removed, ok := s.Remove("a")
	if !ok || removed != sess {
		t.Fatalf("Remove(a) = %v, %v; want the added session", removed, ok)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("Get after Remove returned ok=true")
	}
	if _, ok := s.Remove("a"); ok {
		t.Error("second Remove returned ok=true")
	}
}

func TestIDsSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Add(New(testConn{id: id}))
	}
	ids := s.IDs()
	want := []string{"a", "b", "c"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("IDs() = %v, want %v", ids, want)
	}
}

func TestSubscriptionTable(t *testing.T) {
	sess := New(testConn{id: "a"})

	if !sess.AddSubscription(testSub{key: "1", event: "x"}) {
		t.Fatal("AddSubscription(1) = false")
	}
	if !sess.AddSubscription(testSub{key: "2", event: "y"}) {
		t.Fatal("AddSubscription(2) = false")
	}
	if sess.AddSubscription(testSub{key: "1", event: "z"}) {
		t.Error("AddSubscription with duplicate key = true")
	}
	if sub, _ := sess.Subscription("1"); sub.Event() != "x" {
		t.Errorf("duplicate add replaced entry: event = %s", sub.Event())
	}

	subs := sess.Subscriptions()
	if len(subs) != 2 || subs[0].Key() != "1" || subs[1].Key() != "2" {
		t.Errorf("Subscriptions() = %v, want keys [1 2] in order", subs)
	}

	if !sess.RemoveSubscription("1") {
		t.Error("RemoveSubscription(1) = false")
	}
	if sess.RemoveSubscription("1") {
		t.Error("second RemoveSubscription(1) = true")
	}
	if sess.HasSubscription("1") {
		t.Error("HasSubscription(1) after removal = true")
	}

	cleared := sess.Clear()
	if len(cleared) != 1 || cleared[0].Key() != "2" {
		t.Errorf("Clear() = %v, want [2]", cleared)
	}
	if len(sess.Subscriptions()) != 0 {
		t.Error("Subscriptions() not empty after Clear")
	}
}

func TestAuthorize(t *testing.T) {
	sess := New(testConn{id: "a"})
	if len(sess.AuthorizedWorkers()) != 0 {
		t.Fatal("new session has authorized workers")
	}

	sess.Authorize("alice.rig1", "x")
	sess.Authorize("alice.rig2", "y")
	sess.Authorize("alice.rig1", "z")

	workers := sess.AuthorizedWorkers()
	if len(workers) != 2 {
		t.Fatalf("got %d workers, want 2", len(workers))
	}
	if workers[0] != (Worker{Name: "alice.rig1", Password: "z"}) {
		t.Errorf("workers[0] = %+v", workers[0])
	}
	if workers[1].Name != "alice.rig2" {
		t.Errorf("workers[1] = %+v", workers[1])
	}

	// The returned slice is a copy.
	workers[0].Name = "mallory"
	if sess.AuthorizedWorkers()[0].Name != "alice.rig1" {
		t.Error("AuthorizedWorkers did not return a copy")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			sess := New(testConn{id: id})
			s.Add(sess)
			sess.AddSubscription(testSub{key: id, event: "x"})
			sess.Authorize(id, "x")
			s.Get(id)
			s.IDs()
			if i%2 == 0 {
				s.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if got := s.Count(); got != 25 {
		t.Errorf("Count() = %d, want 25", got)
	}
}
