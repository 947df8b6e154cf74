package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/pubsub"
	"github.com/stratumd/backend/internal/session"
)

type countingConn struct {
	mu     sync.Mutex
	params [][]any
}

func (c *countingConn) ID() string         { return "stats-client" }
func (c *countingConn) RemoteAddr() string { return "127.0.0.1:1" }

func (c *countingConn) Notify(_ string, params []any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, params)
	return nil
}

func (c *countingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.params)
}

func TestSample(t *testing.T) {
	store := session.NewStore()
	r := pubsub.NewRegistry(store)
	s, err := NewSampler(r, store, time.Second)
	require.NoError(t, err)

	snap, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Sessions)
	assert.Greater(t, snap.RSSBytes, uint64(0))
	assert.Greater(t, snap.Goroutines, 0)
	assert.False(t, snap.Time.IsZero())
}

func TestPublishSkipsWithoutSubscribers(t *testing.T) {
	store := session.NewStore()
	r := pubsub.NewRegistry(store)
	s, err := NewSampler(r, store, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 0, s.publish(context.Background()))
}

func TestStartPublishes(t *testing.T) {
	store := session.NewStore()
	r := pubsub.NewRegistry(store)
	conn := &countingConn{}
	store.Add(session.New(conn))

	sub, err := pubsub.NewSubscription(events.Stats{})
	require.NoError(t, err)
	_, err = r.Subscribe(conn, sub)
	require.NoError(t, err)

	s, err := NewSampler(r, store, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return conn.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	conn.mu.Lock()
	snap, ok := conn.params[0][0].(Snapshot)
	conn.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, snap.Sessions)
	assert.Equal(t, map[string]int{events.EventStats: 1}, snap.Subscriptions)
}

func TestStartDisabled(t *testing.T) {
	store := session.NewStore()
	s, err := NewSampler(pubsub.NewRegistry(store), store, 0)
	require.NoError(t, err)

	// Returns immediately without a running context.
	s.Start(context.Background())
}
