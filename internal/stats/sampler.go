// Package stats samples server process metrics and publishes them to
// server.stats subscribers.
package stats

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/pubsub"
)

type Snapshot struct {
	Time          time.Time      `json:"time"`
	Sessions      int            `json:"sessions"`
	Subscriptions map[string]int `json:"subscriptions"`
	CPUPercent    float64        `json:"cpu_percent"`
	RSSBytes      uint64         `json:"rss_bytes"`
	Threads       int32          `json:"threads"`
	Goroutines    int            `json:"goroutines"`
}

// SessionCounter reports the number of connected clients.
type SessionCounter interface {
	Count() int
}

type Sampler struct {
	registry *pubsub.Registry
	sessions SessionCounter
	interval time.Duration
	proc     *process.Process
}

func NewSampler(r *pubsub.Registry, sessions SessionCounter, interval time.Duration) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening own process: %w", err)
	}
	return &Sampler{
		registry: r,
		sessions: sessions,
		interval: interval,
		proc:     proc,
	}, nil
}

func (s *Sampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Time:          time.Now().UTC(),
		Sessions:      s.sessions.Count(),
		Subscriptions: s.registry.Events(),
		Goroutines:    runtime.NumGoroutine(),
	}

	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("cpu percent: %w", err)
	}
	snap.CPUPercent = cpu

	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("memory info: %w", err)
	}
	snap.RSSBytes = mem.RSS

	threads, err := s.proc.NumThreadsWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("threads: %w", err)
	}
	snap.Threads = threads

	return snap, nil
}

// Start publishes a snapshot every interval until ctx is done. Ticks with no
// server.stats subscribers are skipped. A zero interval disables sampling.
func (s *Sampler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(ctx)
		}
	}
}

func (s *Sampler) publish(ctx context.Context) int {
	if s.registry.SubscriptionCount(events.EventStats) == 0 {
		return 0
	}
	snap, err := s.Sample(ctx)
	if err != nil {
		log.Printf("stats: sample failed: %v", err)
		return 0
	}
	return events.Stats{}.Broadcast(s.registry, snap)
}
