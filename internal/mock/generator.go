package mock

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/stratumd/backend/internal/config"
	"github.com/stratumd/backend/internal/events"
	"github.com/stratumd/backend/internal/pubsub"
)

// retargetFactors are applied in turn to the difficulty every
// RetargetEvery jobs.
var retargetFactors = []float64{2, 2, 0.5, 1, 0.5}

// MockGenerator feeds synthetic mining jobs and difficulty changes to
// subscribers so clients can be exercised without an upstream node.
type MockGenerator struct {
	registry      *pubsub.Registry
	jobs          *events.Jobs
	tracker       *events.DifficultyTracker
	interval      time.Duration
	retargetEvery int

	rng      *rand.Rand
	height   int
	prevHash string
	retarget int
}

func NewGenerator(registry *pubsub.Registry, jobs *events.Jobs, tracker *events.DifficultyTracker, cfg config.MockConfig) *MockGenerator {
	return &MockGenerator{
		registry:      registry,
		jobs:          jobs,
		tracker:       tracker,
		interval:      cfg.JobInterval,
		retargetEvery: cfg.RetargetEvery,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		height:        840000,
	}
}

// Start publishes a first job synchronously, then keeps producing jobs in
// the background until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) {
	g.Tick()
	go g.run(ctx)
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick publishes the next job and, every retargetEvery jobs, a new
// difficulty. Not safe for concurrent use.
func (g *MockGenerator) Tick() *events.Job {
	job := g.nextJob()
	sent := g.jobs.Publish(g.registry, job)
	log.Printf("mock: job %s at height %d sent to %d subscribers", job.ID, g.height, sent)

	if g.retargetEvery > 0 && g.height%g.retargetEvery == 0 {
		factor := retargetFactors[g.retarget%len(retargetFactors)]
		g.retarget++
		next := g.tracker.Current() * factor
		if next < 1 {
			next = 1
		}
		if sent := g.tracker.Set(next); sent > 0 {
			log.Printf("mock: difficulty %.0f sent to %d subscribers", next, sent)
		}
	}
	return job
}

func (g *MockGenerator) nextJob() *events.Job {
	g.height++
	// A new block every third job invalidates earlier work.
	clean := g.prevHash == "" || g.height%3 == 0
	if clean {
		g.prevHash = g.randHex(32)
	}

	branch := make([]string, 1+g.rng.Intn(4))
	for i := range branch {
		branch[i] = g.randHex(32)
	}

	return &events.Job{
		ID:           fmt.Sprintf("%x", g.height),
		PrevHash:     g.prevHash,
		Coinbase1:    "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff20" + g.randHex(4),
		Coinbase2:    "ffffffff01" + g.randHex(8) + "1976a914" + g.randHex(20) + "88ac00000000",
		MerkleBranch: branch,
		Version:      "20000000",
		NBits:        "17034219",
		NTime:        fmt.Sprintf("%08x", time.Now().Unix()),
		CleanJobs:    clean,
	}
}

func (g *MockGenerator) randHex(n int) string {
	b := make([]byte, n)
	g.rng.Read(b)
	return hex.EncodeToString(b)
}
