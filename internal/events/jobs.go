package events

import (
	"log"
	"sync/atomic"

	"github.com/stratumd/backend/internal/pubsub"
)

// Job is a unit of mining work as sent in mining.notify.
type Job struct {
	ID           string
	PrevHash     string
	Coinbase1    string
	Coinbase2    string
	MerkleBranch []string
	Version      string
	NBits        string
	NTime        string
	CleanJobs    bool
}

// Params returns the positional mining.notify parameters.
func (j *Job) Params() []any {
	branch := j.MerkleBranch
	if branch == nil {
		branch = []string{}
	}
	return []any{j.ID, j.PrevHash, j.Coinbase1, j.Coinbase2, branch, j.Version, j.NBits, j.NTime, j.CleanJobs}
}

// Jobs is the mining.notify variant. One Jobs value is shared by all
// mining.notify subscriptions of a server.
type Jobs struct {
	// RequireAuthorized withholds jobs from connections that have not
	// authorized a worker yet.
	RequireAuthorized bool

	current   atomic.Pointer[Job]
	delivered atomic.Uint64
}

func (*Jobs) Event() string { return EventJobs }

func (j *Jobs) ProcessPayload(sub *pubsub.Subscription, args []any) ([]any, bool) {
	if len(args) != 1 {
		return nil, false
	}
	job, ok := args[0].(*Job)
	if !ok || job == nil {
		log.Printf("events: %s: unexpected job argument %T", sub, args[0])
		return nil, false
	}
	if j.RequireAuthorized {
		if sess, ok := sub.Session(); ok {
			sub.BindWorker(sess)
		}
		if name, _ := sub.Worker(); name == "" {
			return nil, false
		}
	}
	return job.Params(), true
}

func (j *Jobs) AfterDeliver(*pubsub.Subscription, []any) {
	j.delivered.Add(1)
}

// AfterSubscribe sends the current job so a new miner can start at once.
func (j *Jobs) AfterSubscribe(sub *pubsub.Subscription) {
	job := j.current.Load()
	if job == nil {
		return
	}
	if err := sub.Deliver(job); err != nil {
		log.Printf("events: initial job for %s: %v", sub, err)
	}
}

// Publish makes job current and sends it to every subscriber.
func (j *Jobs) Publish(r *pubsub.Registry, job *Job) int {
	j.current.Store(job)
	return r.Broadcast(j, job)
}

func (j *Jobs) Current() *Job { return j.current.Load() }

// Delivered is the total number of mining.notify messages sent.
func (j *Jobs) Delivered() uint64 { return j.delivered.Load() }
