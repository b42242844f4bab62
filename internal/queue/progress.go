package queue

import (
	"github.com/Forest904/beathub/internal/domain"
)

// Accumulator rebases the engine's per-batch completed counter onto a
// job-global running total. The engine resets its local counter on every
// DownloadMany call; watchers must still see monotonic global progress.
type Accumulator struct {
	base      int
	prevLocal int
}

// Rebase folds a local counter value into the global count. A local value
// lower than the previous one means the engine started a new batch, so the
// previous batch's count is rolled into the base.
func (a *Accumulator) Rebase(local int) int {
	if local < a.prevLocal {
		a.base += a.prevLocal
	}
	a.prevLocal = local
	return a.base + local
}

// progressRelay returns the per-job callback installed before engine calls:
// it rewrites the engine's local counters into job-global ones, stamps the
// job id, and republishes through the broker.
func (q *Queue) progressRelay(job *domain.Job, total int) func(domain.ProgressEvent) {
	acc := &Accumulator{}
	return func(ev domain.ProgressEvent) {
		ev[domain.EventKeyCompleted] = acc.Rebase(ev.Int(domain.EventKeyCompleted))
		ev[domain.EventKeyTotal] = total
		ev[domain.EventKeyJobID] = job.ID
		q.broker.Publish(ev)
	}
}
