// Package timer schedules the pool's deferred work. Queue records what is
// due when; Runner is the external loop that pings the pool one unit of
// work at a time.
package timer

import (
	"container/heap"
	"slices"

	"github.com/hicpool/pool-engine/internal/model"
)

// Kind identifies the handler a job is dispatched to.
type Kind string

const (
	KindOvernight            Kind = "overnight"
	KindYield                Kind = "yield"
	KindBondMaturity         Kind = "bond_maturity"
	KindPolicyReconciliation Kind = "policy_reconciliation"
)

// Job is one scheduled unit of work. Subject is empty for pool-level jobs.
type Job struct {
	Kind    Kind       `json:"kind"`
	Subject model.Hash `json:"subject"`
	At      int64      `json:"at"`
	Seq     uint64     `json:"seq"`
}

// Queue is a min-heap of jobs ordered by due time, then by scheduling order.
// At most one job is kept per (kind, subject).
type Queue struct {
	Jobs    jobHeap `json:"jobs"`
	NextSeq uint64  `json:"next_seq"`
}

// Schedule adds a job, replacing any pending job for the same kind and subject.
func (q *Queue) Schedule(kind Kind, subject model.Hash, at int64) {
	q.Cancel(kind, subject)
	q.NextSeq++
	heap.Push(&q.Jobs, Job{Kind: kind, Subject: subject, At: at, Seq: q.NextSeq})
}

// Cancel removes the pending job for kind and subject, if any.
func (q *Queue) Cancel(kind Kind, subject model.Hash) bool {
	for i, j := range q.Jobs {
		if j.Kind == kind && j.Subject == subject {
			heap.Remove(&q.Jobs, i)
			return true
		}
	}
	return false
}

// Find returns the pending job for kind and subject.
func (q *Queue) Find(kind Kind, subject model.Hash) (Job, bool) {
	for _, j := range q.Jobs {
		if j.Kind == kind && j.Subject == subject {
			return j, true
		}
	}
	return Job{}, false
}

// Peek returns the earliest job without removing it.
func (q *Queue) Peek() (Job, bool) {
	if len(q.Jobs) == 0 {
		return Job{}, false
	}
	return q.Jobs[0], true
}

// PopDue removes and returns the earliest job due at or before now.
func (q *Queue) PopDue(now int64) (Job, bool) {
	if len(q.Jobs) == 0 || q.Jobs[0].At > now {
		return Job{}, false
	}
	return heap.Pop(&q.Jobs).(Job), true
}

func (q *Queue) Len() int { return len(q.Jobs) }

// Clone returns an independent copy.
func (q *Queue) Clone() Queue {
	return Queue{Jobs: slices.Clone(q.Jobs), NextSeq: q.NextSeq}
}

type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].Seq < h[j].Seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}
