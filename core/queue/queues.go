// Package queue classifies allocation requests into priority queues and
// drains them with queue-specific quantity adjustments.
package queue

import (
	"sync"

	"github.com/kilianp07/stockpulse/core/model"
)

// Kind names one of the three queues.
type Kind string

const (
	Emergency    Kind = "emergency"
	HighPriority Kind = "high_priority"
	Standard     Kind = "standard"
)

// Kinds lists the queues in drain order.
var Kinds = []Kind{Emergency, HighPriority, Standard}

// Priority maps a queue to the transfer priority used for routing.
func (k Kind) Priority() model.Priority {
	switch k {
	case Emergency:
		return model.PriorityEmergency
	case HighPriority:
		return model.PriorityHigh
	default:
		return model.PriorityStandard
	}
}

// Status reports queue depths.
type Status map[Kind]int

// Total returns the number of queued requests.
func (s Status) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Snapshot is a point-in-time copy of all queues.
type Snapshot map[Kind][]model.AllocationRequest

// Queues holds the three ordered queues. Enqueue and Take are serialised so a
// request is either in the snapshot being drained or in the next one.
type Queues struct {
	mu    sync.Mutex
	items map[Kind][]model.AllocationRequest
}

// New returns empty queues.
func New() *Queues {
	return &Queues{items: make(map[Kind][]model.AllocationRequest, len(Kinds))}
}

// Enqueue appends req to the queue of the given kind. Unknown kinds go to Standard.
func (q *Queues) Enqueue(kind Kind, req model.AllocationRequest) {
	if kind != Emergency && kind != HighPriority {
		kind = Standard
	}
	q.mu.Lock()
	q.items[kind] = append(q.items[kind], req)
	q.mu.Unlock()
}

// Take returns every queued request and leaves the queues empty.
func (q *Queues) Take() Snapshot {
	q.mu.Lock()
	snap := make(Snapshot, len(Kinds))
	for _, k := range Kinds {
		snap[k] = q.items[k]
	}
	q.items = make(map[Kind][]model.AllocationRequest, len(Kinds))
	q.mu.Unlock()
	return snap
}

// Status returns current depths.
func (q *Queues) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := make(Status, len(Kinds))
	for _, k := range Kinds {
		st[k] = len(q.items[k])
	}
	return st
}
