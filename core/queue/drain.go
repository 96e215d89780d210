package queue

import (
	"math"

	"github.com/kilianp07/stockpulse/core/model"
)

const (
	emergencyBuffer    = 1.2
	highPriorityBuffer = 1.5
	// ceilTolerance absorbs float artefacts such as 20*1.1*1.5 = 33.000000000000004.
	ceilTolerance = 1e-9
)

// Item is a drained request with its adjusted quantity.
type Item struct {
	Request       model.AllocationRequest `json:"request"`
	Queue         Kind                    `json:"queue"`
	FinalQuantity int                     `json:"final_quantity"`
}

// Priority returns the routing priority of the item.
func (it Item) Priority() model.Priority { return it.Queue.Priority() }

// FinalQuantity applies the queue transform to a request.
func FinalQuantity(kind Kind, req model.AllocationRequest) int {
	q := float64(req.Quantity)
	switch kind {
	case Emergency:
		return ceil(q * emergencyBuffer)
	case HighPriority:
		if req.Signal != nil {
			if m, ok := req.Signal.DemandMultiplier(); ok {
				q *= m
			}
		}
		return ceil(q * highPriorityBuffer)
	default:
		return req.Quantity
	}
}

// Items transforms a snapshot into drained items, emergency first.
func (s Snapshot) Items() []Item {
	n := 0
	for _, reqs := range s {
		n += len(reqs)
	}
	out := make([]Item, 0, n)
	for _, k := range Kinds {
		for _, req := range s[k] {
			out = append(out, Item{Request: req, Queue: k, FinalQuantity: FinalQuantity(k, req)})
		}
	}
	return out
}

// Drain takes a snapshot of the queues and returns its transformed items.
func (q *Queues) Drain() []Item {
	return q.Take().Items()
}

func ceil(v float64) int {
	return int(math.Ceil(v - ceilTolerance))
}
