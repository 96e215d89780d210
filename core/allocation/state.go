// Package allocation turns drained requests into fulfilment outcomes. The
// Manager owns the pipeline state and exposes the inbound operations used by
// the service loops and the CLI.
package allocation

import (
	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
	"github.com/kilianp07/stockpulse/core/routing"
	"github.com/kilianp07/stockpulse/core/signal"
)

// State is the mutable pipeline state owned by one running process. It is
// only mutated through the component APIs.
type State struct {
	Queues   *queue.Queues
	Regions  *cluster.RegionStore
	Capacity *routing.CapacityLedger
	Signals  *signal.Store
}

// NewState builds an empty state whose capacity ledger starts from rows.
func NewState(rows []model.WarehouseCapacity) *State {
	return &State{
		Queues:   queue.New(),
		Regions:  &cluster.RegionStore{},
		Capacity: routing.NewCapacityLedger(rows),
		Signals:  signal.NewStore(),
	}
}
