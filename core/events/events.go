package events

import (
	"time"

	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/routing"
)

// RequestQueued is published when a request enters a priority queue.
type RequestQueued struct {
	Request model.AllocationRequest
	Queue   string
	Depth   int
}

// StrategyAttempt is published when a strategy could not fulfil a request.
type StrategyAttempt struct {
	RequestID string
	Strategy  string
	Err       error
}

// TransferScheduled is published once a transfer is persisted.
type TransferScheduled struct {
	Transfer model.TransferRequest
}

// CycleCompleted is published at the end of every drain cycle.
type CycleCompleted struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []model.Outcome
}

// ConsensusComputed carries the per-region results of one consensus run.
type ConsensusComputed struct {
	Timestamp time.Time
	Threshold float64
	Results   []model.ConsensusResult
}

// RegionsRebuilt is published when a new region map replaces the old one.
type RegionsRebuilt struct {
	BuiltAt time.Time
	Regions int
	Stores  int
}

// BatchesPlanned is published after pending transfers are grouped.
type BatchesPlanned struct {
	Batches   int
	Transfers int
	Deferred  int
	Plans     []routing.Batch
}

func (RequestQueued) EventName() string     { return "request_queued" }
func (StrategyAttempt) EventName() string   { return "strategy_attempt" }
func (TransferScheduled) EventName() string { return "transfer_scheduled" }
func (CycleCompleted) EventName() string    { return "cycle_completed" }
func (ConsensusComputed) EventName() string { return "consensus_computed" }
func (RegionsRebuilt) EventName() string    { return "regions_rebuilt" }
func (BatchesPlanned) EventName() string    { return "batches_planned" }
