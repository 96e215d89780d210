package metrics

import "time"

// OutcomeRecord is one allocation outcome reported at the end of a drain cycle.
type OutcomeRecord struct {
	CycleID     string
	RequestID   string
	StoreID     string
	SKU         string
	Queue       string
	Source      string
	Via         string
	WarehouseID string
	Contributor string
	Quantity    int
	Fulfilled   int
	Shortfall   int
	Time        time.Time
}

// MetricsSink records allocation outcomes for observability purposes.
type MetricsSink interface {
	RecordOutcomes(recs []OutcomeRecord) error
}

// ConsensusRecord is the per-region result of one consensus run.
type ConsensusRecord struct {
	Region        string
	SignalType    string
	Level         string
	Strength      float64
	Participation float64
	Confidence    float64
	Emergency     bool
	Time          time.Time
}

// ConsensusRecorder records regional consensus results.
type ConsensusRecorder interface {
	RecordConsensus(recs []ConsensusRecord) error
}

// CapacityRecord is a snapshot of one warehouse capacity row.
type CapacityRecord struct {
	WarehouseID        string
	MaxCapacity        int
	CurrentUtilization int
	IncomingScheduled  int
	Time               time.Time
}

// CapacityRecorder records warehouse capacity snapshots.
type CapacityRecorder interface {
	RecordCapacity(recs []CapacityRecord) error
}

// CycleRecord summarises a drain cycle.
type CycleRecord struct {
	CycleID  string
	Items    int
	Duration time.Duration
	Time     time.Time
}

// CycleRecorder records drain cycle summaries.
type CycleRecorder interface {
	RecordCycle(rec CycleRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOutcomes([]OutcomeRecord) error { return nil }

func (NopSink) RecordConsensus([]ConsensusRecord) error { return nil }
func (NopSink) RecordCapacity([]CapacityRecord) error   { return nil }
func (NopSink) RecordCycle(CycleRecord) error           { return nil }
