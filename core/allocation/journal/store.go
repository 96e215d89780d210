// Package journal persists the allocation decisions taken during drain cycles.
package journal

import (
	"context"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

// Kind distinguishes the journal entry variants.
type Kind string

const (
	KindOutcome      Kind = "outcome"
	KindContribution Kind = "contribution"
	KindConsensus    Kind = "consensus"
)

// Record captures one journaled decision.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Kind      Kind                   `json:"kind"`
	CycleID   string                 `json:"cycle_id,omitempty"`
	Outcome   *model.Outcome         `json:"outcome,omitempty"`
	Consensus *model.ConsensusResult `json:"consensus,omitempty"`
	Transfer  *model.TransferRequest `json:"transfer,omitempty"`
	Attempts  []Attempt              `json:"attempts,omitempty"`
}

// Attempt is one failed strategy attempt preceding the final outcome.
type Attempt struct {
	Strategy string `json:"strategy"`
	Error    string `json:"error"`
}

// StoreID returns the store the record concerns, if any.
func (r Record) StoreID() string {
	switch {
	case r.Outcome != nil:
		return r.Outcome.StoreID
	case r.Transfer != nil:
		return r.Transfer.FromStoreID
	}
	return ""
}

// Query defines filters for retrieving records.
type Query struct {
	Start   time.Time
	End     time.Time
	StoreID string
	Kind    Kind
}

// Match reports whether r passes every filter of q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.StoreID != "" && !touches(r, q.StoreID) {
		return false
	}
	return true
}

func touches(r Record, storeID string) bool {
	if r.Outcome != nil && (r.Outcome.StoreID == storeID || r.Outcome.Contributor == storeID) {
		return true
	}
	if r.Transfer != nil && (r.Transfer.FromStoreID == storeID || r.Transfer.ToStoreID == storeID) {
		return true
	}
	return false
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Append(context.Context, Record) error { return nil }
func (Nop) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (Nop) Close() error { return nil }
