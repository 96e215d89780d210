package model

import (
	"errors"
	"time"
)

// Urgency is the urgency flag set by the requester.
type Urgency string

const (
	UrgencyStandard  Urgency = "standard"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
	// UrgencyCritical is accepted from older clients and treated as emergency.
	UrgencyCritical Urgency = "critical"
)

// Priority drives router scoring and transfer batching.
type Priority string

const (
	PriorityStandard  Priority = "standard"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Multiplier returns the router priority multiplier.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityEmergency:
		return 2.0
	case PriorityHigh:
		return 1.5
	default:
		return 1.0
	}
}

// AllocationRequest asks for Quantity units of SKU at StoreID. ID is the
// idempotency key used when a transfer is recorded for the request.
type AllocationRequest struct {
	ID            string            `json:"id" yaml:"id"`
	StoreID       string            `json:"store_id" yaml:"store_id"`
	SKU           string            `json:"sku" yaml:"sku"`
	WarehouseID   string            `json:"warehouse_id,omitempty" yaml:"warehouse_id,omitempty"`
	Quantity      int               `json:"quantity_needed" yaml:"quantity_needed"`
	Urgency       Urgency           `json:"urgency,omitempty" yaml:"urgency,omitempty"`
	PriorityLevel Priority          `json:"priority_level,omitempty" yaml:"priority_level,omitempty"`
	Signal        *BehavioralSignal `json:"behavioral_signal,omitempty" yaml:"behavioral_signal,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at" yaml:"submitted_at"`
}

// IsEmergency reports whether the request must skip every other queue.
func (r AllocationRequest) IsEmergency() bool {
	return r.Urgency == UrgencyEmergency || r.Urgency == UrgencyCritical || r.PriorityLevel == PriorityEmergency
}

// Validate checks the fields the pipeline relies on.
func (r AllocationRequest) Validate() error {
	switch {
	case r.StoreID == "":
		return errors.New("allocation request: missing store id")
	case r.SKU == "":
		return errors.New("allocation request: missing sku")
	case r.Quantity <= 0:
		return errors.New("allocation request: quantity must be positive")
	}
	return nil
}
