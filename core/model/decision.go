package model

import "time"

// ConsensusLevel is the report bucket of a regional consensus result.
type ConsensusLevel string

const (
	ConsensusStrong ConsensusLevel = "strong"
	ConsensusWeak   ConsensusLevel = "weak"
	ConsensusNone   ConsensusLevel = "none"
)

// NoConsensus is the signal type reported when a region has no verdict.
const NoConsensus = "no_consensus"

// ConsensusResult is the verdict for one region. It is never mutated; a new
// consensus run supersedes it.
type ConsensusResult struct {
	Region              string         `json:"region"`
	SignalType          string         `json:"signal_type"`
	Strength            float64        `json:"consensus_strength"`
	ParticipationRate   float64        `json:"participation_rate"`
	Confidence          float64        `json:"confidence"`
	ParticipatingStores int            `json:"participating_stores"`
	TotalStoresInRegion int            `json:"total_stores_in_region"`
	Level               ConsensusLevel `json:"level"`
	Reasoning           string         `json:"reasoning"`
	Emergency           bool           `json:"emergency,omitempty"`
	RecommendedAction   string         `json:"recommended_action,omitempty"`
}

// ContributionCandidate is a peer store able to give stock to a requester.
type ContributionCandidate struct {
	StoreID               string  `json:"store_id"`
	SKU                   string  `json:"sku"`
	Score                 float64 `json:"contribution_score"`
	AvailableToContribute float64 `json:"available_to_contribute"`
	// AvailableStock is the donor's spare stock: current minus safety
	// stock and reservations. No transfer may exceed it.
	AvailableStock        int     `json:"available_stock"`
	TransferEfficiency    float64 `json:"transfer_efficiency"`
	DistanceKm            float64 `json:"distance_km"`
	PrivateLabel          bool    `json:"private_label"`
}

// TransferRoute is the warehouse chosen for a store-to-store transfer.
type TransferRoute struct {
	WarehouseID           string            `json:"warehouse_id"`
	WarehouseRegion       string            `json:"warehouse_region,omitempty"`
	DistanceFromSource    float64           `json:"distance_from_source_km"`
	DistanceToDestination float64           `json:"distance_to_destination_km"`
	TotalDistance         float64           `json:"total_distance_km"`
	Capacity              WarehouseCapacity `json:"capacity"`
	Score                 float64           `json:"score"`
	EstimatedCost         float64           `json:"estimated_cost"`
}

// TransferStatus tracks a transfer through downstream processing.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferScheduled TransferStatus = "scheduled"
)

// TransferRequest is the durable record of a routed transfer.
type TransferRequest struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	FromStoreID string         `json:"from_store_id"`
	ToStoreID   string         `json:"to_store_id"`
	SKU         string         `json:"sku"`
	Quantity    int            `json:"quantity"`
	Priority    Priority       `json:"priority"`
	Route       TransferRoute  `json:"route"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Source is where an allocation was fulfilled from.
type Source string

const (
	SourceWarehouse   Source = "warehouse"
	SourceContributor Source = "contributor"
	SourceNone        Source = "none"
)

// Outcome is the decision recorded for one drained request.
type Outcome struct {
	RequestID     string           `json:"request_id"`
	StoreID       string           `json:"store_id"`
	SKU           string           `json:"sku"`
	Queue         string           `json:"queue"`
	Requested     int              `json:"requested_quantity"`
	FinalQuantity int              `json:"final_quantity"`
	Fulfilled     int              `json:"fulfilled_quantity"`
	Shortfall     int              `json:"shortfall"`
	Source        Source           `json:"source"`
	Via           string           `json:"via,omitempty"`
	WarehouseID   string           `json:"warehouse_id,omitempty"`
	Contributor   string           `json:"contributor_store_id,omitempty"`
	Score         float64          `json:"contribution_score,omitempty"`
	Transfer      *TransferRequest `json:"transfer,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	DecidedAt     time.Time        `json:"decided_at"`
}
