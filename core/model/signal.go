package model

import (
	"errors"
	"fmt"
	"time"
)

// ActionType identifies what a store manager did. The set is open: feeds
// carry many action types and only a few of them produce signals.
type ActionType string

const (
	ActionEarlyOrder          ActionType = "early_order"
	ActionEmergencyOrder      ActionType = "emergency_order"
	ActionBulkOrder           ActionType = "bulk_order"
	ActionScheduledOrder      ActionType = "scheduled_order"
	ActionSafetyStockIncrease ActionType = "safety_stock_increase"
	ActionCompetitiveResponse ActionType = "competitive_response"
	ActionEventOrder          ActionType = "event_order"
	ActionWeekendStock        ActionType = "weekend_stock"
)

// ManagerAction is a persisted manager event as delivered by the action feed.
type ManagerAction struct {
	ID                   string     `json:"id" yaml:"id"`
	StoreID              string     `json:"store_id" yaml:"store_id"`
	ManagerID            string     `json:"manager_id,omitempty" yaml:"manager_id,omitempty"`
	SKU                  string     `json:"sku" yaml:"sku"`
	Type                 ActionType `json:"action_type" yaml:"action_type"`
	Timestamp            time.Time  `json:"action_timestamp" yaml:"action_timestamp"`
	OriginalScheduleDate *time.Time `json:"original_schedule_date,omitempty" yaml:"original_schedule_date,omitempty"`
	Quantity             int        `json:"quantity,omitempty" yaml:"quantity,omitempty"`
}

// SignalKind is the closed set of behavioural signal kinds.
type SignalKind string

const (
	SignalDemandIncreaseExpected        SignalKind = "demand_increase_expected"
	SignalUnexpectedDemandSpike         SignalKind = "unexpected_demand_spike"
	SignalMarketOpportunityDetected     SignalKind = "market_opportunity_detected"
	SignalVolatilityExpected            SignalKind = "volatility_expected"
	SignalMarketDisruptionDetected      SignalKind = "market_disruption_detected"
	SignalEventDrivenDemand             SignalKind = "event_driven_demand"
	SignalSupplyDisruptionExpected      SignalKind = "supply_disruption_expected"
	SignalDemandSpikeCritical           SignalKind = "demand_spike_critical"
	SignalCompetitorStockoutOpportunity SignalKind = "competitor_stockout_opportunity"
)

// ErrUnknownSignalKind is returned when a signal carries a kind outside the closed set.
var ErrUnknownSignalKind = errors.New("unknown signal kind")

var knownKinds = map[SignalKind]struct{}{
	SignalDemandIncreaseExpected:        {},
	SignalUnexpectedDemandSpike:         {},
	SignalMarketOpportunityDetected:     {},
	SignalVolatilityExpected:            {},
	SignalMarketDisruptionDetected:      {},
	SignalEventDrivenDemand:             {},
	SignalSupplyDisruptionExpected:      {},
	SignalDemandSpikeCritical:           {},
	SignalCompetitorStockoutOpportunity: {},
}

// Known reports whether k belongs to the closed set.
func (k SignalKind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Magnitude is an ordinal strength label.
type Magnitude string

const (
	MagnitudeModerate    Magnitude = "moderate"
	MagnitudeSignificant Magnitude = "significant"
	MagnitudeHigh        Magnitude = "high"
	MagnitudeCritical    Magnitude = "critical"
)

// BehavioralSignal is an immutable observation derived from a manager action.
// DaysEarly is set for demand_increase_expected and QuantityIncreasePct for
// market_opportunity_detected; Validate enforces both.
type BehavioralSignal struct {
	StoreID             string     `json:"store_id" yaml:"store_id"`
	ManagerID           string     `json:"manager_id,omitempty" yaml:"manager_id,omitempty"`
	SKU                 string     `json:"sku" yaml:"sku"`
	Kind                SignalKind `json:"signal" yaml:"signal"`
	Confidence          float64    `json:"confidence" yaml:"confidence"`
	Magnitude           Magnitude  `json:"magnitude" yaml:"magnitude"`
	Trigger             string     `json:"trigger" yaml:"trigger"`
	DaysEarly           int        `json:"days_early,omitempty" yaml:"days_early,omitempty"`
	QuantityIncreasePct int        `json:"quantity_increase_pct,omitempty" yaml:"quantity_increase_pct,omitempty"`
	ObservedAt          time.Time  `json:"observed_at" yaml:"observed_at"`
}

// Validate rejects signals that do not match the shape required by their kind.
func (s BehavioralSignal) Validate() error {
	if !s.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownSignalKind, s.Kind)
	}
	if s.StoreID == "" {
		return fmt.Errorf("signal %s: missing store id", s.Kind)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %v outside [0,1]", s.Kind, s.Confidence)
	}
	switch s.Kind {
	case SignalDemandIncreaseExpected:
		if s.DaysEarly <= 0 {
			return fmt.Errorf("signal %s: days_early required", s.Kind)
		}
	case SignalMarketOpportunityDetected:
		if s.QuantityIncreasePct <= 0 {
			return fmt.Errorf("signal %s: quantity_increase_pct required", s.Kind)
		}
	}
	return nil
}

// DemandMultiplier returns the quantity multiplier implied by the signal and
// false when the kind carries none.
func (s BehavioralSignal) DemandMultiplier() (float64, bool) {
	switch s.Kind {
	case SignalMarketOpportunityDetected:
		return 1 + float64(s.QuantityIncreasePct)/100, true
	case SignalDemandIncreaseExpected:
		return 1.10, true
	case SignalVolatilityExpected:
		return 1.05, true
	default:
		return 1, false
	}
}
