// Package signal turns manager actions into behavioural signals.
//
// Extraction is an ordered list of rules. The first rule that matches an
// action produces the signal and later rules are not consulted, so rule
// order is part of the behaviour.
package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

// DefaultBulkBaseline is the reference order quantity bulk orders are compared against.
const DefaultBulkBaseline = 125

// ErrMalformedAction is returned for actions missing the fields every rule relies on.
var ErrMalformedAction = errors.New("malformed manager action")

// Rule produces a signal when Match recognises the action.
type Rule struct {
	Name  string
	Match func(a model.ManagerAction) (model.BehavioralSignal, bool)
}

// Extractor applies rules in priority order.
type Extractor struct {
	rules  []Rule
	logger logger.Logger
}

// NewExtractor returns an extractor using DefaultRules.
func NewExtractor(bulkBaseline int, log logger.Logger) *Extractor {
	return &Extractor{rules: DefaultRules(bulkBaseline), logger: logger.OrNop(log)}
}

// Rules returns the rule list in evaluation order.
func (e *Extractor) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Extract returns the signal of the first matching rule. ok is false when no
// rule matches. Extract has no side effects.
func (e *Extractor) Extract(a model.ManagerAction) (model.BehavioralSignal, bool, error) {
	if err := checkAction(a); err != nil {
		return model.BehavioralSignal{}, false, err
	}
	for _, r := range e.rules {
		s, ok := r.Match(a)
		if !ok {
			continue
		}
		s.StoreID = a.StoreID
		s.ManagerID = a.ManagerID
		s.SKU = a.SKU
		s.ObservedAt = a.Timestamp
		if err := s.Validate(); err != nil {
			return model.BehavioralSignal{}, false, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		return s, true, nil
	}
	return model.BehavioralSignal{}, false, nil
}

// ExtractAll extracts every action independently. A malformed action is
// logged and skipped; it never prevents the others from being processed.
func (e *Extractor) ExtractAll(actions []model.ManagerAction) []model.BehavioralSignal {
	out := make([]model.BehavioralSignal, 0, len(actions))
	for _, a := range actions {
		s, ok, err := e.Extract(a)
		if err != nil {
			e.logger.Warnf("skip action %s: %v", a.ID, err)
			continue
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

func checkAction(a model.ManagerAction) error {
	switch {
	case a.StoreID == "":
		return fmt.Errorf("%w: missing store id", ErrMalformedAction)
	case a.SKU == "":
		return fmt.Errorf("%w: missing sku", ErrMalformedAction)
	case a.Type == "":
		return fmt.Errorf("%w: missing action type", ErrMalformedAction)
	case a.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedAction)
	}
	return nil
}

// DefaultRules returns the production rule list.
func DefaultRules(bulkBaseline int) []Rule {
	if bulkBaseline <= 0 {
		bulkBaseline = DefaultBulkBaseline
	}
	return []Rule{
		{Name: "order_timing_variance", Match: earlyOrder},
		{Name: "emergency_order", Match: emergencyOrder},
		{Name: "quantity_adjustment", Match: bulkOrder(bulkBaseline)},
		{Name: "safety_stock_change", Match: fixed(model.SignalVolatilityExpected, 0.8, "safety_stock_change", model.ActionSafetyStockIncrease)},
		{Name: "competitive_response", Match: fixed(model.SignalMarketDisruptionDetected, 0.85, "competitive_response", model.ActionCompetitiveResponse)},
		{Name: "event_planning", Match: fixed(model.SignalEventDrivenDemand, 0.75, "event_planning", model.ActionEventOrder, model.ActionWeekendStock)},
	}
}

func earlyOrder(a model.ManagerAction) (model.BehavioralSignal, bool) {
	if a.Type != model.ActionEarlyOrder || a.OriginalScheduleDate == nil {
		return model.BehavioralSignal{}, false
	}
	days := int(math.Floor(a.OriginalScheduleDate.Sub(a.Timestamp).Hours() / 24))
	if days < 14 {
		return model.BehavioralSignal{}, false
	}
	mag := model.MagnitudeModerate
	if days > 21 {
		mag = model.MagnitudeSignificant
	}
	return model.BehavioralSignal{
		Kind:       model.SignalDemandIncreaseExpected,
		Confidence: math.Min(0.95, float64(days)/30),
		Magnitude:  mag,
		Trigger:    "order_timing_variance",
		DaysEarly:  days,
	}, true
}

func emergencyOrder(a model.ManagerAction) (model.BehavioralSignal, bool) {
	if a.Type != model.ActionEmergencyOrder {
		return model.BehavioralSignal{}, false
	}
	return model.BehavioralSignal{
		Kind:       model.SignalUnexpectedDemandSpike,
		Confidence: 0.9,
		Magnitude:  model.MagnitudeHigh,
		Trigger:    "emergency_order",
	}, true
}

func bulkOrder(baseline int) func(model.ManagerAction) (model.BehavioralSignal, bool) {
	return func(a model.ManagerAction) (model.BehavioralSignal, bool) {
		if a.Type != model.ActionBulkOrder || a.Quantity <= 0 {
			return model.BehavioralSignal{}, false
		}
		increase := float64(a.Quantity-baseline) / float64(baseline)
		if increase < 0.5 {
			return model.BehavioralSignal{}, false
		}
		mag := model.MagnitudeModerate
		if increase > 1.0 {
			mag = model.MagnitudeSignificant
		}
		return model.BehavioralSignal{
			Kind:                model.SignalMarketOpportunityDetected,
			Confidence:          math.Min(0.9, increase),
			Magnitude:           mag,
			Trigger:             "quantity_adjustment",
			QuantityIncreasePct: int(math.Round(increase * 100)),
		}, true
	}
}

func fixed(kind model.SignalKind, confidence float64, trigger string, types ...model.ActionType) func(model.ManagerAction) (model.BehavioralSignal, bool) {
	return func(a model.ManagerAction) (model.BehavioralSignal, bool) {
		for _, t := range types {
			if a.Type == t {
				return model.BehavioralSignal{
					Kind:       kind,
					Confidence: confidence,
					Magnitude:  model.MagnitudeModerate,
					Trigger:    trigger,
				}, true
			}
		}
		return model.BehavioralSignal{}, false
	}
}
