package consensus

import (
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

var emergencyActions = map[string]string{
	string(model.SignalSupplyDisruptionExpected):      "increase_safety_stock_immediately",
	string(model.SignalDemandSpikeCritical):           "emergency_inventory_allocation",
	string(model.SignalCompetitorStockoutOpportunity): "maximize_private_label_push",
}

const defaultEmergencyAction = "monitor_closely"

// Report is the outcome of one consensus run.
type Report struct {
	Timestamp    time.Time               `json:"timestamp"`
	Threshold    float64                 `json:"threshold"`
	TotalRegions int                     `json:"total_regions"`
	Strong       []model.ConsensusResult `json:"strong_consensus"`
	Weak         []model.ConsensusResult `json:"weak_consensus"`
	None         []model.ConsensusResult `json:"no_consensus"`
	Emergency    []model.ConsensusResult `json:"emergency_alerts"`
}

// Results returns every regional result in report order.
func (r Report) Results() []model.ConsensusResult {
	out := make([]model.ConsensusResult, 0, len(r.Strong)+len(r.Weak)+len(r.None))
	out = append(out, r.Strong...)
	out = append(out, r.Weak...)
	return append(out, r.None...)
}

func newReport(ts time.Time, threshold float64, results []model.ConsensusResult) Report {
	rep := Report{
		Timestamp:    ts,
		Threshold:    threshold,
		TotalRegions: len(results),
		Strong:       []model.ConsensusResult{},
		Weak:         []model.ConsensusResult{},
		None:         []model.ConsensusResult{},
		Emergency:    []model.ConsensusResult{},
	}
	for _, res := range results {
		switch {
		case res.Strength > strongLevel:
			res.Level = model.ConsensusStrong
			if isEmergency(res) {
				res.Emergency = true
				res.RecommendedAction = EmergencyAction(res.SignalType)
				rep.Emergency = append(rep.Emergency, res)
			}
			rep.Strong = append(rep.Strong, res)
		case res.Strength > threshold:
			res.Level = model.ConsensusWeak
			rep.Weak = append(rep.Weak, res)
		default:
			res.Level = model.ConsensusNone
			rep.None = append(rep.None, res)
		}
	}
	return rep
}

func isEmergency(res model.ConsensusResult) bool {
	_, ok := emergencyActions[res.SignalType]
	return ok && res.Strength > emergencyLevel
}

// EmergencyAction maps a signal type to the action recommended on an emergency alert.
func EmergencyAction(signalType string) string {
	if a, ok := emergencyActions[signalType]; ok {
		return a
	}
	return defaultEmergencyAction
}
