// Package consensus aggregates behavioural signals into regional verdicts.
package consensus

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

const (
	reasonInsufficientData = "insufficient_data"
	reasonTooDiverse       = "signals_too_diverse"

	strongLevel    = 0.8
	moderateLevel  = 0.6
	emergencyLevel = 0.75
)

// Config holds the engine tunables.
type Config struct {
	Threshold            float64 `json:"threshold"`
	MinStores            int     `json:"min_stores"`
	DefaultRegionSize    int     `json:"default_region_size"`
	DefaultManagerWeight float64 `json:"default_manager_weight"`
	WindowDays           int     `json:"time_window_days"`
}

// SetDefaults fills zero values. A zero Threshold means unset: a configured
// threshold must be positive, and a per-run zero goes through
// ValidateWithThreshold.
func (c *Config) SetDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.4
	}
	if c.MinStores == 0 {
		c.MinStores = 3
	}
	if c.DefaultRegionSize == 0 {
		c.DefaultRegionSize = 5
	}
	if c.DefaultManagerWeight == 0 {
		c.DefaultManagerWeight = 0.8
	}
	if c.WindowDays == 0 {
		c.WindowDays = 7
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("consensus threshold %v outside (0,1)", c.Threshold)
	}
	if c.MinStores < 1 {
		return fmt.Errorf("consensus min_stores must be >= 1")
	}
	if c.DefaultManagerWeight <= 0 || c.DefaultManagerWeight > 1 {
		return fmt.Errorf("default manager weight %v outside (0,1]", c.DefaultManagerWeight)
	}
	return nil
}

// ManagerAccuracy feeds UpdateManagerWeights.
type ManagerAccuracy struct {
	ManagerID string  `json:"manager_id"`
	Accuracy  float64 `json:"accuracy_score"`
}

// Engine computes consensus reports. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	mu      sync.RWMutex
	weights map[string]float64
	now     func() time.Time
	logger  logger.Logger
}

// NewEngine returns an Engine with cfg defaults applied.
func NewEngine(cfg Config, log logger.Logger) *Engine {
	cfg.SetDefaults()
	return &Engine{cfg: cfg, weights: make(map[string]float64), now: time.Now, logger: logger.OrNop(log)}
}

// SetClock replaces the time source used for the signal window.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// WindowDays returns how many days of signals a run considers.
func (e *Engine) WindowDays() int { return e.cfg.WindowDays }

// Threshold returns the configured default threshold.
func (e *Engine) Threshold() float64 { return e.cfg.Threshold }

// ManagerWeight returns the current weight of a manager.
func (e *Engine) ManagerWeight(managerID string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if w, ok := e.weights[managerID]; ok {
		return w
	}
	return e.cfg.DefaultManagerWeight
}

// UpdateManagerWeights sets weights from accuracy scores clamped to [0.1, 1].
func (e *Engine) UpdateManagerWeights(acc []ManagerAccuracy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range acc {
		e.weights[a.ManagerID] = math.Max(0.1, math.Min(1.0, a.Accuracy))
	}
}

// Validate runs consensus over signals with the configured threshold.
func (e *Engine) Validate(signals []model.BehavioralSignal, regions *cluster.RegionMap) Report {
	return e.ValidateWithThreshold(signals, regions, e.cfg.Threshold)
}

// ValidateWithThreshold runs consensus with an explicit threshold.
func (e *Engine) ValidateWithThreshold(signals []model.BehavioralSignal, regions *cluster.RegionMap, threshold float64) Report {
	now := e.now()
	cutoff := now.Add(-time.Duration(e.cfg.WindowDays) * 24 * time.Hour)

	byRegion := make(map[string][]model.BehavioralSignal)
	for _, s := range signals {
		if s.ObservedAt.Before(cutoff) {
			continue
		}
		r := regions.RegionOf(s.StoreID)
		byRegion[r] = append(byRegion[r], s)
	}

	keys := make([]string, 0, len(byRegion))
	for k := range byRegion {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]model.ConsensusResult, 0, len(keys))
	for _, region := range keys {
		res := e.regionConsensus(region, byRegion[region], regions, threshold)
		e.logger.Debugw("regional consensus", map[string]any{
			"region":   region,
			"signal":   res.SignalType,
			"strength": res.Strength,
			"signals":  len(byRegion[region]),
		})
		results = append(results, res)
	}
	return newReport(now, threshold, results)
}

func (e *Engine) regionConsensus(region string, sigs []model.BehavioralSignal, regions *cluster.RegionMap, threshold float64) model.ConsensusResult {
	if len(sigs) < e.cfg.MinStores {
		return noConsensus(region, len(sigs), reasonInsufficientData)
	}

	var order []model.SignalKind
	byKind := make(map[model.SignalKind][]model.BehavioralSignal)
	for _, s := range sigs {
		if _, ok := byKind[s.Kind]; !ok {
			order = append(order, s.Kind)
		}
		byKind[s.Kind] = append(byKind[s.Kind], s)
	}

	var best *model.ConsensusResult
	for _, k := range order {
		res := e.kindConsensus(region, k, byKind[k], regions)
		if res.Strength > threshold && (best == nil || res.Strength > best.Strength) {
			r := res
			best = &r
		}
	}
	if best == nil {
		return noConsensus(region, len(sigs), reasonTooDiverse)
	}
	return *best
}

func (e *Engine) kindConsensus(region string, kind model.SignalKind, sigs []model.BehavioralSignal, regions *cluster.RegionMap) model.ConsensusResult {
	stores := make(map[string]struct{}, len(sigs))
	conf := make([]float64, len(sigs))
	weights := make([]float64, len(sigs))
	for i, s := range sigs {
		stores[s.StoreID] = struct{}{}
		conf[i] = s.Confidence
		weights[i] = e.ManagerWeight(s.ManagerID)
	}

	size, ok := regions.Size(region)
	if !ok || size == 0 {
		size = e.cfg.DefaultRegionSize
	}
	if size < 1 {
		size = 1
	}
	participation := math.Min(1, float64(len(stores))/float64(size))
	confidence := clamp01(stat.Mean(conf, weights))
	strength := participation * confidence

	return model.ConsensusResult{
		Region:              region,
		SignalType:          string(kind),
		Strength:            strength,
		ParticipationRate:   participation,
		Confidence:          confidence,
		ParticipatingStores: len(stores),
		TotalStoresInRegion: size,
		Reasoning:           reasoning(string(kind), strength, participation),
	}
}

func noConsensus(region string, n int, reason string) model.ConsensusResult {
	return model.ConsensusResult{
		Region:              region,
		SignalType:          model.NoConsensus,
		ParticipatingStores: n,
		Level:               model.ConsensusNone,
		Reasoning:           reason,
	}
}

func reasoning(kind string, strength, participation float64) string {
	switch {
	case strength > strongLevel:
		return fmt.Sprintf("Strong regional consensus: %d%% of stores showing %s", int(math.Round(participation*100)), kind)
	case strength > moderateLevel:
		return "Moderate consensus detected across region"
	default:
		return "Weak or conflicting signals in region"
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
