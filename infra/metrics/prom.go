package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/stockpulse/core/metrics"
)

// PromSink exposes allocation outcomes, consensus strength and warehouse
// capacity as Prometheus metrics.
type PromSink struct {
	fulfilled   *prometheus.CounterVec
	shortfall   *prometheus.CounterVec
	consensus   *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	incoming    *prometheus.GaugeVec
}

// NewPromSink registers the sink collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg. A collector that is
// already registered is reused so several sinks can share a registry.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		fulfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_fulfilled_units_total",
			Help: "Units fulfilled by source and queue",
		}, []string{"source", "queue"}),
		shortfall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allocation_shortfall_units_total",
			Help: "Units requested but not fulfilled, by queue",
		}, []string{"queue"}),
		consensus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regional_consensus_strength",
			Help: "Latest consensus strength per region and signal type",
		}, []string{"region", "signal_type", "level"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warehouse_capacity_utilization_ratio",
			Help: "Share of warehouse capacity used or scheduled",
		}, []string{"warehouse_id"}),
		incoming: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warehouse_incoming_scheduled_units",
			Help: "Units booked for incoming transfers",
		}, []string{"warehouse_id"}),
	}
	var err error
	if s.fulfilled, err = register(reg, s.fulfilled); err != nil {
		return nil, err
	}
	if s.shortfall, err = register(reg, s.shortfall); err != nil {
		return nil, err
	}
	if s.consensus, err = register(reg, s.consensus); err != nil {
		return nil, err
	}
	if s.utilization, err = register(reg, s.utilization); err != nil {
		return nil, err
	}
	if s.incoming, err = register(reg, s.incoming); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordOutcomes(recs []coremetrics.OutcomeRecord) error {
	for _, r := range recs {
		if r.Fulfilled > 0 {
			s.fulfilled.WithLabelValues(r.Source, r.Queue).Add(float64(r.Fulfilled))
		}
		if r.Shortfall > 0 {
			s.shortfall.WithLabelValues(r.Queue).Add(float64(r.Shortfall))
		}
	}
	return nil
}

// RecordConsensus replaces the previous consensus gauges.
func (s *PromSink) RecordConsensus(recs []coremetrics.ConsensusRecord) error {
	s.consensus.Reset()
	for _, r := range recs {
		s.consensus.WithLabelValues(r.Region, r.SignalType, r.Level).Set(r.Strength)
	}
	return nil
}

func (s *PromSink) RecordCapacity(recs []coremetrics.CapacityRecord) error {
	for _, r := range recs {
		ratio := 0.0
		if r.MaxCapacity > 0 {
			ratio = float64(r.CurrentUtilization+r.IncomingScheduled) / float64(r.MaxCapacity)
		}
		s.utilization.WithLabelValues(r.WarehouseID).Set(ratio)
		s.incoming.WithLabelValues(r.WarehouseID).Set(float64(r.IncomingScheduled))
	}
	return nil
}
