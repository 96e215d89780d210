package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

// Collector counts pipeline events seen on the bus.
type Collector struct {
	events  *prometheus.CounterVec
	dropped prometheus.GaugeFunc
}

// NewCollector registers the event counters on reg.
func NewCollector(bus *eventbus.Bus[events.Event], reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Events published by the allocation pipeline",
		}, []string{"event"}),
		dropped: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pipeline_events_dropped",
			Help: "Event deliveries skipped because a subscriber was full",
		}, func() float64 { return float64(bus.Dropped()) }),
	}
	var err error
	if c.events, err = register(reg, c.events); err != nil {
		return nil, err
	}
	if c.dropped, err = register(reg, c.dropped); err != nil {
		return nil, err
	}
	return c, nil
}

// Start subscribes to bus and counts events until ctx is canceled or the
// bus is closed.
func (c *Collector) Start(ctx context.Context, bus *eventbus.Bus[events.Event], log logger.Logger) {
	log = logger.OrNop(log)
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				c.events.WithLabelValues(ev.EventName()).Inc()
				switch e := ev.(type) {
				case events.StrategyAttempt:
					log.Debugw("strategy failed", map[string]any{"request": e.RequestID, "strategy": e.Strategy, "error": e.Err.Error()})
				case events.CycleCompleted:
					log.Debugw("cycle completed", map[string]any{"cycle": e.CycleID, "outcomes": len(e.Outcomes), "duration": e.Duration.String()})
				}
			}
		}
	}()
}

// StartEventCollector registers a Collector on reg and starts it.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[events.Event], reg prometheus.Registerer, log logger.Logger) (*Collector, error) {
	c, err := NewCollector(bus, reg)
	if err != nil {
		return nil, err
	}
	c.Start(ctx, bus, log)
	return c, nil
}
