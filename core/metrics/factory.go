package metrics

import (
	"fmt"

	"github.com/kilianp07/stockpulse/core/factory"
)

// sinks holds the sink constructors contributed by infra packages.
var sinks = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink makes a sink type available to NewMetricsSink.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinks.Register(name, f)
}

// SinkTypes lists the registered sink types.
func SinkTypes() []string { return sinks.Types() }

// NewMetricsSink builds the sink the allocation manager reports outcomes,
// consensus and capacity to. No entries gives a NopSink, one entry its own
// sink, several a MultiSink without the nop entries. When an entry cannot be
// built the sinks created before it are closed.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	built := make([]MetricsSink, 0, len(cfgs))
	for i, c := range cfgs {
		s, err := sinks.Create(c)
		if err != nil {
			closeAll(built)
			return nil, fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err)
		}
		if _, nop := s.(NopSink); nop && len(cfgs) > 1 {
			continue
		}
		built = append(built, s)
	}
	switch len(built) {
	case 0:
		return NopSink{}, nil
	case 1:
		return built[0], nil
	}
	return NewMultiSink(built...), nil
}

func closeAll(built []MetricsSink) {
	for _, s := range built {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
