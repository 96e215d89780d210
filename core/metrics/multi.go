package metrics

import "errors"

// MultiSink fans records out to several sinks. Optional recorders are only
// forwarded to sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOutcomes forwards to every sink and joins their errors.
func (m *MultiSink) RecordOutcomes(recs []OutcomeRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordOutcomes(recs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordConsensus(recs []ConsensusRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ConsensusRecorder); ok {
			if err := r.RecordConsensus(recs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordCapacity(recs []CapacityRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(CapacityRecorder); ok {
			if err := r.RecordCapacity(recs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordCycle(rec CycleRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(CycleRecorder); ok {
			if err := r.RecordCycle(rec); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
