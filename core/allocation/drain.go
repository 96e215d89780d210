package allocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/stockpulse/core/allocation/journal"
	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/metrics"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/monitoring"
	"github.com/kilianp07/stockpulse/core/queue"
)

// CycleResult is the processing result of one drain cycle. Outcomes are in
// drain order: emergency, then high priority, then standard.
type CycleResult struct {
	ID        string                  `json:"cycle_id"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Received  queue.Status            `json:"received"`
	Outcomes  []model.Outcome         `json:"outcomes"`
	Transfers []model.TransferRequest `json:"transfers"`
}

// Count returns how many outcomes came from src.
func (r CycleResult) Count(src model.Source) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Source == src {
			n++
		}
	}
	return n
}

// Processed returns the number of outcomes per queue.
func (r CycleResult) Processed() queue.Status {
	s := queue.Status{}
	for _, o := range r.Outcomes {
		s[queue.Kind(o.Queue)]++
	}
	return s
}

// DrainQueues empties the queues and processes every request. Queues are
// handled in priority order so emergency requests claim stock and capacity
// first; requests of the same queue run on the worker pool. Failures of a
// single request are isolated into an unfulfilled outcome.
func (m *Manager) DrainQueues(ctx context.Context) CycleResult {
	t0 := time.Now()
	items := m.state.Queues.Drain()
	m.setQueueDepth(m.state.Queues.Status())

	res := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: m.now(),
		Received:  queue.Status{},
		Outcomes:  make([]model.Outcome, len(items)),
		Transfers: []model.TransferRequest{},
	}
	failures := make([][]Failure, len(items))
	for _, it := range items {
		res.Received[it.Queue]++
	}

	start := 0
	for start < len(items) {
		end := start
		for end < len(items) && items[end].Queue == items[start].Queue {
			end++
		}
		m.processRange(ctx, items, start, end, res.Outcomes, failures)
		start = end
	}

	for i, out := range res.Outcomes {
		outcomesTotal.WithLabelValues(string(out.Source), out.Queue).Inc()
		if out.Transfer != nil {
			res.Transfers = append(res.Transfers, *out.Transfer)
		}
		if out.Source == model.SourceNone {
			m.logger.Warnf("request %s for %s/%s unfulfilled: %s", out.RequestID, out.StoreID, out.SKU, out.Reason)
		}
		for _, f := range failures[i] {
			m.bus.Publish(events.StrategyAttempt{RequestID: out.RequestID, Strategy: f.Strategy, Err: f.Err})
		}
	}
	res.Duration = time.Since(t0)
	drainDuration.Observe(res.Duration.Seconds())

	m.record(ctx, res, failures)
	m.logger.Infof("drain cycle %s: %d requests, %d warehouse, %d contributor, %d unfulfilled in %s",
		res.ID, len(res.Outcomes), res.Count(model.SourceWarehouse), res.Count(model.SourceContributor),
		res.Count(model.SourceNone), res.Duration)
	return res
}

func (m *Manager) processRange(ctx context.Context, items []queue.Item, start, end int, outcomes []model.Outcome, failures [][]Failure) {
	sem := make(chan struct{}, m.cfg.Workers)
	var wg sync.WaitGroup
	for i := start; i < end; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i], failures[i] = m.process(ctx, items[i])
		}(i)
	}
	wg.Wait()
}

func (m *Manager) process(ctx context.Context, item queue.Item) (out model.Outcome, fails []Failure) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing request %s: %v", item.Request.ID, r)
			monitoring.CaptureException(err, map[string]string{"component": "allocation", "queue": string(item.Queue)})
			fails = append(fails, Failure{Strategy: "panic", Err: err})
			out = unfulfilled(item, fails)
			out.DecidedAt = m.now()
		}
	}()
	out, fails = m.chain.Run(ctx, item)
	out.DecidedAt = m.now()
	if out.Source == model.SourceNone && len(fails) > 0 {
		monitoring.CaptureException(errorsOf(fails), map[string]string{
			"component": "allocation",
			"queue":     string(item.Queue),
			"store":     item.Request.StoreID,
		})
	}
	return out, fails
}

func (m *Manager) record(ctx context.Context, res CycleResult, failures [][]Failure) {
	recs := make([]metrics.OutcomeRecord, 0, len(res.Outcomes))
	for i := range res.Outcomes {
		out := res.Outcomes[i]
		recs = append(recs, metrics.OutcomeRecord{
			CycleID:     res.ID,
			RequestID:   out.RequestID,
			StoreID:     out.StoreID,
			SKU:         out.SKU,
			Queue:       out.Queue,
			Source:      string(out.Source),
			Via:         out.Via,
			WarehouseID: out.WarehouseID,
			Contributor: out.Contributor,
			Quantity:    out.FinalQuantity,
			Fulfilled:   out.Fulfilled,
			Shortfall:   out.Shortfall,
			Time:        out.DecidedAt,
		})
		rec := journal.Record{Timestamp: out.DecidedAt, Kind: journal.KindOutcome, CycleID: res.ID, Outcome: &out}
		for _, f := range failures[i] {
			rec.Attempts = append(rec.Attempts, journal.Attempt{Strategy: f.Strategy, Error: f.Err.Error()})
		}
		if err := m.journal.Append(ctx, rec); err != nil {
			m.logger.Errorf("journal outcome %s: %v", out.RequestID, err)
		}
		if out.Transfer != nil {
			contrib := journal.Record{Timestamp: out.DecidedAt, Kind: journal.KindContribution, CycleID: res.ID, Transfer: out.Transfer}
			if err := m.journal.Append(ctx, contrib); err != nil {
				m.logger.Errorf("journal contribution %s: %v", out.RequestID, err)
			}
			m.bus.Publish(events.TransferScheduled{Transfer: *out.Transfer})
		}
	}
	if len(recs) > 0 {
		if err := m.sink.RecordOutcomes(recs); err != nil {
			m.logger.Warnf("record outcome metrics: %v", err)
		}
	}
	if r, ok := m.sink.(metrics.CycleRecorder); ok {
		if err := r.RecordCycle(metrics.CycleRecord{CycleID: res.ID, Items: len(res.Outcomes), Duration: res.Duration, Time: res.StartedAt}); err != nil {
			m.logger.Warnf("record cycle metrics: %v", err)
		}
	}
	if r, ok := m.sink.(metrics.CapacityRecorder); ok {
		views := m.state.Capacity.Snapshot()
		caps := make([]metrics.CapacityRecord, 0, len(views))
		for _, v := range views {
			caps = append(caps, metrics.CapacityRecord{
				WarehouseID:        v.WarehouseID,
				MaxCapacity:        v.MaxCapacity,
				CurrentUtilization: v.CurrentUtilization,
				IncomingScheduled:  v.IncomingScheduled,
				Time:               res.StartedAt,
			})
		}
		if err := r.RecordCapacity(caps); err != nil {
			m.logger.Warnf("record capacity metrics: %v", err)
		}
	}
	m.bus.Publish(events.CycleCompleted{CycleID: res.ID, StartedAt: res.StartedAt, Duration: res.Duration, Outcomes: res.Outcomes})
}
