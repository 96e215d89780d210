package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stockpulse/core/allocation/journal"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

var (
	now    = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	center = model.Coordinate{Lat: 48.8566, Lng: 2.3522}
)

func near(dLat float64) *model.Coordinate {
	return &model.Coordinate{Lat: center.Lat + dLat, Lng: center.Lng}
}

// pipelineFixtures: W1 is the home warehouse of every store and has no
// transfer capacity left; W2 can take 60 incoming units.
func pipelineFixtures() directory.Fixtures {
	return directory.Fixtures{
		Stores: []model.Store{
			{ID: "S1", Location: near(0), WarehouseID: "W1"},
			{ID: "S2", Location: near(0.01), WarehouseID: "W1"},
			{ID: "S3", Location: near(0.02), WarehouseID: "W1"},
			{ID: "S4", Location: near(0.03), WarehouseID: "W1"},
			{ID: "S5", Location: near(0.04), WarehouseID: "W1"},
		},
		Products: []model.Product{
			{SKU: "X"}, {SKU: "Y"}, {SKU: "Q"},
			{SKU: "PL", PrivateLabel: true},
		},
		Warehouses: []model.Warehouse{
			{ID: "W1", Location: near(0)},
			{ID: "W2", Location: near(0.05)},
		},
		Capacities: []model.WarehouseCapacity{
			{WarehouseID: "W1", MaxCapacity: 100, CurrentUtilization: 100},
			{WarehouseID: "W2", MaxCapacity: 100, CurrentUtilization: 40},
		},
		Inventory: []model.StoreInventory{
			{StoreID: "S3", SKU: "Y", CurrentStock: 200},
			{StoreID: "S4", SKU: "Y", CurrentStock: 100},
		},
		WarehouseStock: []directory.StockLevel{
			{WarehouseID: "W1", SKU: "X", Quantity: 200},
			{WarehouseID: "W1", SKU: "PL", Quantity: 100},
			{WarehouseID: "W1", SKU: "Y", Quantity: 0},
		},
	}
}

type memJournal struct {
	mu   sync.Mutex
	recs []journal.Record
}

func (j *memJournal) Append(_ context.Context, r journal.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, r)
	return nil
}

func (j *memJournal) Query(_ context.Context, q journal.Query) ([]journal.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.Record
	for _, r := range j.recs {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

func newManager(t *testing.T, mem *directory.Memory, sink directory.TransferSink, mutate func(*Config, *Deps)) *Manager {
	t.Helper()
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	if sink == nil {
		sink = mem
	}
	cfg := Config{Workers: 2}
	cfg.Clustering.Seed = 1
	deps := Deps{Directory: mem, Transfers: sink, Now: func() time.Time { return now }}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	m, err := NewManager(context.Background(), cfg, deps)
	require.NoError(t, err)
	return m
}

func submit(t *testing.T, m *Manager, req model.AllocationRequest) queue.Kind {
	t.Helper()
	k, err := m.SubmitAllocationRequest(context.Background(), req)
	require.NoError(t, err)
	return k
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	_, err := NewManager(context.Background(), Config{}, Deps{Transfers: mem})
	assert.Error(t, err)
	_, err = NewManager(context.Background(), Config{}, Deps{Directory: mem})
	assert.Error(t, err)
}

func TestDrainFromWarehouseStock(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	k := submit(t, m, model.AllocationRequest{ID: "r1", StoreID: "S2", SKU: "X", Quantity: 50, Urgency: model.UrgencyStandard})
	assert.Equal(t, queue.Standard, k)

	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.Equal(t, model.SourceWarehouse, out.Source)
	assert.Equal(t, 50, out.FinalQuantity)
	assert.Equal(t, 50, out.Fulfilled)
	assert.Equal(t, "W1", out.WarehouseID)
	assert.Equal(t, 150, mem.Stock("W1", "X"))
	assert.Equal(t, 0, m.QueueStatus().Total())
}

func TestDrainFallsBackToNextContributor(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)

	cands, err := m.ScoreContributors(context.Background(), "S1", "Y", 100)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "S3", cands[0].StoreID)
	assert.InDelta(t, 80, cands[0].AvailableToContribute, 1e-9)
	assert.Equal(t, "S4", cands[1].StoreID)
	assert.InDelta(t, 40, cands[1].AvailableToContribute, 1e-9)

	submit(t, m, model.AllocationRequest{ID: "r1", StoreID: "S1", SKU: "Y", Quantity: 100})
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.Equal(t, model.SourceContributor, out.Source)
	assert.Equal(t, "router", out.Via)
	assert.Equal(t, "S4", out.Contributor, "S3 needs 80 units of capacity, only 60 are left")
	assert.Equal(t, "W2", out.WarehouseID)
	assert.Equal(t, 40, out.Fulfilled)
	assert.Equal(t, 60, out.Shortfall)
	require.NotNil(t, out.Transfer)
	assert.Equal(t, model.PriorityStandard, out.Transfer.Priority)

	require.Len(t, res.Transfers, 1)
	recorded := mem.Transfers()
	require.Len(t, recorded, 1)
	assert.Equal(t, "r1", recorded[0].RequestID)
	for _, v := range m.WarehouseStatus() {
		if v.WarehouseID == "W2" {
			assert.Equal(t, 40, v.IncomingScheduled)
		}
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(routerFailures.WithLabelValues("no_route")))
}

func TestDrainNeverOverdrawsDonorSpareStock(t *testing.T) {
	fx := pipelineFixtures()
	fx.Inventory = []model.StoreInventory{{StoreID: "S3", SKU: "Y", CurrentStock: 100, SafetyStock: 95}}
	mem := directory.NewMemory(fx)
	m := newManager(t, mem, nil, nil)

	submit(t, m, model.AllocationRequest{ID: "r1", StoreID: "S1", SKU: "Y", Quantity: 50, Urgency: model.UrgencyStandard})
	submit(t, m, model.AllocationRequest{ID: "r2", StoreID: "S2", SKU: "Y", Quantity: 50, Urgency: model.UrgencyStandard})
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 2)

	fulfilled := 0
	for _, out := range res.Outcomes {
		if out.Contributor == "S3" {
			fulfilled += out.Fulfilled
		}
	}
	assert.Equal(t, 5, fulfilled, "only current minus safety stock can leave S3")
	assert.Equal(t, 1, res.Count(model.SourceContributor))
	assert.Equal(t, 1, res.Count(model.SourceNone))

	inv, err := mem.Inventory(context.Background(), "S3", "Y")
	require.NoError(t, err)
	assert.Equal(t, 5, inv.ReservedQuantity)
	assert.Equal(t, 0, inv.Available())
}

func TestDrainEmergencyIgnoresSignal(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	m.State().Signals.Add(model.BehavioralSignal{
		StoreID: "S2", SKU: "PL", Kind: model.SignalMarketOpportunityDetected,
		Confidence: 0.9, QuantityIncreasePct: 50, ObservedAt: now,
	})
	k := submit(t, m, model.AllocationRequest{ID: "e1", StoreID: "S2", SKU: "PL", Quantity: 100, Urgency: model.UrgencyEmergency})
	assert.Equal(t, queue.Emergency, k)
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, 120, res.Outcomes[0].FinalQuantity)
	assert.Equal(t, model.SourceNone, res.Outcomes[0].Source, "warehouse holds only 100 and no store holds PL")
}

func TestDrainHighPriorityAppliesSignal(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	m.State().Signals.Add(model.BehavioralSignal{
		StoreID: "S2", SKU: "PL", Kind: model.SignalDemandIncreaseExpected,
		Confidence: 0.7, DaysEarly: 5, ObservedAt: now,
	})
	k := submit(t, m, model.AllocationRequest{ID: "h1", StoreID: "S2", SKU: "PL", Quantity: 20})
	assert.Equal(t, queue.HighPriority, k)
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, 33, res.Outcomes[0].FinalQuantity)
	assert.Equal(t, model.SourceWarehouse, res.Outcomes[0].Source)
	assert.Equal(t, 67, mem.Stock("W1", "PL"))
}

func TestDrainUnfulfilledRecordsReason(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	j := &memJournal{}
	bus := eventbus.New[events.Event](32)
	sub := bus.Subscribe()
	m := newManager(t, mem, nil, func(_ *Config, d *Deps) {
		d.Journal = j
		d.Bus = bus
	})
	submit(t, m, model.AllocationRequest{ID: "u1", StoreID: "S5", SKU: "Q", Quantity: 5})
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.Equal(t, model.SourceNone, out.Source)
	assert.Equal(t, 5, out.Shortfall)
	assert.Contains(t, out.Reason, "warehouse")
	assert.Contains(t, out.Reason, "contributor")

	recs, err := j.Query(context.Background(), journal.Query{Kind: journal.KindOutcome})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Attempts, 2)

	var completed bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub:
			if c, ok := ev.(events.CycleCompleted); ok {
				completed = true
				assert.Equal(t, res.ID, c.CycleID)
			}
		default:
		}
	}
	assert.True(t, completed, "expected a cycle completed event")
}

func TestDrainConservesRequests(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, func(c *Config, _ *Deps) { c.Workers = 4 })
	m.State().Signals.Add(model.BehavioralSignal{StoreID: "S1", SKU: "PL", Kind: model.SignalVolatilityExpected, Confidence: 0.8, ObservedAt: now})

	reqs := []model.AllocationRequest{
		{StoreID: "S1", SKU: "X", Quantity: 1},
		{StoreID: "S1", SKU: "PL", Quantity: 1},
		{StoreID: "S2", SKU: "X", Quantity: 1, Urgency: model.UrgencyEmergency},
	}
	var wg sync.WaitGroup
	total := 0
	for i := 0; i < 30; i++ {
		r := reqs[i%len(reqs)]
		total++
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.SubmitAllocationRequest(context.Background(), r)
		}()
	}
	var processed int
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		res := m.DrainQueues(context.Background())
		assert.Equal(t, res.Received, res.Processed())
		processed += len(res.Outcomes)
		select {
		case <-done:
			processed += len(m.DrainQueues(context.Background()).Outcomes)
			assert.Equal(t, total, processed)
			return
		default:
		}
	}
}

func TestDrainOrdersByQueue(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	submit(t, m, model.AllocationRequest{ID: "s", StoreID: "S1", SKU: "X", Quantity: 150})
	submit(t, m, model.AllocationRequest{ID: "e", StoreID: "S1", SKU: "X", Quantity: 100, Urgency: model.UrgencyEmergency})
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "e", res.Outcomes[0].RequestID)
	assert.Equal(t, model.SourceWarehouse, res.Outcomes[0].Source, "emergency claims stock first")
	assert.Equal(t, model.SourceNone, res.Outcomes[1].Source)
}

func TestSubmitRejectsInvalid(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	_, err := m.SubmitAllocationRequest(context.Background(), model.AllocationRequest{StoreID: "S1", SKU: "X"})
	assert.Error(t, err)
	assert.Equal(t, 0, m.QueueStatus().Total())
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, model.TransferRequest) (bool, error) { return false, f.err }

func TestSinkFailureReleasesCapacity(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, failingSink{err: errors.New("db down")}, nil)
	submit(t, m, model.AllocationRequest{ID: "r1", StoreID: "S1", SKU: "Y", Quantity: 30})
	res := m.DrainQueues(context.Background())
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, model.SourceNone, res.Outcomes[0].Source)
	for _, v := range m.WarehouseStatus() {
		assert.Equal(t, 0, v.IncomingScheduled, "warehouse %s", v.WarehouseID)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(routerFailures.WithLabelValues("sink")))
}

func TestRunConsensusWithExplicitStores(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	j := &memJournal{}
	m := newManager(t, mem, nil, func(c *Config, d *Deps) {
		c.Clustering.MaxRegions = 1
		d.Journal = j
	})
	stores, err := mem.Stores(context.Background())
	require.NoError(t, err)
	sigs := []model.BehavioralSignal{
		{StoreID: "S1", ManagerID: "M1", Kind: model.SignalDemandIncreaseExpected, Confidence: 0.8, DaysEarly: 3, ObservedAt: now},
		{StoreID: "S2", ManagerID: "M2", Kind: model.SignalDemandIncreaseExpected, Confidence: 0.8, DaysEarly: 3, ObservedAt: now},
		{StoreID: "S3", ManagerID: "M3", Kind: model.SignalDemandIncreaseExpected, Confidence: 0.8, DaysEarly: 3, ObservedAt: now},
	}
	rep, err := m.RunConsensus(context.Background(), sigs, stores, nil)
	require.NoError(t, err)
	require.Len(t, rep.Weak, 1)
	res := rep.Weak[0]
	assert.InDelta(t, 0.6, res.ParticipationRate, 1e-9)
	assert.InDelta(t, 0.48, res.Strength, 1e-9)

	last, ok := m.LastReport()
	require.True(t, ok)
	assert.Equal(t, rep.Timestamp, last.Timestamp)
	recs, _ := j.Query(context.Background(), journal.Query{Kind: journal.KindConsensus})
	assert.Len(t, recs, 1)

	high := 0.5
	rep, err = m.RunConsensus(context.Background(), sigs, nil, &high)
	require.NoError(t, err)
	assert.Empty(t, rep.Weak)
	assert.Len(t, rep.None, 1)

	bad := 1.5
	_, err = m.RunConsensus(context.Background(), sigs, nil, &bad)
	assert.Error(t, err)
}

func TestRunClusteringKeepsPreviousOnFailure(t *testing.T) {
	mem := directory.NewMemory(pipelineFixtures())
	m := newManager(t, mem, nil, nil)
	rm, err := m.RunClustering(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rm.StoreCount())

	_, err = m.RunConsensus(context.Background(), nil, []model.Store{{ID: "nowhere"}}, nil)
	require.Error(t, err)
	assert.Same(t, rm, m.State().Regions.Load())
}

func TestSyncActionsIngestsSignals(t *testing.T) {
	fx := pipelineFixtures()
	orig := now.AddDate(0, 0, 20)
	fx.Actions = []model.ManagerAction{
		{ID: "a1", StoreID: "S1", SKU: "PL", Type: model.ActionEarlyOrder, Timestamp: now.Add(-time.Hour), OriginalScheduleDate: &orig},
		{ID: "a2", StoreID: "S2", Type: model.ActionEmergencyOrder, Timestamp: now.Add(-time.Hour)},
	}
	mem := directory.NewMemory(fx)
	m := newManager(t, mem, nil, nil)
	n, err := m.SyncActions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "action without sku is skipped")
	_, ok := m.State().Signals.Lookup("S1", "PL")
	assert.True(t, ok)

	n, err = m.SyncActions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "actions are only ingested once")
}

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	drainDuration.Observe(0.1)
	outcomesTotal.WithLabelValues("warehouse", "standard").Inc()
	routerFailures.WithLabelValues("no_route").Inc()
	queueDepth.WithLabelValues("standard").Set(1)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"allocation_drain_duration_seconds",
		"allocation_outcomes_total",
		"allocation_router_failures_total",
		"allocation_queue_depth",
	} {
		assert.True(t, names[n], "metric %s not registered", n)
	}
}
