package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/stockpulse/core/allocation/journal"
	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/consensus"
	"github.com/kilianp07/stockpulse/core/contribution"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/metrics"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/monitoring"
	"github.com/kilianp07/stockpulse/core/queue"
	"github.com/kilianp07/stockpulse/core/routing"
	"github.com/kilianp07/stockpulse/core/signal"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

// Directory bundles the read collaborators and the warehouse stock writer.
type Directory interface {
	directory.StoreDirectory
	directory.ProductDirectory
	directory.WarehouseDirectory
	directory.InventoryDirectory
	directory.WarehouseStock
	directory.ActionFeed
}

// ConsensusHistory persists consensus reports.
type ConsensusHistory interface {
	SaveConsensus(ctx context.Context, ts time.Time, results []model.ConsensusResult) error
}

// Config tunes the orchestrator and the components it owns.
type Config struct {
	Workers         int           `json:"workers"`
	RouteTimeout    time.Duration `json:"route_timeout"`
	ConflictRetries int           `json:"conflict_retries"`
	BulkBaseline    int           `json:"bulk_baseline"`

	Clustering   cluster.Config      `json:"clustering"`
	Consensus    consensus.Config    `json:"consensus"`
	Contribution contribution.Config `json:"contribution"`
	Routing      routing.Config      `json:"routing"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RouteTimeout == 0 {
		c.RouteTimeout = 2 * time.Second
	}
	if c.ConflictRetries == 0 {
		c.ConflictRetries = 1
	}
	if c.BulkBaseline == 0 {
		c.BulkBaseline = signal.DefaultBulkBaseline
	}
	c.Clustering.SetDefaults()
	c.Consensus.SetDefaults()
	c.Contribution.SetDefaults()
	c.Routing.SetDefaults()
}

// Deps are the collaborators of a Manager. Directory and Transfers are required.
type Deps struct {
	Directory Directory
	Transfers directory.TransferSink
	History   ConsensusHistory
	Journal   journal.Store
	Sink      metrics.MetricsSink
	Bus       eventbus.Publisher[events.Event]
	Logger    logger.Logger
	Now       func() time.Time
}

// Manager orchestrates the allocation pipeline over an explicit State.
type Manager struct {
	cfg        Config
	dir        Directory
	state      *State
	classifier *queue.Classifier
	extractor  *signal.Extractor
	clusterer  *cluster.Clusterer
	engine     *consensus.Engine
	scorer     *contribution.Scorer
	router     *routing.Router
	chain      Chain
	history    ConsensusHistory
	journal    journal.Store
	sink       metrics.MetricsSink
	bus        eventbus.Publisher[events.Event]
	logger     logger.Logger
	now        func() time.Time

	mu         sync.Mutex
	lastReport *consensus.Report
	syncedTo   time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// NewManager builds the pipeline. The capacity ledger is seeded from the
// warehouse directory.
func NewManager(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	if deps.Directory == nil {
		return nil, errors.New("allocation: directory is required")
	}
	if deps.Transfers == nil {
		return nil, errors.New("allocation: transfer sink is required")
	}
	cfg.SetDefaults()
	if err := cfg.Consensus.Validate(); err != nil {
		return nil, err
	}
	rows, err := deps.Directory.Capacities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load warehouse capacities: %w", err)
	}
	log := logger.OrNop(deps.Logger)
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	if deps.Bus == nil {
		deps.Bus = nopPublisher{}
	}

	st := NewState(rows)
	dir := deps.Directory
	engine := consensus.NewEngine(cfg.Consensus, log)
	engine.SetClock(deps.Now)
	scorer := contribution.NewScorer(cfg.Contribution, dir, dir, dir, dir, log)
	router := routing.NewRouter(cfg.Routing, dir, dir, st.Capacity, st.Regions, log)

	m := &Manager{
		cfg:        cfg,
		dir:        dir,
		state:      st,
		classifier: queue.NewClassifier(dir, st.Signals, log),
		extractor:  signal.NewExtractor(cfg.BulkBaseline, log),
		clusterer:  cluster.New(cfg.Clustering, log),
		engine:     engine,
		scorer:     scorer,
		router:     router,
		history:    deps.History,
		journal:    deps.Journal,
		sink:       deps.Sink,
		bus:        deps.Bus,
		logger:     log,
		now:        deps.Now,
	}
	reserver, _ := dir.(directory.StockReserver)
	m.chain = Chain{
		WarehouseStrategy{Stores: dir, Stock: dir},
		ContributorStrategy{
			Reserver:        reserver,
			Finder:          scorer,
			Router:          router,
			Sink:            deps.Transfers,
			RouteTimeout:    cfg.RouteTimeout,
			ConflictRetries: cfg.ConflictRetries,
			Now:             deps.Now,
			Logger:          log,
		},
	}
	return m, nil
}

// State returns the pipeline state.
func (m *Manager) State() *State { return m.state }

// SubmitAllocationRequest validates, classifies and queues a request. The
// request id is generated when empty.
func (m *Manager) SubmitAllocationRequest(ctx context.Context, req model.AllocationRequest) (queue.Kind, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = m.now()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	kind, req, err := m.classifier.Classify(ctx, req)
	if err != nil {
		return "", fmt.Errorf("classify %s: %w", req.ID, err)
	}
	m.state.Queues.Enqueue(kind, req)
	status := m.state.Queues.Status()
	m.setQueueDepth(status)
	m.bus.Publish(events.RequestQueued{Request: req, Queue: string(kind), Depth: status[kind]})
	m.logger.Debugf("request %s for %s/%s queued as %s", req.ID, req.StoreID, req.SKU, kind)
	return kind, nil
}

// QueueStatus returns the current depth of each queue.
func (m *Manager) QueueStatus() queue.Status { return m.state.Queues.Status() }

func (m *Manager) setQueueDepth(s queue.Status) {
	for _, k := range queue.Kinds {
		queueDepth.WithLabelValues(string(k)).Set(float64(s[k]))
	}
}

// IngestActions extracts signals from manager actions and stores them.
// Actions that cannot be extracted are logged and skipped.
func (m *Manager) IngestActions(actions []model.ManagerAction) int {
	sigs := m.extractor.ExtractAll(actions)
	rejected := m.state.Signals.Add(sigs...)
	if rejected > 0 {
		m.logger.Warnf("%d extracted signals rejected", rejected)
	}
	return len(sigs) - rejected
}

// SyncActions pulls actions recorded since the previous sync from the
// directory feed and ingests them.
func (m *Manager) SyncActions(ctx context.Context) (int, error) {
	m.mu.Lock()
	since := m.syncedTo
	m.mu.Unlock()
	if since.IsZero() {
		since = m.now().AddDate(0, 0, -m.engine.WindowDays())
	}
	actions, err := m.dir.Actions(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("fetch manager actions: %w", err)
	}
	latest := since
	for _, a := range actions {
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}
	m.mu.Lock()
	m.syncedTo = latest.Add(time.Nanosecond)
	m.mu.Unlock()
	return m.IngestActions(actions), nil
}

// RunClustering rebuilds the store regions from the store directory. On
// failure the previous region map is kept.
func (m *Manager) RunClustering(ctx context.Context) (*cluster.RegionMap, error) {
	stores, err := m.dir.Stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return m.cluster(stores)
}

func (m *Manager) cluster(stores []model.Store) (*cluster.RegionMap, error) {
	since := m.now().AddDate(0, 0, -m.engine.WindowDays())
	rm, err := m.clusterer.Run(stores, m.state.Signals.Recent(since))
	if err != nil {
		m.logger.Errorf("clustering failed, keeping previous regions: %v", err)
		monitoring.CaptureException(err, map[string]string{"component": "clustering"})
		return nil, err
	}
	m.state.Regions.Replace(rm)
	m.bus.Publish(events.RegionsRebuilt{BuiltAt: rm.BuiltAt, Regions: len(rm.Regions), Stores: rm.StoreCount()})
	m.logger.Infof("regions rebuilt: %d regions over %d stores", len(rm.Regions), rm.StoreCount())
	return rm, nil
}

// RunConsensus validates signals per region. Nil signals means the signals
// stored in the current window. Non-nil stores are clustered first and the
// resulting regions replace the current ones; otherwise the current regions
// are used, clustering the directory stores when none exist yet. A nil
// threshold uses the configured one.
func (m *Manager) RunConsensus(ctx context.Context, signals []model.BehavioralSignal, stores []model.Store, threshold *float64) (consensus.Report, error) {
	th := m.engine.Threshold()
	if threshold != nil {
		th = *threshold
		if th < 0 || th > 1 {
			return consensus.Report{}, fmt.Errorf("consensus threshold %v outside [0,1]", th)
		}
	}
	cutoff := m.now().AddDate(0, 0, -m.engine.WindowDays())
	if signals == nil {
		m.state.Signals.Prune(cutoff)
		signals = m.state.Signals.Recent(cutoff)
	}

	var regions *cluster.RegionMap
	var err error
	switch {
	case stores != nil:
		regions, err = m.cluster(stores)
	case m.state.Regions.Load() == nil:
		regions, err = m.RunClustering(ctx)
	default:
		regions = m.state.Regions.Load()
	}
	if err != nil {
		return consensus.Report{}, fmt.Errorf("consensus regions: %w", err)
	}

	rep := m.engine.ValidateWithThreshold(signals, regions, th)
	m.mu.Lock()
	m.lastReport = &rep
	m.mu.Unlock()
	m.recordConsensus(ctx, rep)
	return rep, nil
}

func (m *Manager) recordConsensus(ctx context.Context, rep consensus.Report) {
	results := rep.Results()
	for _, res := range rep.Emergency {
		m.logger.Warnf("emergency consensus in %s: %s (strength %.2f), recommended %s",
			res.Region, res.SignalType, res.Strength, res.RecommendedAction)
	}
	if m.history != nil {
		if err := m.history.SaveConsensus(ctx, rep.Timestamp, results); err != nil {
			m.logger.Errorf("save consensus history: %v", err)
			monitoring.CaptureException(err, map[string]string{"component": "consensus"})
		}
	}
	recs := make([]metrics.ConsensusRecord, 0, len(results))
	for i := range results {
		res := results[i]
		recs = append(recs, metrics.ConsensusRecord{
			Region:        res.Region,
			SignalType:    res.SignalType,
			Level:         string(res.Level),
			Strength:      res.Strength,
			Participation: res.ParticipationRate,
			Confidence:    res.Confidence,
			Emergency:     res.Emergency,
			Time:          rep.Timestamp,
		})
		if err := m.journal.Append(ctx, journal.Record{Timestamp: rep.Timestamp, Kind: journal.KindConsensus, Consensus: &res}); err != nil {
			m.logger.Errorf("journal consensus: %v", err)
		}
	}
	if r, ok := m.sink.(metrics.ConsensusRecorder); ok {
		if err := r.RecordConsensus(recs); err != nil {
			m.logger.Warnf("record consensus metrics: %v", err)
		}
	}
	m.bus.Publish(events.ConsensusComputed{Timestamp: rep.Timestamp, Threshold: rep.Threshold, Results: results})
}

// LastReport returns the most recent consensus report.
func (m *Manager) LastReport() (consensus.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastReport == nil {
		return consensus.Report{}, false
	}
	return *m.lastReport, true
}

// UpdateManagerWeights adjusts how much each manager's signals count in consensus.
func (m *Manager) UpdateManagerWeights(acc []consensus.ManagerAccuracy) {
	m.engine.UpdateManagerWeights(acc)
}

// ScoreContributors ranks the stores able to give sku to storeID.
func (m *Manager) ScoreContributors(ctx context.Context, storeID, sku string, needed int) ([]model.ContributionCandidate, error) {
	if needed <= 0 {
		return nil, fmt.Errorf("needed quantity must be positive, got %d", needed)
	}
	return m.scorer.FindContributors(ctx, storeID, sku, needed)
}

// AnalyzeContributions runs contributor search for several requests.
func (m *Manager) AnalyzeContributions(ctx context.Context, reqs []contribution.Request) []contribution.Analysis {
	return m.scorer.Analyze(ctx, reqs)
}

// RouteTransfer selects a warehouse for a transfer and books its capacity.
func (m *Manager) RouteTransfer(ctx context.Context, fromID, toID string, qty int, prio model.Priority) (model.TransferRoute, error) {
	if qty <= 0 {
		return model.TransferRoute{}, fmt.Errorf("transfer quantity must be positive, got %d", qty)
	}
	return m.router.Route(ctx, fromID, toID, qty, prio)
}

// WarehouseStatus returns every warehouse capacity row.
func (m *Manager) WarehouseStatus() []routing.CapacityView { return m.state.Capacity.Snapshot() }

// PlanBatches groups pending transfers into warehouse departures.
func (m *Manager) PlanBatches(transfers []model.TransferRequest) ([]routing.Batch, []model.TransferRequest) {
	batches, rest := routing.PlanBatches(transfers, m.now(), m.cfg.Routing.MaxBatchSize)
	n := 0
	for _, b := range batches {
		n += b.TotalRequests
	}
	m.bus.Publish(events.BatchesPlanned{Batches: len(batches), Transfers: n, Deferred: len(rest), Plans: batches})
	return batches, rest
}
