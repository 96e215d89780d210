// Package app wires the allocation pipeline to its collaborators and runs
// the periodic jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/stockpulse/config"
	"github.com/kilianp07/stockpulse/core/allocation"
	"github.com/kilianp07/stockpulse/core/allocation/journal"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/events"
	coremetrics "github.com/kilianp07/stockpulse/core/metrics"
	coremon "github.com/kilianp07/stockpulse/core/monitoring"
	"github.com/kilianp07/stockpulse/infra/feed"
	"github.com/kilianp07/stockpulse/infra/kafka"
	"github.com/kilianp07/stockpulse/infra/logger"
	"github.com/kilianp07/stockpulse/infra/metrics"
	inframon "github.com/kilianp07/stockpulse/infra/monitoring"
	"github.com/kilianp07/stockpulse/infra/mqtt"
	"github.com/kilianp07/stockpulse/infra/postgres"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

// Service owns the allocation manager and the adapters around it.
type Service struct {
	Manager   *allocation.Manager
	Directory *directory.Memory

	cfg      *config.Config
	bus      *eventbus.Bus[events.Event]
	journal  journal.Store
	sink     coremetrics.MetricsSink
	pool     *pgxpool.Pool
	mqtt     *mqtt.PahoClient
	kafka    *kafka.Bridge
	feed     *feed.Client
	log      logger.Logger
	registry prometheus.Registerer

	kafkaStarted bool
	wg           sync.WaitGroup
}

// Options override parts of the wiring, mostly for tests and one-shot
// commands.
type Options struct {
	// Offline skips every network adapter (MQTT, Kafka, Postgres, feed).
	Offline bool
	// Registry receives the event collector; nil means the default registerer.
	Registry prometheus.Registerer
	// Now overrides the manager clock.
	Now func() time.Time
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logg := logger.New("service")

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	var fx directory.Fixtures
	if cfg.Fixtures.Path != "" {
		if fx, err = directory.LoadFixtures(cfg.Fixtures.Path); err != nil {
			return nil, fmt.Errorf("fixtures: %w", err)
		}
	}
	svc := &Service{
		Directory: directory.NewMemory(fx),
		cfg:       cfg,
		bus:       eventbus.New[events.Event](eventbus.DefaultBuffer),
		log:       logg,
		registry:  opts.Registry,
	}

	deps := allocation.Deps{
		Directory: svc.Directory,
		Transfers: svc.Directory,
		Bus:       svc.bus,
		Logger:    logger.New("allocation"),
		Now:       opts.Now,
	}
	if !opts.Offline && cfg.Postgres.URL != "" {
		if svc.pool, err = postgres.Open(ctx, cfg.Postgres.URL); err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := postgres.RunMigrations(ctx, svc.pool); err != nil {
				svc.pool.Close()
				return nil, err
			}
		}
		repo := postgres.NewRepository(svc.pool)
		deps.Transfers = repo
		deps.History = repo
	}

	if svc.journal, err = journal.Open(cfg.Journal); err != nil {
		svc.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	deps.Journal = svc.journal

	if svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		svc.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	deps.Sink = svc.sink

	if svc.Manager, err = allocation.NewManager(ctx, cfg.Allocation(), deps); err != nil {
		svc.Close()
		return nil, fmt.Errorf("allocation manager: %w", err)
	}
	for _, req := range fx.Requests {
		if _, err := svc.Manager.SubmitAllocationRequest(ctx, req); err != nil {
			logg.Warnf("fixture request for %s/%s rejected: %v", req.StoreID, req.SKU, err)
		}
	}

	if opts.Offline {
		return svc, nil
	}
	if cfg.MQTT.Broker != "" {
		if svc.mqtt, err = mqtt.NewPahoClient(cfg.MQTT, svc.Manager, logger.New("mqtt")); err != nil {
			svc.Close()
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
	}
	if cfg.Kafka.Enabled() {
		if svc.kafka, err = kafka.NewBridge(cfg.Kafka, logger.New("kafka")); err != nil {
			svc.Close()
			return nil, err
		}
	}
	if cfg.Feed.Enabled() {
		svc.feed = feed.NewClient(ctx, cfg.Feed, svc.Manager, logger.New("feed"))
	}
	return svc, nil
}

// Run starts the adapters and the periodic jobs and blocks until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		s.goRun(func() {
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		})
	}
	if _, err := metrics.StartEventCollector(ctx, s.bus, s.registry, logger.New("collector")); err != nil {
		s.log.Errorf("event collector: %v", err)
	}
	if s.mqtt != nil {
		mqtt.StartTransferNotifier(ctx, s.bus, s.mqtt, s.log)
	}
	if s.kafka != nil {
		done := s.kafka.Start(ctx, s.bus)
		s.kafkaStarted = true
		s.goRun(func() { <-done })
	}
	if s.feed != nil {
		s.goRun(func() {
			if err := s.feed.Start(ctx); err != nil {
				s.log.Errorf("feed: %v", err)
			}
		})
	}

	if _, err := s.Manager.RunClustering(ctx); err != nil {
		s.log.Warnf("initial clustering: %v", err)
	}
	pc := s.cfg.Pipeline
	s.schedule(ctx, []job{
		{name: "sync", interval: pc.SyncInterval(), run: s.sync},
		{name: "clustering", interval: pc.ClusteringInterval(), run: func(ctx context.Context) error {
			_, err := s.Manager.RunClustering(ctx)
			return err
		}},
		{name: "consensus", interval: pc.ConsensusInterval(), run: func(ctx context.Context) error {
			_, err := s.Manager.RunConsensus(ctx, nil, nil, nil)
			return err
		}},
		{name: "drain", interval: pc.DrainInterval(), run: func(ctx context.Context) error {
			s.Cycle(ctx)
			return nil
		}},
	})

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// Cycle drains the queues once and plans batches for the new transfers.
func (s *Service) Cycle(ctx context.Context) allocation.CycleResult {
	res := s.Manager.DrainQueues(ctx)
	if len(res.Transfers) > 0 {
		s.Manager.PlanBatches(res.Transfers)
	}
	return res
}

func (s *Service) sync(ctx context.Context) error {
	_, err := s.Manager.SyncActions(ctx)
	return err
}

func (s *Service) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

type job struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
}

// schedule runs jobs on their intervals, one at a time, so clustering,
// consensus and drain never interleave. A job that comes due while it is
// already waiting is not queued twice. Errors are logged and reported,
// never fatal.
func (s *Service) schedule(ctx context.Context, jobs []job) {
	due := make(chan int, len(jobs))
	waiting := make([]atomic.Bool, len(jobs))
	for i := range jobs {
		interval := jobs[i].interval
		s.goRun(func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if waiting[i].CompareAndSwap(false, true) {
						due <- i
					}
				}
			}
		})
	}
	s.goRun(func() {
		defer coremon.Recover()
		for {
			select {
			case <-ctx.Done():
				return
			case i := <-due:
				waiting[i].Store(false)
				j := jobs[i]
				if err := j.run(ctx); err != nil {
					s.log.Errorf("%s job: %v", j.name, err)
					coremon.CaptureException(err, map[string]string{"module": "service", "job": j.name})
				}
			}
		}
	})
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.kafka != nil && !s.kafkaStarted {
		errs = append(errs, s.kafka.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.bus.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
