// Package kafka publishes pipeline results to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	coremon "github.com/kilianp07/stockpulse/core/monitoring"
	"github.com/kilianp07/stockpulse/core/routing"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

// Config lists the brokers and the topic used for each kind of result.
type Config struct {
	Brokers        []string `json:"brokers"`
	CycleTopic     string   `json:"cycle_topic"`
	ConsensusTopic string   `json:"consensus_topic"`
	BatchTopic     string   `json:"batch_topic"`
}

func (c *Config) SetDefaults() {
	if c.CycleTopic == "" {
		c.CycleTopic = "stockpulse.cycles"
	}
	if c.ConsensusTopic == "" {
		c.ConsensusTopic = "stockpulse.consensus"
	}
	if c.BatchTopic == "" {
		c.BatchTopic = "stockpulse.batches"
	}
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// NewWriter returns a synchronous writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CycleMessage summarizes one drain cycle.
type CycleMessage struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Fulfilled  int             `json:"fulfilled"`
	Shortfall  int             `json:"shortfall"`
	Outcomes   []model.Outcome `json:"outcomes"`
}

// ConsensusMessage carries the results of one consensus run.
type ConsensusMessage struct {
	Timestamp time.Time               `json:"timestamp"`
	Threshold float64                 `json:"threshold"`
	Results   []model.ConsensusResult `json:"results"`
}

// Bridge forwards bus events to Kafka.
type Bridge struct {
	cycles    messageWriter
	consensus messageWriter
	batches   messageWriter
	log       logger.Logger
}

// NewBridge creates one writer per topic.
func NewBridge(cfg Config, log logger.Logger) (*Bridge, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka: no brokers configured")
	}
	cfg.SetDefaults()
	return &Bridge{
		cycles:    NewWriter(cfg.Brokers, cfg.CycleTopic),
		consensus: NewWriter(cfg.Brokers, cfg.ConsensusTopic),
		batches:   NewWriter(cfg.Brokers, cfg.BatchTopic),
		log:       logger.OrNop(log),
	}, nil
}

// Start consumes bus events until ctx is canceled or the bus closes. The
// returned channel is closed once the writers are flushed and closed.
func (b *Bridge) Start(ctx context.Context, bus *eventbus.Bus[events.Event]) <-chan struct{} {
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.Close()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := b.Handle(ctx, ev); err != nil {
					b.log.Errorf("kafka publish %s: %v", ev.EventName(), err)
					coremon.CaptureException(err, map[string]string{"module": "kafka", "event": ev.EventName()})
				}
			}
		}
	}()
	return done
}

// Handle publishes ev when it is one of the forwarded kinds.
func (b *Bridge) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.CycleCompleted:
		msg := CycleMessage{CycleID: e.CycleID, StartedAt: e.StartedAt, DurationMS: e.Duration.Milliseconds(), Outcomes: e.Outcomes}
		for _, o := range e.Outcomes {
			msg.Fulfilled += o.Fulfilled
			msg.Shortfall += o.Shortfall
		}
		return publishJSON(ctx, b.cycles, e.CycleID, msg)
	case events.ConsensusComputed:
		msg := ConsensusMessage{Timestamp: e.Timestamp, Threshold: e.Threshold, Results: e.Results}
		return publishJSON(ctx, b.consensus, e.Timestamp.UTC().Format(time.RFC3339Nano), msg)
	case events.BatchesPlanned:
		return b.publishBatches(ctx, e.Plans)
	}
	return nil
}

func (b *Bridge) publishBatches(ctx context.Context, plans []routing.Batch) error {
	if len(plans) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(plans))
	for _, p := range plans {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(p.WarehouseID), Value: body, Time: time.Now().UTC()})
	}
	return b.batches.WriteMessages(ctx, msgs...)
}

func publishJSON(ctx context.Context, w messageWriter, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// Close closes every writer.
func (b *Bridge) Close() error {
	var errs []error
	for _, w := range []messageWriter{b.cycles, b.consensus, b.batches} {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("kafka close: %w", errors.Join(errs...))
	}
	return nil
}
