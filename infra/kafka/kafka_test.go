package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/routing"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func newTestBridge() (*Bridge, *memWriter, *memWriter, *memWriter) {
	c, s, b := &memWriter{}, &memWriter{}, &memWriter{}
	return &Bridge{cycles: c, consensus: s, batches: b, log: logger.Nop{}}, c, s, b
}

func TestHandleCycle(t *testing.T) {
	br, cycles, _, _ := newTestBridge()
	ev := events.CycleCompleted{CycleID: "c1", Duration: 1500 * time.Millisecond, Outcomes: []model.Outcome{
		{RequestID: "r1", Fulfilled: 40, Shortfall: 60},
		{RequestID: "r2", Fulfilled: 20},
	}}
	require.NoError(t, br.Handle(context.Background(), ev))
	require.Len(t, cycles.msgs, 1)
	assert.Equal(t, "c1", string(cycles.msgs[0].Key))

	var msg CycleMessage
	require.NoError(t, json.Unmarshal(cycles.msgs[0].Value, &msg))
	assert.Equal(t, 60, msg.Fulfilled)
	assert.Equal(t, 60, msg.Shortfall)
	assert.Equal(t, int64(1500), msg.DurationMS)
	assert.Len(t, msg.Outcomes, 2)
}

func TestHandleBatchesKeyedByWarehouse(t *testing.T) {
	br, _, _, batches := newTestBridge()
	ev := events.BatchesPlanned{Batches: 2, Plans: []routing.Batch{
		{ID: "b1", WarehouseID: "W1", Priority: model.PriorityEmergency, TransferIDs: []string{"t1"}},
		{ID: "b2", WarehouseID: "W2", Priority: model.PriorityStandard, TransferIDs: []string{"t2", "t3"}},
	}}
	require.NoError(t, br.Handle(context.Background(), ev))
	require.Len(t, batches.msgs, 2)
	assert.Equal(t, "W2", string(batches.msgs[1].Key))

	require.NoError(t, br.Handle(context.Background(), events.BatchesPlanned{}))
	assert.Len(t, batches.msgs, 2)
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	br, cycles, consensus, batches := newTestBridge()
	require.NoError(t, br.Handle(context.Background(), events.RequestQueued{Queue: "standard"}))
	assert.Zero(t, cycles.len()+consensus.len()+batches.len())
}

func TestBridgeStartForwardsAndCloses(t *testing.T) {
	br, cycles, consensus, _ := newTestBridge()
	consensus.err = errors.New("broker down")
	bus := eventbus.New[events.Event](8)
	ctx, cancel := context.WithCancel(context.Background())
	done := br.Start(ctx, bus)

	bus.Publish(events.ConsensusComputed{Timestamp: time.Now(), Threshold: 0.4})
	bus.Publish(events.CycleCompleted{CycleID: "c2"})
	assert.Eventually(t, func() bool { return cycles.len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bridge did not stop")
	}
	assert.True(t, cycles.closed)
}

func TestNewBridgeRequiresBrokers(t *testing.T) {
	_, err := NewBridge(Config{}, nil)
	assert.Error(t, err)

	br, err := NewBridge(Config{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	w := br.cycles.(*kafka.Writer)
	assert.Equal(t, "stockpulse.cycles", w.Topic)
	require.NoError(t, br.Close())
}
