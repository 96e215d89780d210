package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/stockpulse/core/events"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/internal/eventbus"
)

// TransferPublisher delivers transfer notices to stores.
type TransferPublisher interface {
	PublishTransfer(t model.TransferRequest) error
}

// StartTransferNotifier forwards every scheduled transfer on the bus to pub
// until ctx is canceled. The returned channel is closed once the forwarder
// has stopped.
func StartTransferNotifier(ctx context.Context, bus *eventbus.Bus[events.Event], pub TransferPublisher, log logger.Logger) <-chan struct{} {
	log = logger.OrNop(log)
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				ts, ok := ev.(events.TransferScheduled)
				if !ok {
					continue
				}
				if err := pub.PublishTransfer(ts.Transfer); err != nil {
					log.Errorf("transfer notice %s: %v", ts.Transfer.ID, err)
				}
			}
		}
	}()
	return done
}

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	Notices map[string][]model.TransferRequest
	FailIDs map[string]bool
	mu      sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Notices: make(map[string][]model.TransferRequest),
		FailIDs: make(map[string]bool),
	}
}

// PublishTransfer records the notice or returns an error if the receiving
// store is configured to fail.
func (m *MockPublisher) PublishTransfer(t model.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[t.ToStoreID] {
		return fmt.Errorf("publish failed")
	}
	m.Notices[t.ToStoreID] = append(m.Notices[t.ToStoreID], t)
	return nil
}

// Count returns the number of notices recorded for storeID.
func (m *MockPublisher) Count(storeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notices[storeID])
}
