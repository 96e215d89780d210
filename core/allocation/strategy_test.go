package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
	"github.com/kilianp07/stockpulse/core/routing"
)

type staticFinder []model.ContributionCandidate

func (f staticFinder) FindContributors(context.Context, string, string, int) ([]model.ContributionCandidate, error) {
	return f, nil
}

// scriptedRouter returns the queued errors in order, then succeeds.
type scriptedRouter struct {
	mu       sync.Mutex
	errs     []error
	delay    time.Duration
	calls    int
	released int
}

func (r *scriptedRouter) Route(_ context.Context, from, to string, qty int, prio model.Priority) (model.TransferRoute, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return model.TransferRoute{}, err
	}
	return model.TransferRoute{WarehouseID: "W9"}, nil
}

func (r *scriptedRouter) Release(_ string, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released += qty
}

func (r *scriptedRouter) releasedQty() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

type recordingSink struct {
	mu      sync.Mutex
	seen    map[string]bool
	created int
}

func (s *recordingSink) Append(_ context.Context, t model.TransferRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[t.RequestID] {
		return false, nil
	}
	s.seen[t.RequestID] = true
	s.created++
	return true, nil
}

func item(qty int) queue.Item {
	return queue.Item{
		Request:       model.AllocationRequest{ID: "r1", StoreID: "S1", SKU: "Y", Quantity: qty},
		Queue:         queue.HighPriority,
		FinalQuantity: qty,
	}
}

func TestContributorRetriesConflictOnce(t *testing.T) {
	ResetMetrics(nil)
	conflict := &routing.CapacityConflictError{WarehouseID: "W9", Expected: 1, Actual: 2}
	router := &scriptedRouter{errs: []error{conflict}}
	s := ContributorStrategy{
		Finder:          staticFinder{{StoreID: "S3", AvailableToContribute: 12.7, AvailableStock: 100}},
		Router:          router,
		Sink:            &recordingSink{},
		ConflictRetries: 1,
	}
	out, err := s.Attempt(context.Background(), item(20))
	require.NoError(t, err)
	assert.Equal(t, 2, router.calls)
	assert.Equal(t, 12, out.Fulfilled, "available to contribute is floored")
	assert.Equal(t, 8, out.Shortfall)
	assert.Equal(t, model.PriorityHigh, out.Transfer.Priority)
}

func TestContributorMovesOnAfterRepeatedConflict(t *testing.T) {
	ResetMetrics(nil)
	conflict := &routing.CapacityConflictError{WarehouseID: "W9"}
	router := &scriptedRouter{errs: []error{conflict, conflict}}
	s := ContributorStrategy{
		Finder:          staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 100}, {StoreID: "S4", AvailableToContribute: 5, AvailableStock: 100}},
		Router:          router,
		Sink:            &recordingSink{},
		ConflictRetries: 1,
	}
	out, err := s.Attempt(context.Background(), item(10))
	require.NoError(t, err)
	assert.Equal(t, "S4", out.Contributor)
	assert.Equal(t, 3, router.calls)
}

func TestContributorRouteTimeoutReleasesLateBooking(t *testing.T) {
	ResetMetrics(nil)
	router := &scriptedRouter{delay: 100 * time.Millisecond}
	s := ContributorStrategy{
		Finder:       staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 100}},
		Router:       router,
		Sink:         &recordingSink{},
		RouteTimeout: 10 * time.Millisecond,
	}
	_, err := s.Attempt(context.Background(), item(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRouteTimeout))
	assert.Eventually(t, func() bool { return router.releasedQty() == 10 }, time.Second, 10*time.Millisecond)
}

func TestContributorDuplicateRequestReleasesBooking(t *testing.T) {
	ResetMetrics(nil)
	router := &scriptedRouter{}
	sink := &recordingSink{}
	s := ContributorStrategy{
		Finder: staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 100}},
		Router: router,
		Sink:   sink,
	}
	_, err := s.Attempt(context.Background(), item(10))
	require.NoError(t, err)
	out, err := s.Attempt(context.Background(), item(10))
	require.NoError(t, err)
	assert.Equal(t, model.SourceContributor, out.Source)
	assert.Equal(t, 1, sink.created)
	assert.Equal(t, 10, router.releasedQty())
	assert.Nil(t, out.Transfer, "duplicate is not announced again")
}

func TestContributorNoCandidates(t *testing.T) {
	s := ContributorStrategy{Finder: staticFinder{}, Router: &scriptedRouter{}, Sink: &recordingSink{}}
	_, err := s.Attempt(context.Background(), item(5))
	assert.ErrorIs(t, err, ErrNoContributors)

	s.Finder = staticFinder{{StoreID: "S3", AvailableToContribute: 0.4, AvailableStock: 100}}
	_, err = s.Attempt(context.Background(), item(5))
	assert.ErrorIs(t, err, ErrNoContributors, "fractional availability rounds down to nothing")
}

type stubStrategy struct {
	name string
	err  error
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Attempt(_ context.Context, it queue.Item) (model.Outcome, error) {
	if s.err != nil {
		return model.Outcome{}, s.err
	}
	out := baseOutcome(it)
	out.Source = model.SourceWarehouse
	return out, nil
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	chain := Chain{
		stubStrategy{name: "a", err: errors.New("nope")},
		stubStrategy{name: "b"},
		stubStrategy{name: "c", err: errors.New("never reached")},
	}
	out, fails := chain.Run(context.Background(), item(3))
	assert.Equal(t, model.SourceWarehouse, out.Source)
	require.Len(t, fails, 1)
	assert.Equal(t, "a", fails[0].Strategy)

	out, fails = Chain{}.Run(context.Background(), item(3))
	assert.Equal(t, model.SourceNone, out.Source)
	assert.Empty(t, fails)
	assert.Equal(t, 3, out.Shortfall)
}

func TestContributorCapsAtSpareStock(t *testing.T) {
	ResetMetrics(nil)
	s := ContributorStrategy{
		Finder: staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 5}},
		Router: &scriptedRouter{},
		Sink:   &recordingSink{},
	}
	out, err := s.Attempt(context.Background(), item(50))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Fulfilled, "bounded score floor must not exceed spare stock")
	assert.Equal(t, 45, out.Shortfall)
	assert.Equal(t, 5, out.Transfer.Quantity)
}

func donorDirectory() *directory.Memory {
	return directory.NewMemory(directory.Fixtures{
		Inventory: []model.StoreInventory{{StoreID: "S3", SKU: "Y", CurrentStock: 100, SafetyStock: 95}},
	})
}

func reservedAt(t *testing.T, mem *directory.Memory) int {
	t.Helper()
	inv, err := mem.Inventory(context.Background(), "S3", "Y")
	require.NoError(t, err)
	return inv.ReservedQuantity
}

func TestContributorReservesDonorStock(t *testing.T) {
	ResetMetrics(nil)
	mem := donorDirectory()
	s := ContributorStrategy{
		Finder:   staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 5}},
		Router:   &scriptedRouter{},
		Sink:     &recordingSink{},
		Reserver: mem,
	}
	first := item(50)
	out, err := s.Attempt(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Fulfilled)
	assert.Equal(t, 5, reservedAt(t, mem))

	second := item(50)
	second.Request.ID = "r2"
	_, err = s.Attempt(context.Background(), second)
	assert.ErrorIs(t, err, ErrNoContributors, "spare stock already promised")
	assert.Equal(t, 5, reservedAt(t, mem))
}

func TestContributorRouteFailureUnreserves(t *testing.T) {
	ResetMetrics(nil)
	mem := donorDirectory()
	s := ContributorStrategy{
		Finder:   staticFinder{{StoreID: "S3", AvailableToContribute: 10, AvailableStock: 5}},
		Router:   &scriptedRouter{errs: []error{&routing.NoRouteFoundError{From: "S3", To: "S1", Quantity: 5}}},
		Sink:     &recordingSink{},
		Reserver: mem,
	}
	_, err := s.Attempt(context.Background(), item(50))
	require.Error(t, err)
	assert.True(t, routing.IsNoRoute(err))
	assert.Equal(t, 0, reservedAt(t, mem))
}
