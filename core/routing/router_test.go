package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/geo"
	"github.com/kilianp07/stockpulse/core/model"
)

var (
	paris = &model.Coordinate{Lat: 48.8566, Lng: 2.3522}
	lyon  = &model.Coordinate{Lat: 45.7640, Lng: 4.8357}
	dijon = &model.Coordinate{Lat: 47.3220, Lng: 5.0415}
)

type staticRegions struct{ m *cluster.RegionMap }

func (s staticRegions) Load() *cluster.RegionMap { return s.m }

func setup(caps []model.WarehouseCapacity, whs ...model.Warehouse) (*Router, *CapacityLedger) {
	mem := directory.NewMemory(directory.Fixtures{
		Stores: []model.Store{
			{ID: "A", Location: paris},
			{ID: "B", Location: lyon},
			{ID: "NOLOC"},
		},
		Warehouses: whs,
	})
	ledger := NewCapacityLedger(caps)
	return NewRouter(Config{}, mem, mem, ledger, nil, nil), ledger
}

func capRow(id string, max, used, incoming int) model.WarehouseCapacity {
	return model.WarehouseCapacity{WarehouseID: id, MaxCapacity: max, CurrentUtilization: used, IncomingScheduled: incoming}
}

func TestSelectShortestTotalDistance(t *testing.T) {
	r, _ := setup(
		[]model.WarehouseCapacity{capRow("W1", 1000, 100, 0), capRow("W2", 1000, 100, 0)},
		model.Warehouse{ID: "W1", Location: paris},
		model.Warehouse{ID: "W2", Location: dijon},
	)
	route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityStandard)
	require.NoError(t, err)
	assert.Equal(t, "W1", route.WarehouseID)
	total := geo.Haversine(*paris, *lyon)
	assert.InDelta(t, geo.Round2(total), route.TotalDistance, 1e-9)
	assert.Equal(t, 0.0, route.DistanceFromSource)
	assert.Equal(t, r.Cost(route.TotalDistance, 10, model.PriorityStandard), route.EstimatedCost)
}

func TestSelectSkipsWarehouseWithoutCapacity(t *testing.T) {
	r, _ := setup(
		[]model.WarehouseCapacity{capRow("W1", 100, 80, 15), capRow("W2", 1000, 100, 0)},
		model.Warehouse{ID: "W1", Location: paris},
		model.Warehouse{ID: "W2", Location: dijon},
	)
	route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityStandard)
	require.NoError(t, err)
	assert.Equal(t, "W2", route.WarehouseID)
}

func TestSelectBusyWarehousePenalised(t *testing.T) {
	r, _ := setup(
		[]model.WarehouseCapacity{capRow("W1", 1000, 900, 0), capRow("W2", 1000, 100, 0)},
		model.Warehouse{ID: "W1", Location: paris},
		model.Warehouse{ID: "W2", Location: dijon},
	)
	route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityStandard)
	require.NoError(t, err)
	assert.Equal(t, "W2", route.WarehouseID)
}

func clusteredRegions(t *testing.T, stores []model.Store) staticRegions {
	t.Helper()
	m, err := cluster.New(cluster.Config{Seed: 1}, nil).Run(stores, nil)
	require.NoError(t, err)
	return staticRegions{m}
}

func TestSelectRegionalBonus(t *testing.T) {
	stores := []model.Store{{ID: "A", Location: paris}, {ID: "B", Location: lyon}}
	regions := clusteredRegions(t, stores)
	require.NotEqual(t, regions.m.RegionOf("A"), regions.m.RegionOf("B"))

	want := geo.Round2(1.2 / (geo.Haversine(*paris, *lyon) / 100))
	for _, declared := range []string{"", "north"} {
		mem := directory.NewMemory(directory.Fixtures{
			Stores:     stores,
			Warehouses: []model.Warehouse{{ID: "W1", Location: paris, Region: declared}},
		})
		r := NewRouter(Config{}, mem, mem, NewCapacityLedger(nil), regions, nil)
		route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityStandard)
		require.NoError(t, err)
		assert.InDelta(t, want, route.Score, 1e-9, "declared region %q", declared)
		if declared == "" {
			assert.Equal(t, regions.m.RegionOf("A"), route.WarehouseRegion)
		} else {
			assert.Equal(t, declared, route.WarehouseRegion)
		}
	}
}

func TestSelectNoBonusOutsideStoreRegions(t *testing.T) {
	stores := []model.Store{
		{ID: "A", Location: paris},
		{ID: "B", Location: lyon},
		{ID: "F", Location: &model.Coordinate{Lat: 43.2965, Lng: 5.3698}},
	}
	regions := clusteredRegions(t, stores)
	marseille := &model.Coordinate{Lat: 43.2965, Lng: 5.3698}
	mem := directory.NewMemory(directory.Fixtures{
		Stores:     stores,
		Warehouses: []model.Warehouse{{ID: "W1", Location: marseille, Region: regions.m.RegionOf("A")}},
	})
	r := NewRouter(Config{}, mem, mem, NewCapacityLedger(nil), regions, nil)
	route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityStandard)
	require.NoError(t, err)
	total := geo.Haversine(*paris, *marseille) + geo.Haversine(*marseille, *lyon)
	assert.InDelta(t, geo.Round2(1.0/(total/100)), route.Score, 1e-9)
}

func TestSelectTieKeepsFirst(t *testing.T) {
	r, _ := setup(nil,
		model.Warehouse{ID: "W2", Location: dijon},
		model.Warehouse{ID: "W1", Location: dijon},
	)
	route, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, "W1", route.WarehouseID)
}

func TestSelectNoRoute(t *testing.T) {
	r, _ := setup(
		[]model.WarehouseCapacity{capRow("W1", 100, 95, 0)},
		model.Warehouse{ID: "W1", Location: paris},
	)
	_, _, err := r.Select(context.Background(), "A", "B", 10, model.PriorityEmergency)
	require.Error(t, err)
	assert.True(t, IsNoRoute(err))

	_, _, err = r.Select(context.Background(), "A", "ghost", 1, model.PriorityStandard)
	require.Error(t, err)
	assert.False(t, IsNoRoute(err))
}

func TestMissingCoordinatesUseFallbackDistance(t *testing.T) {
	r, _ := setup(nil, model.Warehouse{ID: "W1"})
	route, _, err := r.Select(context.Background(), "NOLOC", "B", 1, model.PriorityStandard)
	require.NoError(t, err)
	assert.Equal(t, 2*geo.UnknownDistanceKm, route.TotalDistance)
}

func TestDefaultCapacityRow(t *testing.T) {
	l := NewCapacityLedger(nil)
	v := l.Get("W9")
	assert.Equal(t, 500, v.MaxCapacity)
	assert.Equal(t, 450, v.Available())
}

func TestCost(t *testing.T) {
	r, _ := setup(nil)
	assert.Equal(t, 25.0, r.Cost(50, 10, model.PriorityStandard))
	assert.Equal(t, 180.0, r.Cost(200, 10, model.PriorityHigh))
	assert.Equal(t, 200.0, r.Cost(100, 20, model.PriorityEmergency))
}

func TestRouteCommitsCapacity(t *testing.T) {
	r, ledger := setup(
		[]model.WarehouseCapacity{capRow("W1", 100, 0, 0)},
		model.Warehouse{ID: "W1", Location: dijon},
	)
	route, err := r.Route(context.Background(), "A", "B", 30, model.PriorityStandard)
	require.NoError(t, err)
	assert.Equal(t, 30, route.Capacity.IncomingScheduled)
	assert.Equal(t, 70, ledger.Get("W1").Available())

	_, err = ledger.Commit("W1", 1, 0)
	assert.True(t, IsConflict(err))

	ledger.Release("W1", 30)
	assert.Equal(t, 100, ledger.Get("W1").Available())
}

func TestConcurrentRoutesNeverOvercommit(t *testing.T) {
	r, ledger := setup(
		[]model.WarehouseCapacity{capRow("W1", 100, 0, 0)},
		model.Warehouse{ID: "W1", Location: dijon},
	)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := r.Route(context.Background(), "A", "B", 10, model.PriorityStandard)
				if IsConflict(err) {
					continue
				}
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
				return
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Equal(t, 0, ledger.Get("W1").Available())
}

func TestPlanBatches(t *testing.T) {
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	tr := func(id, wh string, p model.Priority, age time.Duration, cost float64) model.TransferRequest {
		return model.TransferRequest{ID: id, Priority: p, Status: model.TransferPending, CreatedAt: now.Add(-age),
			Route: model.TransferRoute{WarehouseID: wh, EstimatedCost: cost}}
	}
	transfers := []model.TransferRequest{
		tr("s1", "W1", model.PriorityStandard, time.Hour, 10),
		tr("e1", "W1", model.PriorityEmergency, time.Minute, 5),
		tr("h1", "W1", model.PriorityHigh, 2*time.Hour, 1.25),
		tr("h2", "W1", model.PriorityHigh, 3*time.Hour, 1.25),
		tr("s2", "W2", model.PriorityStandard, time.Hour, 3),
		{ID: "done", Status: model.TransferScheduled},
	}
	batches, rest := PlanBatches(transfers, now, 3)
	require.Len(t, batches, 3)
	require.Len(t, rest, 1)
	assert.Equal(t, "s1", rest[0].ID)

	assert.Equal(t, model.PriorityEmergency, batches[0].Priority)
	assert.Equal(t, now.Add(30*time.Minute), batches[0].ScheduledDeparture)
	assert.Equal(t, []string{"h2", "h1"}, batches[1].TransferIDs)
	assert.Equal(t, 2.5, batches[1].TotalCost)
	assert.Equal(t, now.Add(2*time.Hour), batches[1].ScheduledDeparture)
	assert.Equal(t, "W2", batches[2].WarehouseID)
	assert.Equal(t, now.Add(24*time.Hour), batches[2].ScheduledDeparture)
}
