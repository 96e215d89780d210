package cluster

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/stockpulse/core/model"
)

func store(id string, lat, lng float64) model.Store {
	return model.Store{ID: id, Location: &model.Coordinate{Lat: lat, Lng: lng}}
}

// three well separated groups of stores
func groupedStores() []model.Store {
	var out []model.Store
	centers := [][2]float64{{48.85, 2.35}, {43.30, 5.37}, {50.63, 3.06}}
	for g, c := range centers {
		for i := 0; i < 4; i++ {
			out = append(out, store(fmt.Sprintf("g%d-s%d", g, i), c[0]+float64(i)*0.01, c[1]-float64(i)*0.01))
		}
	}
	return out
}

func TestRunEveryValidStoreInExactlyOneRegion(t *testing.T) {
	stores := append(groupedStores(), model.Store{ID: "nowhere"}, store("nan", math.NaN(), 1))
	c := New(Config{Seed: 42}, nil)
	m, err := c.Run(stores, nil)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, r := range m.Regions {
		require.NotEmpty(t, r.Members)
		for _, mem := range r.Members {
			seen[mem.StoreID]++
		}
	}
	assert.Len(t, seen, 12)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Equal(t, Unassigned, m.RegionOf("nowhere"))
	assert.Equal(t, Unassigned, m.RegionOf("nan"))
	assert.LessOrEqual(t, len(m.Regions), 5)
}

func TestRunSeparatedGroupsShareRegion(t *testing.T) {
	c := New(Config{Seed: 7, MaxRegions: 3}, nil)
	m, err := c.Run(groupedStores(), nil)
	require.NoError(t, err)
	require.Len(t, m.Regions, 3)
	for g := 0; g < 3; g++ {
		want := m.RegionOf(fmt.Sprintf("g%d-s0", g))
		for i := 1; i < 4; i++ {
			assert.Equal(t, want, m.RegionOf(fmt.Sprintf("g%d-s%d", g, i)))
		}
	}
}

func TestRunFewerStoresThanRegions(t *testing.T) {
	c := New(Config{Seed: 1}, nil)
	m, err := c.Run([]model.Store{store("a", 1, 1), store("b", 1, 1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, m.StoreCount())
	assert.Len(t, m.Regions, 2)
}

func TestRunInsufficientData(t *testing.T) {
	c := New(Config{Seed: 1}, nil)
	_, err := c.Run([]model.Store{{ID: "a"}, {ID: "b"}}, nil)
	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 2, ide.TotalStores)
}

func TestRunDemandScore(t *testing.T) {
	c := New(Config{Seed: 3}, nil)
	sigs := []model.BehavioralSignal{
		{StoreID: "a", Confidence: 0.5},
		{StoreID: "a", Confidence: 0.25},
	}
	m, err := c.Run([]model.Store{store("a", 10, 10)}, sigs)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, m.Regions[0].Members[0].DemandScore, 1e-9)
}

func TestRegionStoreReplaceIsAtomic(t *testing.T) {
	var rs RegionStore
	assert.Nil(t, rs.Load())
	c := New(Config{Seed: 9}, nil)
	first, err := c.Run(groupedStores(), nil)
	require.NoError(t, err)
	rs.Replace(first)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m := rs.Load()
				assert.Equal(t, 12, m.StoreCount())
			}
		}()
	}
	second, err := c.Run(groupedStores(), nil)
	require.NoError(t, err)
	prev := rs.Replace(second)
	wg.Wait()
	assert.Same(t, first, prev)
}

func TestNearestRegion(t *testing.T) {
	c := New(Config{Seed: 11, MaxRegions: 3}, nil)
	m, err := c.Run(groupedStores(), nil)
	require.NoError(t, err)
	assert.Equal(t, m.RegionOf("g1-s0"), m.NearestRegion(model.Coordinate{Lat: 43.29, Lng: 5.38}))
	var empty *RegionMap
	assert.Equal(t, Unassigned, empty.NearestRegion(model.Coordinate{Lat: 1, Lng: 1}))
}
