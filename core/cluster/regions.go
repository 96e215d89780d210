package cluster

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/kilianp07/stockpulse/core/geo"
	"github.com/kilianp07/stockpulse/core/model"
)

// Unassigned is the region key used for stores absent from the region map.
const Unassigned = "unassigned"

// Member is a store placed in a region.
type Member struct {
	StoreID     string           `json:"store_id"`
	Location    model.Coordinate `json:"location"`
	DemandScore float64          `json:"demand_score"`
}

// Region is one cluster of stores.
type Region struct {
	Key      string           `json:"region"`
	Centroid model.Coordinate `json:"centroid"`
	Members  []Member         `json:"stores"`
}

// RegionMap is an immutable partition of geolocated stores. A nil *RegionMap
// behaves as an empty map.
type RegionMap struct {
	BuiltAt time.Time `json:"built_at"`
	Regions []Region  `json:"regions"`
	byStore map[string]int
}

// NewRegionMap indexes regions by store. Regions are sorted by key.
func NewRegionMap(builtAt time.Time, regions []Region) *RegionMap {
	sort.Slice(regions, func(i, j int) bool { return regions[i].Key < regions[j].Key })
	m := &RegionMap{BuiltAt: builtAt, Regions: regions, byStore: make(map[string]int)}
	for i, r := range regions {
		for _, mem := range r.Members {
			m.byStore[mem.StoreID] = i
		}
	}
	return m
}

// RegionOf returns the region key of a store, or Unassigned.
func (m *RegionMap) RegionOf(storeID string) string {
	if m == nil {
		return Unassigned
	}
	i, ok := m.byStore[storeID]
	if !ok {
		return Unassigned
	}
	return m.Regions[i].Key
}

// Size returns the number of stores in a region and false when the region is unknown.
func (m *RegionMap) Size(region string) (int, bool) {
	if m == nil {
		return 0, false
	}
	for _, r := range m.Regions {
		if r.Key == region {
			return len(r.Members), true
		}
	}
	return 0, false
}

// Keys returns region keys in sorted order.
func (m *RegionMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.Regions))
	for i, r := range m.Regions {
		keys[i] = r.Key
	}
	return keys
}

// StoreCount returns the number of clustered stores.
func (m *RegionMap) StoreCount() int {
	if m == nil {
		return 0
	}
	return len(m.byStore)
}

// NearestRegion returns the region whose centroid is closest to c.
func (m *RegionMap) NearestRegion(c model.Coordinate) string {
	if m == nil || len(m.Regions) == 0 || !c.Valid() {
		return Unassigned
	}
	best, bestD := Unassigned, 0.0
	for _, r := range m.Regions {
		d := geo.Haversine(c, r.Centroid)
		if best == Unassigned || d < bestD {
			best, bestD = r.Key, d
		}
	}
	return best
}

// RegionStore publishes the current RegionMap. Readers observe either the
// previous or the new map, never a partial rebuild.
type RegionStore struct {
	p atomic.Pointer[RegionMap]
}

// Load returns the current map, possibly nil.
func (s *RegionStore) Load() *RegionMap { return s.p.Load() }

// Replace installs m and returns the previous map.
func (s *RegionStore) Replace(m *RegionMap) *RegionMap { return s.p.Swap(m) }
