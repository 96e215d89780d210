// Package cluster partitions stores into geographic regions.
//
// A clustering run produces a complete RegionMap which replaces the previous
// one wholesale. Region labels are only stable within a run.
package cluster

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

// InsufficientDataError is returned when no store has a usable coordinate.
type InsufficientDataError struct {
	TotalStores int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("clustering: no geolocated store among %d", e.TotalStores)
}

// Config controls a Clusterer.
type Config struct {
	MaxRegions    int   `json:"max_regions"`
	MaxIterations int   `json:"max_iterations"`
	Seed          int64 `json:"seed"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxRegions <= 0 {
		c.MaxRegions = 5
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
}

// Clusterer runs k-means over raw (lat, lng) pairs.
type Clusterer struct {
	cfg    Config
	mu     sync.Mutex // guards rng
	rng    *rand.Rand
	now    func() time.Time
	logger logger.Logger
}

// New returns a Clusterer. A zero seed uses the current time.
func New(cfg Config, log logger.Logger) *Clusterer {
	cfg.SetDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Clusterer{cfg: cfg, rng: rand.New(rand.NewSource(seed)), now: time.Now, logger: logger.OrNop(log)}
}

// Run builds a new RegionMap. Signals only feed each member's demand score.
func (c *Clusterer) Run(stores []model.Store, signals []model.BehavioralSignal) (*RegionMap, error) {
	valid := make([]model.Store, 0, len(stores))
	for _, s := range stores {
		if s.HasLocation() {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, &InsufficientDataError{TotalStores: len(stores)}
	}
	if skipped := len(stores) - len(valid); skipped > 0 {
		c.logger.Debugf("clustering skipped %d stores without coordinates", skipped)
	}

	k := c.cfg.MaxRegions
	if len(valid) < k {
		k = len(valid)
	}
	points := make([][]float64, len(valid))
	for i, s := range valid {
		points[i] = []float64{s.Location.Lat, s.Location.Lng}
	}
	c.mu.Lock()
	assign, centroids := kmeans(points, k, c.cfg.MaxIterations, c.rng)
	c.mu.Unlock()

	demand := demandScores(signals)
	regions := make([]Region, k)
	for i := range regions {
		regions[i] = Region{
			Key:      fmt.Sprintf("region_%d", i+1),
			Centroid: model.Coordinate{Lat: centroids[i][0], Lng: centroids[i][1]},
		}
	}
	for i, s := range valid {
		r := &regions[assign[i]]
		r.Members = append(r.Members, Member{StoreID: s.ID, Location: *s.Location, DemandScore: demand[s.ID]})
	}
	kept := regions[:0]
	for _, r := range regions {
		if len(r.Members) > 0 {
			kept = append(kept, r)
		}
	}
	m := NewRegionMap(c.now(), kept)
	c.logger.Infof("clustered %d stores into %d regions", len(valid), len(kept))
	return m, nil
}

func demandScores(signals []model.BehavioralSignal) map[string]float64 {
	byStore := make(map[string][]float64)
	for _, s := range signals {
		byStore[s.StoreID] = append(byStore[s.StoreID], s.Confidence)
	}
	out := make(map[string]float64, len(byStore))
	for id, confs := range byStore {
		out[id] = floats.Sum(confs)
	}
	return out
}
