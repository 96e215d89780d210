package routing

import (
	"sort"
	"sync"

	"github.com/kilianp07/stockpulse/core/model"
)

// Capacity assumed for a warehouse without a row for the period.
const (
	DefaultMaxCapacity = 500
	DefaultUtilization = 50
)

// CapacityView is a versioned capacity snapshot.
type CapacityView struct {
	model.WarehouseCapacity
	Version uint64
}

// CapacityLedger owns the capacity windows of the current period. Commits
// are compare-and-swap on a per-warehouse version so two routes can never
// consume the same capacity.
type CapacityLedger struct {
	mu   sync.Mutex
	rows map[string]*CapacityView
}

// NewCapacityLedger seeds the ledger with the given rows.
func NewCapacityLedger(rows []model.WarehouseCapacity) *CapacityLedger {
	l := &CapacityLedger{rows: make(map[string]*CapacityView, len(rows))}
	for _, r := range rows {
		row := r
		l.rows[r.WarehouseID] = &CapacityView{WarehouseCapacity: row}
	}
	return l
}

func (l *CapacityLedger) row(id string) *CapacityView {
	r, ok := l.rows[id]
	if !ok {
		r = &CapacityView{WarehouseCapacity: model.WarehouseCapacity{
			WarehouseID:        id,
			MaxCapacity:        DefaultMaxCapacity,
			CurrentUtilization: DefaultUtilization,
		}}
		l.rows[id] = r
	}
	return r
}

// Get returns the current view of a warehouse, creating the default row when
// the warehouse has none.
func (l *CapacityLedger) Get(id string) CapacityView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.row(id)
}

// Commit schedules qty incoming units at the warehouse if its version is
// still expected.
func (l *CapacityLedger) Commit(id string, qty int, expected uint64) (CapacityView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(id)
	if r.Version != expected {
		return *r, &CapacityConflictError{WarehouseID: id, Expected: expected, Actual: r.Version}
	}
	if r.Available() < qty {
		return *r, &NoRouteFoundError{Quantity: qty, Considered: 1}
	}
	r.IncomingScheduled += qty
	r.Version++
	return *r, nil
}

// Release gives back capacity of a commit that could not be recorded.
func (l *CapacityLedger) Release(id string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(id)
	r.IncomingScheduled -= qty
	if r.IncomingScheduled < 0 {
		r.IncomingScheduled = 0
	}
	r.Version++
}

// Snapshot returns every known row ordered by warehouse id.
func (l *CapacityLedger) Snapshot() []CapacityView {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CapacityView, 0, len(l.rows))
	for _, r := range l.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WarehouseID < out[j].WarehouseID })
	return out
}
