// Package routing selects the intermediary warehouse of store-to-store
// transfers and books its capacity.
package routing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/stockpulse/core/cluster"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/geo"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

// Config holds routing constants.
type Config struct {
	CostPerKmUnit   float64 `json:"cost_per_km_unit"`
	LongHaulKm      float64 `json:"long_haul_km"`
	LongHaulFactor  float64 `json:"long_haul_factor"`
	BusyUtilization float64 `json:"busy_utilization_pct"`
	RegionalBonus   float64 `json:"regional_bonus"`
	MaxBatchSize    int     `json:"max_batch_size"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.CostPerKmUnit == 0 {
		c.CostPerKmUnit = 0.05
	}
	if c.LongHaulKm == 0 {
		c.LongHaulKm = 100
	}
	if c.LongHaulFactor == 0 {
		c.LongHaulFactor = 1.2
	}
	if c.BusyUtilization == 0 {
		c.BusyUtilization = 80
	}
	if c.RegionalBonus == 0 {
		c.RegionalBonus = 1.2
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 10
	}
}

// minDistanceFactor keeps the score finite when both stores sit on the warehouse.
const minDistanceFactor = 0.01

// RegionSource returns the current region map.
type RegionSource interface {
	Load() *cluster.RegionMap
}

// Router scores warehouses greedily for a single transfer.
type Router struct {
	cfg        Config
	stores     directory.StoreDirectory
	warehouses directory.WarehouseDirectory
	ledger     *CapacityLedger
	regions    RegionSource
	logger     logger.Logger
}

// NewRouter returns a Router. regions may be nil.
func NewRouter(cfg Config, stores directory.StoreDirectory, warehouses directory.WarehouseDirectory, ledger *CapacityLedger, regions RegionSource, log logger.Logger) *Router {
	cfg.SetDefaults()
	return &Router{cfg: cfg, stores: stores, warehouses: warehouses, ledger: ledger, regions: regions, logger: logger.OrNop(log)}
}

// Ledger returns the capacity ledger the router commits to.
func (r *Router) Ledger() *CapacityLedger { return r.ledger }

// Release returns qty incoming units booked on a warehouse by Route.
func (r *Router) Release(warehouseID string, qty int) { r.ledger.Release(warehouseID, qty) }

type candidate struct {
	route   model.TransferRoute
	version uint64
}

// Select returns the best route without booking capacity.
func (r *Router) Select(ctx context.Context, fromID, toID string, qty int, prio model.Priority) (model.TransferRoute, uint64, error) {
	from, err := r.stores.Store(ctx, fromID)
	if err != nil {
		return model.TransferRoute{}, 0, fmt.Errorf("routing source: %w", err)
	}
	to, err := r.stores.Store(ctx, toID)
	if err != nil {
		return model.TransferRoute{}, 0, fmt.Errorf("routing destination: %w", err)
	}
	whs, err := r.warehouses.Warehouses(ctx)
	if err != nil {
		return model.TransferRoute{}, 0, fmt.Errorf("list warehouses: %w", err)
	}

	var regions *cluster.RegionMap
	if r.regions != nil {
		regions = r.regions.Load()
	}
	fromRegion, toRegion := regions.RegionOf(fromID), regions.RegionOf(toID)

	var best *candidate
	bestScore := math.Inf(-1)
	for _, w := range whs {
		if err := ctx.Err(); err != nil {
			return model.TransferRoute{}, 0, err
		}
		capView := r.ledger.Get(w.ID)
		if capView.Available() < qty {
			continue
		}
		dFrom, _ := geo.Distance(from.Location, w.Location)
		dTo, _ := geo.Distance(w.Location, to.Location)
		total := dFrom + dTo

		capScore := 1.0
		if math.Round(capView.UtilizationPct()) >= r.cfg.BusyUtilization {
			capScore = 0.5
		}
		cell := warehouseRegion(w, regions)
		bonus := 1.0
		if cell != cluster.Unassigned && (cell == fromRegion || cell == toRegion) {
			bonus = r.cfg.RegionalBonus
		}
		region := w.Region
		if region == "" {
			region = cell
		}
		score := capScore * prio.Multiplier() * bonus / math.Max(total/100, minDistanceFactor)
		if score > bestScore {
			bestScore = score
			best = &candidate{version: capView.Version, route: model.TransferRoute{
				WarehouseID:           w.ID,
				WarehouseRegion:       region,
				DistanceFromSource:    geo.Round2(dFrom),
				DistanceToDestination: geo.Round2(dTo),
				TotalDistance:         geo.Round2(total),
				Capacity:              capView.WarehouseCapacity,
				Score:                 geo.Round2(score),
			}}
		}
	}
	if best == nil {
		return model.TransferRoute{}, 0, &NoRouteFoundError{From: fromID, To: toID, Quantity: qty, Considered: len(whs)}
	}
	best.route.EstimatedCost = r.Cost(best.route.TotalDistance, qty, prio)
	return best.route, best.version, nil
}

// warehouseRegion places a warehouse in the current store regions. Store
// regions come from clustering, so a located warehouse is matched to the
// nearest region centroid whatever region the directory declares for it.
func warehouseRegion(w model.Warehouse, regions *cluster.RegionMap) string {
	if w.Location != nil && w.Location.Valid() {
		return regions.NearestRegion(*w.Location)
	}
	if w.Region == "" {
		return cluster.Unassigned
	}
	return w.Region
}

// Route selects a warehouse and books qty incoming units on it. A
// CapacityConflictError means another route won the capacity first.
func (r *Router) Route(ctx context.Context, fromID, toID string, qty int, prio model.Priority) (model.TransferRoute, error) {
	route, version, err := r.Select(ctx, fromID, toID, qty, prio)
	if err != nil {
		return model.TransferRoute{}, err
	}
	view, err := r.ledger.Commit(route.WarehouseID, qty, version)
	if err != nil {
		return model.TransferRoute{}, err
	}
	route.Capacity = view.WarehouseCapacity
	r.logger.Debugw("route committed", map[string]any{
		"warehouse": route.WarehouseID,
		"from":      fromID,
		"to":        toID,
		"quantity":  qty,
		"cost":      route.EstimatedCost,
	})
	return route, nil
}

// Cost returns the estimated transfer cost rounded to two decimals.
func (r *Router) Cost(totalDistance float64, qty int, prio model.Priority) float64 {
	longHaul := 1.0
	if totalDistance > r.cfg.LongHaulKm {
		longHaul = r.cfg.LongHaulFactor
	}
	return geo.Round2(totalDistance * float64(qty) * r.cfg.CostPerKmUnit * prio.Multiplier() * longHaul)
}

// NewTransfer builds the pending transfer record of a routed request.
func NewTransfer(requestID, fromID, toID, sku string, qty int, prio model.Priority, route model.TransferRoute, now time.Time) model.TransferRequest {
	return model.TransferRequest{
		ID:          "TR-" + uuid.NewString(),
		RequestID:   requestID,
		FromStoreID: fromID,
		ToStoreID:   toID,
		SKU:         sku,
		Quantity:    qty,
		Priority:    prio,
		Route:       route,
		Status:      model.TransferPending,
		CreatedAt:   now,
	}
}
