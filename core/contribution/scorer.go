// Package contribution ranks peer stores able to give stock to a requester.
package contribution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/geo"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
)

// Config holds scoring defaults.
type Config struct {
	DefaultTransferEfficiency float64 `json:"default_transfer_efficiency"`
	DefaultStability          float64 `json:"default_stability"`
	RegionalRadiusKm          float64 `json:"regional_radius_km"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.DefaultTransferEfficiency == 0 {
		c.DefaultTransferEfficiency = 0.9
	}
	if c.DefaultStability == 0 {
		c.DefaultStability = 0.75
	}
	if c.RegionalRadiusKm == 0 {
		c.RegionalRadiusKm = 500
	}
}

// Scorer computes contribution scores from directory lookups.
type Scorer struct {
	cfg       Config
	stores    directory.StoreDirectory
	products  directory.ProductDirectory
	inventory directory.InventoryDirectory
	actions   directory.ActionFeed
	logger    logger.Logger
}

// NewScorer returns a Scorer.
func NewScorer(cfg Config, stores directory.StoreDirectory, products directory.ProductDirectory, inv directory.InventoryDirectory, actions directory.ActionFeed, log logger.Logger) *Scorer {
	cfg.SetDefaults()
	return &Scorer{cfg: cfg, stores: stores, products: products, inventory: inv, actions: actions, logger: logger.OrNop(log)}
}

var actionStability = map[model.ActionType]float64{
	model.ActionEmergencyOrder: 0.6,
	model.ActionBulkOrder:      0.7,
	model.ActionEarlyOrder:     0.8,
	model.ActionScheduledOrder: 1.1,
}

// DemandStability returns the stability multiplier in [0.1, 1] from days of
// stock and the most recent manager action, if any.
func DemandStability(inv model.StoreInventory, last *model.ManagerAction, unknownVelocity float64) float64 {
	stability := unknownVelocity
	if inv.AverageDailySales > 0 {
		days := float64(inv.CurrentStock) / inv.AverageDailySales
		switch {
		case days > 14:
			stability = 0.9
		case days > 7:
			stability = 0.8
		case days > 3:
			stability = 0.6
		default:
			stability = 0.3
		}
	}
	if last != nil {
		if m, ok := actionStability[last.Type]; ok {
			stability *= m
		}
	}
	return math.Min(1.0, math.Max(0.1, stability))
}

// RegionalPriority favours nearby contributors. Unknown distances score 0.5.
func RegionalPriority(distanceKm float64, known bool, radiusKm float64) float64 {
	if !known {
		return 0.5
	}
	return math.Max(0.1, 1-distanceKm/radiusKm)
}

// Bounds returns the score range allowed for a store holding current units.
func Bounds(current int, privateLabel bool) (lo, hi float64) {
	if privateLabel {
		return float64(current) * 0.15, float64(current) * 0.60
	}
	return float64(current) * 0.10, float64(current) * 0.40
}

// Bound clamps a positive score to Bounds. Non-positive scores stay at zero.
func Bound(score float64, current int, privateLabel bool) float64 {
	if score <= 0 {
		return 0
	}
	lo, hi := Bounds(current, privateLabel)
	return math.Min(hi, math.Max(lo, score))
}

type scored struct {
	score        float64
	inv          model.StoreInventory
	privateLabel bool
	efficiency   float64
	distanceKm   float64
}

// Score returns the unbounded contribution score of storeID towards
// requesterID, rounded to two decimals. It is never negative and is zero when
// the store has no stock to spare or no inventory row.
func (s *Scorer) Score(ctx context.Context, storeID, sku, requesterID string) (float64, error) {
	sc, err := s.score(ctx, storeID, sku, requesterID)
	return sc.score, err
}

func (s *Scorer) score(ctx context.Context, storeID, sku, requesterID string) (scored, error) {
	inv, err := s.inventory.Inventory(ctx, storeID, sku)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return scored{}, nil
		}
		return scored{}, err
	}
	out := scored{inv: inv, efficiency: s.cfg.DefaultTransferEfficiency, distanceKm: geo.UnknownDistanceKm}
	if inv.TransferSuccessRate > 0 {
		out.efficiency = inv.TransferSuccessRate
	}
	available := inv.Available()
	if available <= 0 {
		return out, nil
	}

	var last *model.ManagerAction
	if s.actions != nil {
		a, ok, err := s.actions.LatestAction(ctx, storeID)
		if err != nil {
			return scored{}, fmt.Errorf("latest action of %s: %w", storeID, err)
		}
		if ok {
			last = &a
		}
	}
	stability := DemandStability(inv, last, s.cfg.DefaultStability)

	known := false
	from, errFrom := s.stores.Store(ctx, storeID)
	to, errTo := s.stores.Store(ctx, requesterID)
	if errFrom == nil && errTo == nil {
		out.distanceKm, known = geo.Distance(from.Location, to.Location)
	}
	priority := RegionalPriority(out.distanceKm, known, s.cfg.RegionalRadiusKm)

	plMultiplier := 1.0
	if p, err := s.products.Product(ctx, sku); err == nil && p.PrivateLabel {
		out.privateLabel = true
		plMultiplier = 1.5
	}

	out.score = geo.Round2(float64(available) * stability * out.efficiency * priority * plMultiplier)
	return out, nil
}

// FindContributors ranks every other store with spare stock of sku. Each
// candidate can contribute at most needed units. A store whose score cannot
// be computed is logged and skipped.
func (s *Scorer) FindContributors(ctx context.Context, requesterID, sku string, needed int) ([]model.ContributionCandidate, error) {
	holders, err := s.inventory.Holders(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("holders of %s: %w", sku, err)
	}
	out := make([]model.ContributionCandidate, 0, len(holders))
	for _, h := range holders {
		if h.StoreID == requesterID || h.Available() <= 0 {
			continue
		}
		sc, err := s.score(ctx, h.StoreID, sku, requesterID)
		if err != nil {
			s.logger.Warnf("score %s for %s: %v", h.StoreID, sku, err)
			continue
		}
		if sc.score <= 0 {
			continue
		}
		bounded := Bound(sc.score, sc.inv.CurrentStock, sc.privateLabel)
		out = append(out, model.ContributionCandidate{
			StoreID:               h.StoreID,
			SKU:                   sku,
			Score:                 bounded,
			AvailableToContribute: math.Min(bounded, float64(needed)),
			AvailableStock:        sc.inv.Available(),
			TransferEfficiency:    sc.efficiency,
			DistanceKm:            sc.distanceKm,
			PrivateLabel:          sc.privateLabel,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
