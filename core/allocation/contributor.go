package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/logger"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
	"github.com/kilianp07/stockpulse/core/routing"
)

var (
	// ErrNoContributors is returned when no other store can spare stock.
	ErrNoContributors = errors.New("no contributing store")
	// ErrRouteTimeout is returned when warehouse selection exceeds the route timeout.
	ErrRouteTimeout = errors.New("route selection timed out")
)

// ContributorFinder ranks stores able to give stock to a requester.
type ContributorFinder interface {
	FindContributors(ctx context.Context, requesterID, sku string, needed int) ([]model.ContributionCandidate, error)
}

// TransferRouter books warehouse capacity for a store-to-store transfer.
type TransferRouter interface {
	Route(ctx context.Context, fromID, toID string, qty int, prio model.Priority) (model.TransferRoute, error)
	Release(warehouseID string, qty int)
}

// ContributorStrategy moves stock from the best ranked contributor through
// an intermediary warehouse. Candidates are tried in descending score order
// until one can be routed.
type ContributorStrategy struct {
	Finder       ContributorFinder
	Router       TransferRouter
	Sink         directory.TransferSink
	RouteTimeout time.Duration
	// Reserver, when set, holds the transferred units back at the donor so
	// requests drained later cannot draw on the same spare stock.
	Reserver directory.StockReserver

	// ConflictRetries is how many times a lost capacity race is retried
	// against the same candidate.
	ConflictRetries int
	Now             func() time.Time
	Logger          logger.Logger
}

func (ContributorStrategy) Name() string { return "contributor" }

func (s ContributorStrategy) Attempt(ctx context.Context, item queue.Item) (model.Outcome, error) {
	log := logger.OrNop(s.Logger)
	req := item.Request
	cands, err := s.Finder.FindContributors(ctx, req.StoreID, req.SKU, item.FinalQuantity)
	if err != nil {
		return model.Outcome{}, err
	}
	if len(cands) == 0 {
		return model.Outcome{}, ErrNoContributors
	}
	var errs []error
	for _, c := range cands {
		qty := min(item.FinalQuantity, int(math.Floor(c.AvailableToContribute)), c.AvailableStock)
		if qty <= 0 {
			continue
		}
		if s.Reserver != nil {
			n, err := s.Reserver.Reserve(ctx, c.StoreID, req.SKU, qty)
			if err != nil {
				log.Warnf("request %s: reserve stock at %s: %v", req.ID, c.StoreID, err)
				errs = append(errs, fmt.Errorf("candidate %s: reserve stock: %w", c.StoreID, err))
				continue
			}
			if n <= 0 {
				continue
			}
			qty = n
		}
		route, err := s.route(ctx, c.StoreID, req.StoreID, qty, item.Priority())
		if err != nil {
			s.unreserve(ctx, c.StoreID, req.SKU, qty)
			routerFailures.WithLabelValues(failureReason(err)).Inc()
			log.Warnf("request %s: route from %s failed: %v", req.ID, c.StoreID, err)
			errs = append(errs, fmt.Errorf("candidate %s: %w", c.StoreID, err))
			continue
		}
		tr := routing.NewTransfer(req.ID, c.StoreID, req.StoreID, req.SKU, qty, item.Priority(), route, s.now())
		created, err := s.Sink.Append(ctx, tr)
		if err != nil {
			s.Router.Release(route.WarehouseID, qty)
			s.unreserve(ctx, c.StoreID, req.SKU, qty)
			routerFailures.WithLabelValues("sink").Inc()
			log.Errorf("request %s: record transfer: %v", req.ID, err)
			errs = append(errs, fmt.Errorf("candidate %s: record transfer: %w", c.StoreID, err))
			continue
		}
		if !created {
			// The request already has a transfer; the bookings made here are surplus.
			s.Router.Release(route.WarehouseID, qty)
			s.unreserve(ctx, c.StoreID, req.SKU, qty)
			log.Infof("request %s: transfer already recorded", req.ID)
		}
		out := baseOutcome(item)
		out.Source = model.SourceContributor
		out.Via = "router"
		out.WarehouseID = route.WarehouseID
		out.Contributor = c.StoreID
		out.Score = c.Score
		out.Fulfilled = qty
		out.Shortfall = item.FinalQuantity - qty
		if created {
			out.Transfer = &tr
		}
		return out, nil
	}
	if len(errs) == 0 {
		return model.Outcome{}, ErrNoContributors
	}
	return model.Outcome{}, errors.Join(errs...)
}

// route books capacity, retrying lost capacity races.
func (s ContributorStrategy) route(ctx context.Context, from, to string, qty int, prio model.Priority) (model.TransferRoute, error) {
	var err error
	for attempt := 0; attempt <= s.ConflictRetries; attempt++ {
		var route model.TransferRoute
		route, err = s.routeWithTimeout(ctx, from, to, qty, prio)
		if err == nil || !routing.IsConflict(err) {
			return route, err
		}
	}
	return model.TransferRoute{}, err
}

type routeResult struct {
	route model.TransferRoute
	err   error
}

// routeWithTimeout bounds a route call. A booking that completes after the
// deadline is released so capacity is not leaked.
func (s ContributorStrategy) routeWithTimeout(ctx context.Context, from, to string, qty int, prio model.Priority) (model.TransferRoute, error) {
	if s.RouteTimeout <= 0 {
		return s.Router.Route(ctx, from, to, qty, prio)
	}
	ctx, cancel := context.WithTimeout(ctx, s.RouteTimeout)
	defer cancel()
	done := make(chan routeResult, 1)
	go func() {
		r, err := s.Router.Route(ctx, from, to, qty, prio)
		done <- routeResult{route: r, err: err}
	}()
	select {
	case res := <-done:
		return res.route, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				s.Router.Release(res.route.WarehouseID, qty)
			}
		}()
		return model.TransferRoute{}, fmt.Errorf("%w after %s", ErrRouteTimeout, s.RouteTimeout)
	}
}

func (s ContributorStrategy) unreserve(ctx context.Context, storeID, sku string, qty int) {
	if s.Reserver != nil {
		s.Reserver.Unreserve(ctx, storeID, sku, qty)
	}
}

func (s ContributorStrategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func failureReason(err error) string {
	switch {
	case routing.IsNoRoute(err):
		return "no_route"
	case routing.IsConflict(err):
		return "capacity_conflict"
	case errors.Is(err, ErrRouteTimeout):
		return "timeout"
	default:
		return "error"
	}
}
