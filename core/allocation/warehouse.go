package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/model"
	"github.com/kilianp07/stockpulse/core/queue"
)

// ErrNoHomeWarehouse is returned when neither the request nor its store names a warehouse.
var ErrNoHomeWarehouse = errors.New("no home warehouse")

// WarehouseStrategy fulfils a request from its home warehouse stock.
type WarehouseStrategy struct {
	Stores directory.StoreDirectory
	Stock  directory.WarehouseStock
}

func (WarehouseStrategy) Name() string { return "warehouse" }

func (s WarehouseStrategy) Attempt(ctx context.Context, item queue.Item) (model.Outcome, error) {
	whID := item.Request.WarehouseID
	if whID == "" {
		st, err := s.Stores.Store(ctx, item.Request.StoreID)
		if err != nil {
			return model.Outcome{}, fmt.Errorf("store %s: %w", item.Request.StoreID, err)
		}
		whID = st.WarehouseID
	}
	if whID == "" {
		return model.Outcome{}, ErrNoHomeWarehouse
	}
	if err := s.Stock.Decrement(ctx, whID, item.Request.SKU, item.FinalQuantity); err != nil {
		return model.Outcome{}, fmt.Errorf("warehouse %s: %w", whID, err)
	}
	out := baseOutcome(item)
	out.Source = model.SourceWarehouse
	out.WarehouseID = whID
	out.Fulfilled = item.FinalQuantity
	return out, nil
}
