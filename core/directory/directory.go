// Package directory defines the collaborators the allocation pipeline reads
// from and writes to, along with an in-memory implementation backed by
// fixture files.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

var (
	// ErrNotFound is returned when a lookup key is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when a warehouse cannot cover a decrement.
	ErrInsufficientStock = errors.New("insufficient warehouse stock")
)

// StoreDirectory resolves stores.
type StoreDirectory interface {
	Store(ctx context.Context, id string) (model.Store, error)
	Stores(ctx context.Context) ([]model.Store, error)
}

// ProductDirectory resolves products by SKU.
type ProductDirectory interface {
	Product(ctx context.Context, sku string) (model.Product, error)
}

// WarehouseDirectory lists warehouses and their capacity rows for the current period.
type WarehouseDirectory interface {
	Warehouses(ctx context.Context) ([]model.Warehouse, error)
	Capacities(ctx context.Context) ([]model.WarehouseCapacity, error)
}

// InventoryDirectory exposes per-store stock positions.
type InventoryDirectory interface {
	Inventory(ctx context.Context, storeID, sku string) (model.StoreInventory, error)
	// Holders returns every store row for the SKU, ordered by store id.
	Holders(ctx context.Context, sku string) ([]model.StoreInventory, error)
}

// WarehouseStock decrements warehouse stock atomically.
type WarehouseStock interface {
	Decrement(ctx context.Context, warehouseID, sku string, qty int) error
}

// StockReserver holds back donor store stock for scheduled transfers so that
// later contributor searches see it as reserved.
type StockReserver interface {
	// Reserve reserves up to qty spare units and returns how many were
	// reserved. Zero means the store has nothing to spare.
	Reserve(ctx context.Context, storeID, sku string, qty int) (int, error)
	Unreserve(ctx context.Context, storeID, sku string, qty int)
}

// ActionFeed exposes persisted manager actions.
type ActionFeed interface {
	Actions(ctx context.Context, since time.Time) ([]model.ManagerAction, error)
	LatestAction(ctx context.Context, storeID string) (model.ManagerAction, bool, error)
}

// TransferSink durably records transfers. Append is idempotent by request
// id: a second append for the same request returns created=false.
type TransferSink interface {
	Append(ctx context.Context, t model.TransferRequest) (created bool, err error)
}
