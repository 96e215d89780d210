package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

type invKey struct{ store, sku string }

// Memory implements every collaborator interface in memory.
type Memory struct {
	mu         sync.RWMutex
	stores     map[string]model.Store
	products   map[string]model.Product
	warehouses []model.Warehouse
	capacities []model.WarehouseCapacity
	inventory  map[invKey]model.StoreInventory
	stock      map[string]map[string]int
	actions    []model.ManagerAction
	transfers  map[string]model.TransferRequest
}

// NewMemory returns a Memory populated from f.
func NewMemory(f Fixtures) *Memory {
	m := &Memory{
		stores:    make(map[string]model.Store),
		products:  make(map[string]model.Product),
		inventory: make(map[invKey]model.StoreInventory),
		stock:     make(map[string]map[string]int),
		transfers: make(map[string]model.TransferRequest),
	}
	for _, s := range f.Stores {
		m.stores[s.ID] = s
	}
	for _, p := range f.Products {
		m.products[p.SKU] = p
	}
	m.warehouses = append(m.warehouses, f.Warehouses...)
	sort.SliceStable(m.warehouses, func(i, j int) bool { return m.warehouses[i].ID < m.warehouses[j].ID })
	m.capacities = append(m.capacities, f.Capacities...)
	for _, inv := range f.Inventory {
		m.inventory[invKey{inv.StoreID, inv.SKU}] = inv
	}
	for _, s := range f.WarehouseStock {
		m.SetStock(s.WarehouseID, s.SKU, s.Quantity)
	}
	m.AddActions(f.Actions...)
	return m
}

func (m *Memory) Store(_ context.Context, id string) (model.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return model.Store{}, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) Stores(context.Context) ([]model.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Product(_ context.Context, sku string) (model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[sku]
	if !ok {
		return model.Product{}, fmt.Errorf("product %s: %w", sku, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) Warehouses(context.Context) ([]model.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Warehouse(nil), m.warehouses...), nil
}

func (m *Memory) Capacities(context.Context) ([]model.WarehouseCapacity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.WarehouseCapacity(nil), m.capacities...), nil
}

func (m *Memory) Inventory(_ context.Context, storeID, sku string) (model.StoreInventory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.inventory[invKey{storeID, sku}]
	if !ok {
		return model.StoreInventory{}, fmt.Errorf("inventory %s/%s: %w", storeID, sku, ErrNotFound)
	}
	return inv, nil
}

func (m *Memory) Holders(_ context.Context, sku string) ([]model.StoreInventory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.StoreInventory
	for k, inv := range m.inventory {
		if k.sku == sku {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out, nil
}

// SetStock overwrites the stock of a SKU in a warehouse.
func (m *Memory) SetStock(warehouseID, sku string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[warehouseID] == nil {
		m.stock[warehouseID] = make(map[string]int)
	}
	m.stock[warehouseID][sku] = qty
}

// Stock returns the current stock of a SKU in a warehouse.
func (m *Memory) Stock(warehouseID, sku string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stock[warehouseID][sku]
}

func (m *Memory) Decrement(_ context.Context, warehouseID, sku string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	skus, ok := m.stock[warehouseID]
	if !ok {
		return fmt.Errorf("warehouse %s: %w", warehouseID, ErrNotFound)
	}
	if skus[sku] < qty {
		return fmt.Errorf("warehouse %s has %d of %s, need %d: %w", warehouseID, skus[sku], sku, qty, ErrInsufficientStock)
	}
	skus[sku] -= qty
	return nil
}

func (m *Memory) Reserve(_ context.Context, storeID, sku string, qty int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := invKey{storeID, sku}
	inv, ok := m.inventory[k]
	if !ok {
		return 0, fmt.Errorf("inventory %s/%s: %w", storeID, sku, ErrNotFound)
	}
	n := min(qty, inv.Available())
	if n <= 0 {
		return 0, nil
	}
	inv.ReservedQuantity += n
	m.inventory[k] = inv
	return n, nil
}

func (m *Memory) Unreserve(_ context.Context, storeID, sku string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := invKey{storeID, sku}
	inv, ok := m.inventory[k]
	if !ok {
		return
	}
	inv.ReservedQuantity = max(0, inv.ReservedQuantity-qty)
	m.inventory[k] = inv
}

// AddActions appends manager actions to the feed.
func (m *Memory) AddActions(actions ...model.ManagerAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, actions...)
}

func (m *Memory) Actions(_ context.Context, since time.Time) ([]model.ManagerAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ManagerAction
	for _, a := range m.actions {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) LatestAction(_ context.Context, storeID string) (model.ManagerAction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest model.ManagerAction
	found := false
	for _, a := range m.actions {
		if a.StoreID != storeID {
			continue
		}
		if !found || a.Timestamp.After(latest.Timestamp) {
			latest, found = a, true
		}
	}
	return latest, found, nil
}

func (m *Memory) Append(_ context.Context, t model.TransferRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transfers[t.RequestID]; ok {
		return false, nil
	}
	m.transfers[t.RequestID] = t
	return true, nil
}

// Transfers returns recorded transfers ordered by creation time.
func (m *Memory) Transfers() []model.TransferRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TransferRequest, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var (
	_ StoreDirectory     = (*Memory)(nil)
	_ ProductDirectory   = (*Memory)(nil)
	_ WarehouseDirectory = (*Memory)(nil)
	_ InventoryDirectory = (*Memory)(nil)
	_ WarehouseStock     = (*Memory)(nil)
	_ ActionFeed         = (*Memory)(nil)
	_ TransferSink       = (*Memory)(nil)
	_ StockReserver      = (*Memory)(nil)
)
