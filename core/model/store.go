package model

import "math"

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether both components are finite and inside the WGS84 range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Store is a retail location. Location is nil when the store has not been
// geocoded; such stores are excluded from clustering.
type Store struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Location    *Coordinate `json:"location,omitempty" yaml:"location,omitempty"`
	WarehouseID string      `json:"warehouse_id,omitempty" yaml:"warehouse_id,omitempty"`
	ManagerID   string      `json:"manager_id,omitempty" yaml:"manager_id,omitempty"`
}

// HasLocation reports whether the store can be placed on the map.
func (s Store) HasLocation() bool {
	return s.Location != nil && s.Location.Valid()
}

// Product is a catalogue entry keyed by SKU.
type Product struct {
	SKU          string  `json:"sku" yaml:"sku"`
	Name         string  `json:"name,omitempty" yaml:"name,omitempty"`
	PrivateLabel bool    `json:"private_label" yaml:"private_label"`
	UnitPrice    float64 `json:"unit_price,omitempty" yaml:"unit_price,omitempty"`
}

// Warehouse is an intermediary location used to route store-to-store transfers.
// Region may be empty, in which case it is resolved from the current region map.
type Warehouse struct {
	ID       string      `json:"id" yaml:"id"`
	Name     string      `json:"name,omitempty" yaml:"name,omitempty"`
	Location *Coordinate `json:"location,omitempty" yaml:"location,omitempty"`
	Region   string      `json:"region,omitempty" yaml:"region,omitempty"`
}

// WarehouseCapacity is the capacity window of a warehouse for the current period.
type WarehouseCapacity struct {
	WarehouseID        string `json:"warehouse_id" yaml:"warehouse_id"`
	MaxCapacity        int    `json:"max_capacity" yaml:"max_capacity"`
	CurrentUtilization int    `json:"current_utilization" yaml:"current_utilization"`
	IncomingScheduled  int    `json:"incoming_scheduled" yaml:"incoming_scheduled"`
}

// Available returns the capacity left once utilisation and scheduled arrivals are deducted.
func (c WarehouseCapacity) Available() int {
	return c.MaxCapacity - c.CurrentUtilization - c.IncomingScheduled
}

// UtilizationPct returns current utilisation as a percentage of max capacity.
func (c WarehouseCapacity) UtilizationPct() float64 {
	if c.MaxCapacity <= 0 {
		return 100
	}
	return float64(c.CurrentUtilization) / float64(c.MaxCapacity) * 100
}

// StoreInventory is the stock position of one SKU in one store.
// AverageDailySales of zero means the sales velocity is unknown.
// TransferSuccessRate of zero means no transfer history.
type StoreInventory struct {
	StoreID             string  `json:"store_id" yaml:"store_id"`
	SKU                 string  `json:"sku" yaml:"sku"`
	CurrentStock        int     `json:"current_stock" yaml:"current_stock"`
	SafetyStock         int     `json:"safety_stock" yaml:"safety_stock"`
	ReservedQuantity    int     `json:"reserved_quantity" yaml:"reserved_quantity"`
	AverageDailySales   float64 `json:"average_daily_sales,omitempty" yaml:"average_daily_sales,omitempty"`
	TransferSuccessRate float64 `json:"transfer_success_rate,omitempty" yaml:"transfer_success_rate,omitempty"`
}

// Available returns the stock a store could give away without touching
// safety stock or reservations. It may be negative.
func (i StoreInventory) Available() int {
	return i.CurrentStock - i.SafetyStock - i.ReservedQuantity
}
