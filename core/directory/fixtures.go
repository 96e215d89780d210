package directory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/stockpulse/core/model"
)

// StockLevel is the quantity of a SKU held by a warehouse.
type StockLevel struct {
	WarehouseID string `json:"warehouse_id" yaml:"warehouse_id"`
	SKU         string `json:"sku" yaml:"sku"`
	Quantity    int    `json:"quantity" yaml:"quantity"`
}

// Fixtures is the file format read by LoadFixtures.
type Fixtures struct {
	Stores         []model.Store             `json:"stores" yaml:"stores"`
	Products       []model.Product           `json:"products" yaml:"products"`
	Warehouses     []model.Warehouse         `json:"warehouses" yaml:"warehouses"`
	Capacities     []model.WarehouseCapacity `json:"capacities" yaml:"capacities"`
	Inventory      []model.StoreInventory    `json:"inventory" yaml:"inventory"`
	WarehouseStock []StockLevel              `json:"warehouse_stock" yaml:"warehouse_stock"`
	Actions        []model.ManagerAction     `json:"actions" yaml:"actions"`
	Requests       []model.AllocationRequest `json:"requests" yaml:"requests"`
}

// LoadFixtures reads fixtures from a JSON or YAML file.
func LoadFixtures(path string) (Fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fixtures{}, err
	}
	defer f.Close()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	fx, err := DecodeFixtures(f, ext)
	if err != nil {
		return Fixtures{}, fmt.Errorf("fixtures %s: %w", path, err)
	}
	return fx, nil
}

// DecodeFixtures reads fixtures in the given format ("yaml", "yml" or "json").
func DecodeFixtures(r io.Reader, format string) (Fixtures, error) {
	var fx Fixtures
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&fx); err != nil && err != io.EOF {
			return fx, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&fx); err != nil {
			return fx, err
		}
	default:
		return fx, fmt.Errorf("unsupported format: %s", format)
	}
	return fx, nil
}
