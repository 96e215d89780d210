package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilianp07/stockpulse/core/model"
)

const fixtures = `stores:
  - {id: S1, warehouse_id: W1, location: {lat: 48.8566, lng: 2.3522}}
  - {id: S2, warehouse_id: W1, location: {lat: 48.8600, lng: 2.3400}}
  - {id: S3, warehouse_id: W1, location: {lat: 48.8700, lng: 2.3300}}
products:
  - {sku: X}
warehouses:
  - {id: W1, location: {lat: 48.85, lng: 2.35}}
capacities:
  - {warehouse_id: W1, max_capacity: 500, current_utilization: 50}
warehouse_stock:
  - {warehouse_id: W1, sku: X, quantity: 100}
inventory:
  - {store_id: S2, sku: X, current_stock: 80, safety_stock: 10, average_daily_sales: 2}
requests:
  - {store_id: S1, sku: X, quantity_needed: 30}
`

func setup(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	fx := filepath.Join(dir, "fixtures.yaml")
	if err := os.WriteFile(fx, []byte(fixtures), 0o644); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	cfg := filepath.Join(dir, "config.yaml")
	data := fmt.Sprintf("fixtures:\n  path: %q\njournal:\n  backend: none\n", fx)
	if err := os.WriteFile(cfg, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgPath = cfg
}

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--config", cfgPath))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.Bytes()
}

func TestDrainCommand(t *testing.T) {
	setup(t)
	var outcomes []model.Outcome
	if err := json.Unmarshal(execute(t, "drain"), &outcomes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Fulfilled != 30 || outcomes[0].Source != model.SourceWarehouse {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
}

func TestContributorsCommand(t *testing.T) {
	setup(t)
	var candidates []model.ContributionCandidate
	if err := json.Unmarshal(execute(t, "contributors", "S1", "X", "20"), &candidates); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(candidates) != 1 || candidates[0].StoreID != "S2" {
		t.Fatalf("unexpected candidates %+v", candidates)
	}
}

func TestRouteRejectsUnknownPriority(t *testing.T) {
	setup(t)
	rootCmd.SetArgs([]string{"route", "S2", "S1", "10", "--priority", "urgent", "--config", cfgPath})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("expected error")
	}
	routePriority = string(model.PriorityStandard)
}
