package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

func sample() []model.Outcome {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []model.Outcome{
		{RequestID: "r1", StoreID: "S1", SKU: "X", Queue: "standard", Requested: 50, FinalQuantity: 50, Fulfilled: 50,
			Source: model.SourceWarehouse, Via: "direct", WarehouseID: "W1", DecidedAt: at},
		{RequestID: "r2", StoreID: "S2", SKU: "Y", Queue: "emergency", Requested: 100, FinalQuantity: 120, Fulfilled: 0, Shortfall: 120,
			Source: model.SourceNone, Reason: "warehouse: out of stock, contains comma", DecidedAt: at},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[2][5] != "120" || rows[2][7] != "120" || rows[2][8] != "none" {
		t.Fatalf("unexpected row %v", rows[2])
	}
	if rows[2][12] != "warehouse: out of stock, contains comma" {
		t.Fatalf("reason not quoted correctly: %q", rows[2][12])
	}
	if rows[1][13] != "2024-03-01T10:00:00Z" {
		t.Fatalf("unexpected timestamp %q", rows[1][13])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sample()); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0]["warehouse_id"] != "W1" {
		t.Fatalf("unexpected output %v", got)
	}

	buf.Reset()
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "xml", nil); err == nil {
		t.Fatalf("expected error")
	}
}
