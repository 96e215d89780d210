// Package export writes drain outcomes for offline review.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/stockpulse/core/model"
)

var csvHeader = []string{
	"request_id", "store_id", "sku", "queue", "requested_quantity", "final_quantity",
	"fulfilled_quantity", "shortfall", "source", "via", "warehouse_id",
	"contributor_store_id", "reason", "decided_at",
}

// WriteJSON writes the outcomes to w as an indented JSON array.
func WriteJSON(w io.Writer, outcomes []model.Outcome) error {
	if outcomes == nil {
		outcomes = []model.Outcome{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}

// WriteCSV writes one row per outcome with a header line.
func WriteCSV(w io.Writer, outcomes []model.Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		rec := []string{
			o.RequestID,
			o.StoreID,
			o.SKU,
			o.Queue,
			strconv.Itoa(o.Requested),
			strconv.Itoa(o.FinalQuantity),
			strconv.Itoa(o.Fulfilled),
			strconv.Itoa(o.Shortfall),
			string(o.Source),
			o.Via,
			o.WarehouseID,
			o.Contributor,
			o.Reason,
			o.DecidedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format ("json" or "csv").
func Write(w io.Writer, format string, outcomes []model.Outcome) error {
	switch format {
	case "json", "":
		return WriteJSON(w, outcomes)
	case "csv":
		return WriteCSV(w, outcomes)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
