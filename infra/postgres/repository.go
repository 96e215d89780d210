package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/stockpulse/core/allocation"
	"github.com/kilianp07/stockpulse/core/directory"
	"github.com/kilianp07/stockpulse/core/model"
)

var (
	_ directory.TransferSink      = (*Repository)(nil)
	_ allocation.ConsensusHistory = (*Repository)(nil)
)

// Repository implements the transfer sink and the consensus history store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append records t. A transfer for an already recorded request id is
// ignored and reported with created=false.
func (r *Repository) Append(ctx context.Context, t model.TransferRequest) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
        INSERT INTO transfer_requests
            (id, request_id, from_store_id, to_store_id, sku, quantity, priority,
             warehouse_id, total_distance, estimated_cost, status, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (request_id) DO NOTHING
    `, t.ID, t.RequestID, t.FromStoreID, t.ToStoreID, t.SKU, t.Quantity, string(t.Priority),
		t.Route.WarehouseID, t.Route.TotalDistance, t.Route.EstimatedCost, string(t.Status), t.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert transfer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transfers lists transfers bound for storeID, newest first. An empty id
// lists every store.
func (r *Repository) Transfers(ctx context.Context, storeID string, limit int) ([]model.TransferRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, request_id, from_store_id, to_store_id, sku, quantity, priority,
               warehouse_id, total_distance, estimated_cost, status, created_at
        FROM transfer_requests
        WHERE ($1 = '' OR to_store_id = $1)
        ORDER BY created_at DESC
        LIMIT $2
    `, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []model.TransferRequest
	for rows.Next() {
		var t model.TransferRequest
		var prio, status string
		if err := rows.Scan(&t.ID, &t.RequestID, &t.FromStoreID, &t.ToStoreID, &t.SKU, &t.Quantity, &prio,
			&t.Route.WarehouseID, &t.Route.TotalDistance, &t.Route.EstimatedCost, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.Priority = model.Priority(prio)
		t.Status = model.TransferStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveConsensus stores one row per region result in a single batch.
func (r *Repository) SaveConsensus(ctx context.Context, ts time.Time, results []model.ConsensusResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
            INSERT INTO regional_consensus_history
                (computed_at, region, signal_type, consensus_strength, participation_rate, confidence,
                 participating_stores, total_stores, level, emergency, reasoning)
            VALUES
                ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        `, ts, res.Region, res.SignalType, res.Strength, res.ParticipationRate, res.Confidence,
			res.ParticipatingStores, res.TotalStoresInRegion, string(res.Level), res.Emergency, res.Reasoning)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert consensus history: %w", err)
	}
	return nil
}

// ConsensusHistory returns the stored results for region since the given
// time, oldest first.
func (r *Repository) ConsensusHistory(ctx context.Context, region string, since time.Time) ([]model.ConsensusResult, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT region, signal_type, consensus_strength, participation_rate, confidence,
               participating_stores, total_stores, level, emergency, reasoning
        FROM regional_consensus_history
        WHERE region = $1 AND computed_at >= $2
        ORDER BY computed_at ASC, id ASC
    `, region, since)
	if err != nil {
		return nil, fmt.Errorf("query consensus history: %w", err)
	}
	defer rows.Close()

	var out []model.ConsensusResult
	for rows.Next() {
		var res model.ConsensusResult
		var level string
		if err := rows.Scan(&res.Region, &res.SignalType, &res.Strength, &res.ParticipationRate, &res.Confidence,
			&res.ParticipatingStores, &res.TotalStoresInRegion, &level, &res.Emergency, &res.Reasoning); err != nil {
			return nil, fmt.Errorf("scan consensus history: %w", err)
		}
		res.Level = model.ConsensusLevel(level)
		out = append(out, res)
	}
	return out, rows.Err()
}
