package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
)

// OrderRepository handles the reconciled order snapshot of each run
// Database: ledger.db (run_orders table)
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log.With().Str("repo", "run_orders").Logger(),
	}
}

// SaveOrders replaces the order set of a run in one transaction
func (r *OrderRepository) SaveOrders(runID string, orders []OrderRecord) error {
	now := time.Now().Unix()
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM run_orders WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to clear orders of run %s: %w", runID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO run_orders (run_id, code, initial_position, final_position, reference_price,
				direction, mode, interim_target, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare order insert: %w", err)
		}
		defer stmt.Close()

		for _, o := range orders {
			if _, err := stmt.Exec(runID, o.Code, o.InitialPosition, o.FinalPosition, o.ReferencePrice,
				o.Direction, o.Mode, o.InterimTarget, now); err != nil {
				return fmt.Errorf("failed to insert order %s: %w", o.Code, err)
			}
		}
		return nil
	})
}

// UpdateInterim stores the latest interim targets and reference prices keyed by code
func (r *OrderRepository) UpdateInterim(runID string, orders []OrderRecord) error {
	now := time.Now().Unix()
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			UPDATE run_orders SET interim_target = ?, reference_price = ?, updated_at = ?
			WHERE run_id = ? AND code = ?
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare interim update: %w", err)
		}
		defer stmt.Close()

		for _, o := range orders {
			if _, err := stmt.Exec(o.InterimTarget, o.ReferencePrice, now, runID, o.Code); err != nil {
				return fmt.Errorf("failed to update interim target of %s: %w", o.Code, err)
			}
		}
		return nil
	})
}

// GetByRun returns the orders of a run sorted by code
func (r *OrderRepository) GetByRun(runID string) ([]OrderRecord, error) {
	rows, err := r.db.Query(`
		SELECT run_id, code, initial_position, final_position, reference_price,
			direction, mode, interim_target, updated_at
		FROM run_orders WHERE run_id = ? ORDER BY code
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders of run %s: %w", runID, err)
	}
	defer rows.Close()

	orders := make([]OrderRecord, 0)
	for rows.Next() {
		var o OrderRecord
		var updatedAt int64
		if err := rows.Scan(&o.RunID, &o.Code, &o.InitialPosition, &o.FinalPosition, &o.ReferencePrice,
			&o.Direction, &o.Mode, &o.InterimTarget, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}
