package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// LogSale appends a sale to the ledger and returns it with its assigned id.
// The sale must reference an existing drink.
func (s *Store) LogSale(ctx context.Context, sale models.Sale) (models.Sale, error) {
	if err := sale.Validate(); err != nil {
		return models.Sale{}, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT COUNT(*) FROM drinks WHERE id = ?`), sale.DrinkID).Scan(&exists)
	if err != nil {
		return models.Sale{}, fmt.Errorf("failed to look up drink %d: %w", sale.DrinkID, err)
	}
	if exists == 0 {
		return models.Sale{}, ErrNotFound
	}

	const insert = `INSERT INTO sales (drink_id, qty, ts_ms) VALUES (?, ?, ?)`
	if s.dialect.returning {
		err = s.db.QueryRowContext(ctx, s.dialect.bind(insert+` RETURNING id`),
			sale.DrinkID, sale.Qty, toMillis(sale.At)).Scan(&sale.ID)
		if err != nil {
			return models.Sale{}, fmt.Errorf("failed to log sale: %w", err)
		}
		return sale, nil
	}

	res, err := s.db.ExecContext(ctx, s.dialect.bind(insert), sale.DrinkID, sale.Qty, toMillis(sale.At))
	if err != nil {
		return models.Sale{}, fmt.Errorf("failed to log sale: %w", err)
	}
	if sale.ID, err = res.LastInsertId(); err != nil {
		return models.Sale{}, fmt.Errorf("failed to read sale id: %w", err)
	}
	return sale, nil
}

// SalesSince returns the sales of drinkID at or after since, oldest first.
func (s *Store) SalesSince(ctx context.Context, drinkID int64, since time.Time) ([]models.Sale, error) {
	return salesSince(ctx, s.db, s.dialect, drinkID, since)
}

// ListSales returns every sale at or after since across all drinks, oldest
// first.
func (s *Store) ListSales(ctx context.Context, since time.Time) ([]models.Sale, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(
		`SELECT id, drink_id, qty, ts_ms FROM sales WHERE ts_ms >= ? ORDER BY ts_ms, id`), toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	return scanSales(rows)
}

func salesSince(ctx context.Context, q querier, d *dialect, drinkID int64, since time.Time) ([]models.Sale, error) {
	rows, err := q.QueryContext(ctx, d.bind(
		`SELECT id, drink_id, qty, ts_ms FROM sales WHERE drink_id = ? AND ts_ms >= ? ORDER BY ts_ms, id`),
		drinkID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query sales of drink %d: %w", drinkID, err)
	}
	return scanSales(rows)
}

func scanSales(rows *sql.Rows) ([]models.Sale, error) {
	defer rows.Close()
	var sales []models.Sale
	for rows.Next() {
		var (
			sale models.Sale
			ts   int64
		)
		if err := rows.Scan(&sale.ID, &sale.DrinkID, &sale.Qty, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.At = fromMillis(ts)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sales: %w", err)
	}
	return sales, nil
}
