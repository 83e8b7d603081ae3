package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// PriceHistory returns up to limit of the newest points for drinkID, oldest
// first.
func (s *Store) PriceHistory(ctx context.Context, drinkID int64, limit int) ([]models.PricePoint, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(
		`SELECT id, drink_id, price_cents, ts_ms, source FROM price_history
		 WHERE drink_id = ? ORDER BY ts_ms DESC LIMIT ?`), drinkID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var (
			p      models.PricePoint
			cents  int64
			ts     int64
			source string
		)
		if err := rows.Scan(&p.ID, &p.DrinkID, &cents, &ts, &source); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		p.Price = models.Cents(cents)
		p.At = fromMillis(ts)
		p.Source = source
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func addPricePoints(ctx context.Context, q querier, d *dialect, points []models.PricePoint) error {
	for _, p := range points {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid price point for drink %d: %w", p.DrinkID, err)
		}
		if _, err := q.ExecContext(ctx, d.bind(
			`INSERT INTO price_history (id, drink_id, price_cents, ts_ms, source) VALUES (?, ?, ?, ?, ?)`),
			p.ID, p.DrinkID, int64(p.Price), toMillis(p.At), p.Source); err != nil {
			return fmt.Errorf("failed to record price point for drink %d: %w", p.DrinkID, err)
		}
	}
	return nil
}

// trimHistory drops points older than the keep-th newest one. Points sharing
// the cutoff timestamp survive, so a drink may briefly hold a few extra.
func trimHistory(ctx context.Context, q querier, d *dialect, ids []int64, keep int) error {
	if keep <= 0 {
		return nil
	}
	for _, id := range ids {
		var cutoff int64
		err := q.QueryRowContext(ctx, d.bind(
			`SELECT ts_ms FROM price_history WHERE drink_id = ? ORDER BY ts_ms DESC LIMIT 1 OFFSET ?`),
			id, keep-1).Scan(&cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to find history cutoff for drink %d: %w", id, err)
		}
		if _, err := q.ExecContext(ctx, d.bind(
			`DELETE FROM price_history WHERE drink_id = ? AND ts_ms < ?`), id, cutoff); err != nil {
			return fmt.Errorf("failed to trim history for drink %d: %w", id, err)
		}
	}
	return nil
}
