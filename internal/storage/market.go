package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// MarketStatus reads the global market flags.
func (s *Store) MarketStatus(ctx context.Context) (models.MarketStatus, error) {
	return marketStatus(ctx, s.db, s.dialect)
}

// SetCrash turns crash mode on or off.
func (s *Store) SetCrash(ctx context.Context, crash bool, at time.Time) (models.MarketStatus, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.bind(
		`UPDATE market_status SET crash = ?, updated_ms = ? WHERE id = ?`), crash, toMillis(at), marketStatusID)
	if err != nil {
		return models.MarketStatus{}, fmt.Errorf("failed to set crash mode: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.MarketStatus{}, fmt.Errorf("failed to set crash mode: market status missing, run bootstrap")
	}
	return models.MarketStatus{Crash: crash, UpdatedAt: fromMillis(toMillis(at))}, nil
}

func marketStatus(ctx context.Context, q querier, d *dialect) (models.MarketStatus, error) {
	var (
		status models.MarketStatus
		ms     int64
	)
	err := q.QueryRowContext(ctx, d.bind(`SELECT crash, updated_ms FROM market_status WHERE id = ?`), marketStatusID).
		Scan(&status.Crash, &ms)
	if err != nil {
		return models.MarketStatus{}, fmt.Errorf("failed to read market status: %w", err)
	}
	status.UpdatedAt = fromMillis(ms)
	return status, nil
}
