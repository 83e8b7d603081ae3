package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// Tx is a unit of work over the store. Everything written through a Tx is
// committed together or not at all.
type Tx struct {
	tx *sql.Tx
	d  *dialect
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (retErr error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Tx{tx: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CategoryDrinks returns every drink of category, locked or not, ordered by
// id. The rows stay locked until the transaction ends, so lock toggles and
// manual price sets wait for the tick instead of being overwritten by it.
func (tx *Tx) CategoryDrinks(ctx context.Context, category models.Category) ([]models.Drink, error) {
	rows, err := tx.tx.QueryContext(ctx,
		tx.d.bind(selectDrinks+` WHERE category = ? ORDER BY id`+tx.d.forUpdate), string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s drinks: %w", category, err)
	}
	return scanDrinks(rows)
}

// Drink returns one drink and locks its row.
func (tx *Tx) Drink(ctx context.Context, id int64) (models.Drink, error) {
	row := tx.tx.QueryRowContext(ctx, tx.d.bind(selectDrinks+` WHERE id = ?`+tx.d.forUpdate), id)
	return scanDrink(row)
}

// SalesSince returns the sales of drinkID at or after since, oldest first.
func (tx *Tx) SalesSince(ctx context.Context, drinkID int64, since time.Time) ([]models.Sale, error) {
	return salesSince(ctx, tx.tx, tx.d, drinkID, since)
}

// MarketStatus reads the global market flags.
func (tx *Tx) MarketStatus(ctx context.Context) (models.MarketStatus, error) {
	return marketStatus(ctx, tx.tx, tx.d)
}

// SetPrices writes the new price and its decimal mirror for every update.
// Locked drinks are never written; finding one is an error and aborts the
// transaction.
func (tx *Tx) SetPrices(ctx context.Context, updates []models.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	stmt, err := tx.tx.PrepareContext(ctx, tx.d.bind(
		`UPDATE drinks SET price = ?, price_cents = ? WHERE id = ? AND locked = ?`))
	if err != nil {
		return fmt.Errorf("failed to prepare price update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.NewPrice.Float(), int64(u.NewPrice), u.DrinkID, false)
		if err != nil {
			return fmt.Errorf("failed to update price of drink %d: %w", u.DrinkID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("failed to update price of drink %d: not found or locked", u.DrinkID)
		}
	}
	return nil
}

// AdjustPrices applies signed deltas to unlocked drinks, clamping every
// result into the drink's band.
func (tx *Tx) AdjustPrices(ctx context.Context, deltas []models.PriceDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	stmt, err := tx.tx.PrepareContext(ctx, tx.d.bind(
		`UPDATE drinks SET price_cents = `+tx.d.clampPrice("price_cents + ?")+` WHERE id = ? AND locked = ?`))
	if err != nil {
		return fmt.Errorf("failed to prepare price adjustment: %w", err)
	}
	defer stmt.Close()

	mirror, err := tx.tx.PrepareContext(ctx, tx.d.bind(
		`UPDATE drinks SET price = price_cents / 100.0 WHERE id = ?`))
	if err != nil {
		return fmt.Errorf("failed to prepare price mirror: %w", err)
	}
	defer mirror.Close()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx, int64(d.Delta), d.DrinkID, false); err != nil {
			return fmt.Errorf("failed to adjust price of drink %d: %w", d.DrinkID, err)
		}
		if _, err := mirror.ExecContext(ctx, d.DrinkID); err != nil {
			return fmt.Errorf("failed to mirror price of drink %d: %w", d.DrinkID, err)
		}
	}
	return nil
}

// AddPricePoints appends to the price history.
func (tx *Tx) AddPricePoints(ctx context.Context, points []models.PricePoint) error {
	return addPricePoints(ctx, tx.tx, tx.d, points)
}

// TrimHistory keeps roughly the newest keep points per drink in ids.
func (tx *Tx) TrimHistory(ctx context.Context, ids []int64, keep int) error {
	return trimHistory(ctx, tx.tx, tx.d, ids, keep)
}
