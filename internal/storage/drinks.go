package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/tapmarket/internal/models"
)

const selectDrinks = `SELECT id, name, category, color, price_cents, base_price_cents,
	min_price_cents, max_price_cents, expected_popularity, gamma, delta_max, locked, lock_changed_ms
	FROM drinks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrinkRow(r rowScanner) (models.Drink, error) {
	var (
		d           models.Drink
		category    string
		price       int64
		base        int64
		lo          int64
		hi          int64
		lockChanged sql.NullInt64
	)
	err := r.Scan(&d.ID, &d.Name, &category, &d.Color, &price, &base, &lo, &hi,
		&d.ExpectedPopularity, &d.Gamma, &d.DeltaMax, &d.Locked, &lockChanged)
	if err != nil {
		return models.Drink{}, err
	}
	d.Category = models.Category(category)
	d.Price = models.Cents(price)
	d.BasePrice = models.Cents(base)
	d.MinPrice = models.Cents(lo)
	d.MaxPrice = models.Cents(hi)
	if lockChanged.Valid {
		d.LockChangedAt = fromMillis(lockChanged.Int64)
	}
	return d, nil
}

func scanDrink(row *sql.Row) (models.Drink, error) {
	d, err := scanDrinkRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Drink{}, ErrNotFound
	}
	if err != nil {
		return models.Drink{}, fmt.Errorf("failed to scan drink: %w", err)
	}
	return d, nil
}

func scanDrinks(rows *sql.Rows) ([]models.Drink, error) {
	defer rows.Close()
	var drinks []models.Drink
	for rows.Next() {
		d, err := scanDrinkRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drink: %w", err)
		}
		drinks = append(drinks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read drinks: %w", err)
	}
	return drinks, nil
}

// ListDrinks returns every drink with its lock state, ordered by id.
func (s *Store) ListDrinks(ctx context.Context) ([]models.Drink, error) {
	rows, err := s.db.QueryContext(ctx, selectDrinks+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query drinks: %w", err)
	}
	return scanDrinks(rows)
}

// GetDrink retrieves a drink by ID
func (s *Store) GetDrink(ctx context.Context, id int64) (models.Drink, error) {
	return scanDrink(s.db.QueryRowContext(ctx, s.dialect.bind(selectDrinks+` WHERE id = ?`), id))
}

// SetPrice is the administrative override. It locks the drink's row, rejects
// prices outside the band, and records a manual history point. Locked drinks
// accept manual prices too.
func (s *Store) SetPrice(ctx context.Context, id int64, price models.Cents, at time.Time) (models.Drink, error) {
	var updated models.Drink
	err := s.WithTx(ctx, func(tx *Tx) error {
		d, err := tx.Drink(ctx, id)
		if err != nil {
			return err
		}
		if !d.InBand(price) {
			return fmt.Errorf("%w: %s not in [%s, %s]", ErrOutOfBand, price, d.MinPrice, d.MaxPrice)
		}
		if _, err := tx.tx.ExecContext(ctx, tx.d.bind(
			`UPDATE drinks SET price = ?, price_cents = ? WHERE id = ?`),
			price.Float(), int64(price), id); err != nil {
			return fmt.Errorf("failed to set price of drink %d: %w", id, err)
		}
		point := models.PricePoint{
			ID:      uuid.New().String(),
			DrinkID: id,
			Price:   price,
			At:      at,
			Source:  models.SourceManual,
		}
		if err := tx.AddPricePoints(ctx, []models.PricePoint{point}); err != nil {
			return err
		}
		d.Price = price
		updated = d
		return nil
	})
	return updated, err
}

// SetLocked flips a drink's lock and stamps the transition time.
func (s *Store) SetLocked(ctx context.Context, id int64, locked bool, at time.Time) (models.Drink, error) {
	var updated models.Drink
	err := s.WithTx(ctx, func(tx *Tx) error {
		d, err := tx.Drink(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.tx.ExecContext(ctx, tx.d.bind(
			`UPDATE drinks SET locked = ?, lock_changed_ms = ? WHERE id = ?`),
			locked, toMillis(at), id); err != nil {
			return fmt.Errorf("failed to lock drink %d: %w", id, err)
		}
		d.Locked = locked
		d.LockChangedAt = fromMillis(toMillis(at))
		updated = d
		return nil
	})
	return updated, err
}
