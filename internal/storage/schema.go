package storage

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/tapmarket/internal/models"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// marketStatusID is the single row of market_status.
const marketStatusID = 1

// Bootstrap creates any missing tables and, when the drinks table is empty,
// seeds it with catalog. It is idempotent.
func (s *Store) Bootstrap(ctx context.Context, catalog []models.Drink) error {
	raw, err := schemaFS.ReadFile(s.dialect.schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return s.WithTx(ctx, func(tx *Tx) error {
		var drinks int
		if err := tx.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM drinks`).Scan(&drinks); err != nil {
			return fmt.Errorf("failed to count drinks: %w", err)
		}
		if drinks == 0 {
			for i := range catalog {
				if err := tx.insertDrink(ctx, &catalog[i]); err != nil {
					return err
				}
			}
		}

		var status int
		if err := tx.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_status`).Scan(&status); err != nil {
			return fmt.Errorf("failed to count market status: %w", err)
		}
		if status == 0 {
			if _, err := tx.tx.ExecContext(ctx, s.dialect.bind(
				`INSERT INTO market_status (id, crash, updated_ms) VALUES (?, ?, ?)`),
				marketStatusID, false, toMillis(time.Now())); err != nil {
				return fmt.Errorf("failed to seed market status: %w", err)
			}
		}
		return nil
	})
}

func (tx *Tx) insertDrink(ctx context.Context, d *models.Drink) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid catalog drink %q: %w", d.Name, err)
	}
	var lockChanged any
	if !d.LockChangedAt.IsZero() {
		lockChanged = toMillis(d.LockChangedAt)
	}
	_, err := tx.tx.ExecContext(ctx, tx.d.bind(`
		INSERT INTO drinks (id, name, category, color, price, price_cents, base_price_cents,
			min_price_cents, max_price_cents, expected_popularity, gamma, delta_max, locked, lock_changed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.Name, string(d.Category), d.Color, d.Price.Float(), int64(d.Price), int64(d.BasePrice),
		int64(d.MinPrice), int64(d.MaxPrice), d.ExpectedPopularity, d.Gamma, d.DeltaMax, d.Locked, lockChanged)
	if err != nil {
		return fmt.Errorf("failed to seed drink %q: %w", d.Name, err)
	}
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// DefaultCatalog is the drinks board seeded on first bootstrap.
func DefaultCatalog() []models.Drink {
	drink := func(id int64, name string, cat models.Category, color string, base, lo, hi models.Cents, pop float64) models.Drink {
		return models.Drink{
			ID:                 id,
			Name:               name,
			Category:           cat,
			Color:              color,
			Price:              base,
			BasePrice:          base,
			MinPrice:           lo,
			MaxPrice:           hi,
			ExpectedPopularity: pop,
			Gamma:              0.4,
			DeltaMax:           0.10,
		}
	}
	return []models.Drink{
		drink(1, "Pils", models.CategoryAlcoholic, "#FF4C4C", 250, 180, 400, 6),
		drink(2, "Speciaalbier", models.CategoryAlcoholic, "#FF944C", 400, 300, 600, 2),
		drink(3, "Witte wijn", models.CategoryAlcoholic, "#FFEC4C", 350, 250, 500, 2),
		drink(4, "Rode wijn", models.CategoryAlcoholic, "#94FF4C", 350, 250, 500, 1.5),
		drink(5, "Rosé", models.CategoryAlcoholic, "#FF4C94", 350, 250, 500, 1),
		drink(6, "Gin-tonic", models.CategoryAlcoholic, "#4CECEC", 700, 500, 1000, 1.5),
		drink(7, "Shot", models.CategoryAlcoholic, "#944CFF", 200, 120, 350, 2),
		drink(8, "Cola", models.CategoryNonAlcoholic, "#4C94FF", 220, 150, 320, 3),
		drink(9, "Fanta", models.CategoryNonAlcoholic, "#FF6C4C", 220, 150, 320, 1.5),
		drink(10, "Spa rood", models.CategoryNonAlcoholic, "#94FFEC", 200, 140, 300, 1.5),
		drink(11, "Ice tea", models.CategoryNonAlcoholic, "#4CFF4C", 220, 150, 320, 1),
		drink(12, "Alcoholvrij bier", models.CategoryNonAlcoholic, "#EC4CFF", 250, 180, 380, 1),
	}
}
