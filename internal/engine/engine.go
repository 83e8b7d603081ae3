// Package engine runs the pricing passes of the exchange against the store.
//
// A tick reads each category's drinks and their recent sales inside one
// transaction, attributes every sale to the lock state in effect when it
// happened, and writes the bounded price moves the pricing package computes.
// A rebalance pass pulls each category's summed price back toward its summed
// base price. Both passes commit per category; a failing category aborts the
// pass and leaves the categories after it untouched until the next run.
//
// After every committed pass the engine reads the board back and hands it to
// the configured publisher (the live feed) and to the metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/tapmarket/internal/logger"
	"github.com/rewired-gh/tapmarket/internal/metrics"
	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/pricing"
	"github.com/rewired-gh/tapmarket/internal/storage"
)

// Skip reasons reported in CategoryReport.Skipped.
const (
	SkipNoDemand  = "no unlocked demand in window"
	SkipCrashMode = "crash mode active"
)

// Config holds the pricing parameters the engine needs.
type Config struct {
	SalesWindow     time.Duration
	CrashMultiplier float64
	HistoryLimit    int
	Rebalance       pricing.RebalanceConfig
}

// Publisher receives the board after every committed change.
type Publisher interface {
	Publish(board models.Board)
}

// Engine runs ticks and rebalance passes against a store.
type Engine struct {
	store     *storage.Store
	cfg       Config
	metrics   *metrics.Metrics
	publisher Publisher
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records pass results and prices on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher sends every committed board to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// New creates a new Engine instance
func New(store *storage.Store, cfg Config, opts ...Option) *Engine {
	if cfg.CrashMultiplier <= 0 {
		cfg.CrashMultiplier = 1
	}
	e := &Engine{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CategoryReport describes what a pass did to one category.
type CategoryReport struct {
	Category    models.Category
	Units       int // units attributed to unlocked drinks
	LockedUnits int // units ignored for pricing: sold while locked, or of a drink locked now
	Updates     []models.PriceUpdate
	Deltas      []models.PriceDelta
	Drift       models.Cents
	Unplaced    models.Cents // drift left over once every unlocked drink hit its band
	Violations  []pricing.Violation
	Skipped     string
}

// Report is the outcome of one pass.
type Report struct {
	ID         string // correlates the log lines of one pass
	At         time.Time
	Crash      bool
	Categories []CategoryReport
}

// Changed is the number of prices written across all categories.
func (r Report) Changed() int {
	n := 0
	for _, c := range r.Categories {
		n += len(c.Updates)
	}
	return n
}

// Tick runs one pricing pass as of now, the boundary the pass belongs to.
func (e *Engine) Tick(ctx context.Context, now time.Time) (Report, error) {
	status, err := e.store.MarketStatus(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read market status: %w", err)
	}

	multiplier := 1.0
	if status.Crash {
		multiplier = e.cfg.CrashMultiplier
	}
	window := pricing.NewWindow(now, e.cfg.SalesWindow)

	report := Report{ID: uuid.NewString(), At: now, Crash: status.Crash}
	for _, category := range models.Categories {
		var cr CategoryReport
		err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
			var err error
			cr, err = e.tickCategory(ctx, tx, category, window, multiplier)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("tick failed for %s: %w", category, err)
		}
		report.Categories = append(report.Categories, cr)

		for _, v := range cr.Violations {
			logger.Error("Holding price of drink %d: %v", v.DrinkID, v.Err)
		}
		e.metrics.PriceUpdates(category, models.SourceTick, len(cr.Updates))
		e.metrics.BandViolations(category, len(cr.Violations))
		logger.Debug("Tick %s: %d units (%d while locked), %d updates",
			category, cr.Units, cr.LockedUnits, len(cr.Updates))
	}

	e.broadcast(ctx, now)
	return report, nil
}

func (e *Engine) tickCategory(ctx context.Context, tx *storage.Tx, category models.Category, window pricing.Window, multiplier float64) (CategoryReport, error) {
	cr := CategoryReport{Category: category}

	drinks, err := tx.CategoryDrinks(ctx, category)
	if err != nil {
		return cr, err
	}

	counts := make(map[int64]int, len(drinks))
	unlocked := make([]models.Drink, 0, len(drinks))
	for _, d := range drinks {
		sales, err := tx.SalesSince(ctx, d.ID, window.Start)
		if err != nil {
			return cr, err
		}
		a := pricing.Attribute(d.ID, sales, pricing.LockStateOf(d), window)
		cr.LockedUnits += a.Locked
		if d.Locked {
			// A drink locked now takes no part in the distribution at all.
			cr.LockedUnits += a.Unlocked
			continue
		}
		counts[d.ID] = a.Unlocked
		unlocked = append(unlocked, d)
	}

	dist := pricing.Aggregate(unlocked, counts)
	cr.Units = dist.Total
	if !dist.HasSignal() {
		cr.Skipped = SkipNoDemand
		return cr, nil
	}

	cr.Updates, cr.Violations = pricing.PlanTick(unlocked, dist, multiplier)
	if err := tx.SetPrices(ctx, cr.Updates); err != nil {
		return cr, err
	}
	return cr, e.recordHistory(ctx, tx, cr.Updates, window.End, models.SourceTick)
}

// Rebalance runs one drift-correction pass as of now. Crash mode suspends it.
func (e *Engine) Rebalance(ctx context.Context, now time.Time) (Report, error) {
	status, err := e.store.MarketStatus(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read market status: %w", err)
	}

	report := Report{ID: uuid.NewString(), At: now, Crash: status.Crash}
	if status.Crash {
		for _, category := range models.Categories {
			report.Categories = append(report.Categories, CategoryReport{Category: category, Skipped: SkipCrashMode})
		}
		logger.Debug("Rebalance suspended while crash mode is active")
		return report, nil
	}

	for _, category := range models.Categories {
		var cr CategoryReport
		err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
			var err error
			cr, err = e.rebalanceCategory(ctx, tx, category, now)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("rebalance failed for %s: %w", category, err)
		}
		report.Categories = append(report.Categories, cr)

		e.metrics.Drift(category, cr.Drift)
		e.metrics.PriceUpdates(category, models.SourceRebalance, len(cr.Updates))
		if cr.Skipped != "" {
			logger.Debug("Rebalance %s skipped (drift %s): %s", category, cr.Drift, cr.Skipped)
		} else {
			logger.Info("Rebalanced %s: drift %s over %d drinks", category, cr.Drift, len(cr.Deltas))
		}
		if cr.Unplaced != 0 {
			logger.Warn("Rebalance %s left %s unplaced: every unlocked drink is at its band edge", category, cr.Unplaced)
		}
	}

	if report.Changed() > 0 {
		e.broadcast(ctx, now)
	}
	return report, nil
}

func (e *Engine) rebalanceCategory(ctx context.Context, tx *storage.Tx, category models.Category, now time.Time) (CategoryReport, error) {
	cr := CategoryReport{Category: category}

	drinks, err := tx.CategoryDrinks(ctx, category)
	if err != nil {
		return cr, err
	}
	unlocked := make([]models.Drink, 0, len(drinks))
	before := make(map[int64]models.Cents, len(drinks))
	for _, d := range drinks {
		if !d.Locked {
			unlocked = append(unlocked, d)
			before[d.ID] = d.Price
		}
	}

	plan := pricing.PlanRebalance(unlocked, e.cfg.Rebalance)
	cr.Drift = plan.Drift()
	if plan.Skipped != "" {
		cr.Skipped = plan.Skipped
		return cr, nil
	}
	cr.Deltas = plan.Deltas
	cr.Unplaced = plan.Unplaced
	if err := tx.AdjustPrices(ctx, plan.Deltas); err != nil {
		return cr, err
	}

	// The store clamps each adjusted price into its band, so read back what
	// was actually written.
	after, err := tx.CategoryDrinks(ctx, category)
	if err != nil {
		return cr, err
	}
	for _, d := range after {
		old, ok := before[d.ID]
		if !ok || old == d.Price {
			continue
		}
		cr.Updates = append(cr.Updates, models.PriceUpdate{DrinkID: d.ID, OldPrice: old, NewPrice: d.Price})
	}
	return cr, e.recordHistory(ctx, tx, cr.Updates, now, models.SourceRebalance)
}

func (e *Engine) recordHistory(ctx context.Context, tx *storage.Tx, updates []models.PriceUpdate, at time.Time, source string) error {
	if len(updates) == 0 {
		return nil
	}
	points := make([]models.PricePoint, 0, len(updates))
	ids := make([]int64, 0, len(updates))
	for _, u := range updates {
		points = append(points, models.PricePoint{
			ID:      uuid.New().String(),
			DrinkID: u.DrinkID,
			Price:   u.NewPrice,
			At:      at,
			Source:  source,
		})
		ids = append(ids, u.DrinkID)
	}
	if err := tx.AddPricePoints(ctx, points); err != nil {
		return err
	}
	return tx.TrimHistory(ctx, ids, e.cfg.HistoryLimit)
}

// Board reads the committed state of the market.
func (e *Engine) Board(ctx context.Context, at time.Time) (models.Board, error) {
	drinks, err := e.store.ListDrinks(ctx)
	if err != nil {
		return models.Board{}, err
	}
	status, err := e.store.MarketStatus(ctx)
	if err != nil {
		return models.Board{}, err
	}
	return models.Board{Drinks: drinks, Crash: status.Crash, At: at}, nil
}

// Broadcast publishes the current board, for callers that changed the market
// outside a pass (manual prices, locks, crash toggles).
func (e *Engine) Broadcast(ctx context.Context, at time.Time) {
	e.broadcast(ctx, at)
}

func (e *Engine) broadcast(ctx context.Context, at time.Time) {
	if e.publisher == nil && e.metrics == nil {
		return
	}
	board, err := e.Board(ctx, at)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("Failed to read board for broadcast: %v", err)
		}
		return
	}
	e.metrics.Board(board)
	if e.publisher != nil {
		e.publisher.Publish(board)
	}
}
