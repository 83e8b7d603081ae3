package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/tapmarket/internal/metrics"
	"github.com/rewired-gh/tapmarket/internal/models"
	"github.com/rewired-gh/tapmarket/internal/pricing"
	"github.com/rewired-gh/tapmarket/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	boards []models.Board
}

func (p *recordingPublisher) Publish(board models.Board) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boards = append(p.boards, board)
}

func testConfig() Config {
	return Config{
		SalesWindow:     30 * time.Second,
		CrashMultiplier: 0.90,
		HistoryLimit:    1500,
		Rebalance: pricing.RebalanceConfig{
			Threshold:  5,
			MinPerItem: 1,
		},
	}
}

func mustStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open("sqlite", ":memory:", storage.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Bootstrap(context.Background(), storage.DefaultCatalog()))
	return s
}

func sell(t *testing.T, s *storage.Store, drinkID int64, qty int, at time.Time) {
	t.Helper()
	_, err := s.LogSale(context.Background(), models.Sale{DrinkID: drinkID, Qty: qty, At: at})
	require.NoError(t, err)
}

func prices(t *testing.T, s *storage.Store) map[int64]models.Cents {
	t.Helper()
	drinks, err := s.ListDrinks(context.Background())
	require.NoError(t, err)
	out := make(map[int64]models.Cents, len(drinks))
	for _, d := range drinks {
		out[d.ID] = d.Price
	}
	return out
}

func categoryReport(t *testing.T, r Report, c models.Category) CategoryReport {
	t.Helper()
	for _, cr := range r.Categories {
		if cr.Category == c {
			return cr
		}
	}
	t.Fatalf("no report for category %s", c)
	return CategoryReport{}
}

func TestTick_NoDemandLeavesPricesAlone(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	before := prices(t, s)

	report, err := e.Tick(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, before, prices(t, s))
	for _, cr := range report.Categories {
		assert.Equal(t, SkipNoDemand, cr.Skipped)
		assert.Empty(t, cr.Updates)
	}
}

func TestTick_DemandMovesPricesWithinCategory(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	now := time.Now()

	sell(t, s, 1, 10, now.Add(-5*time.Second))

	report, err := e.Tick(context.Background(), now)
	require.NoError(t, err)

	after := prices(t, s)
	// Pils takes all demand: 250 × (1 + 0.4 × (1 − 6/16)) = 312.5, step-capped at 275.
	assert.Equal(t, models.Cents(275), after[1])
	// Speciaalbier had none: 400 × (1 − 0.4 × 2/16) = 380.
	assert.Equal(t, models.Cents(380), after[2])

	// The other category saw no sales.
	for id := int64(8); id <= 12; id++ {
		d, err := s.GetDrink(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, d.BasePrice, d.Price, "drink %d", id)
	}

	alc := categoryReport(t, report, models.CategoryAlcoholic)
	assert.Equal(t, 10, alc.Units)
	assert.Len(t, alc.Updates, 7)
	assert.Equal(t, SkipNoDemand, categoryReport(t, report, models.CategoryNonAlcoholic).Skipped)

	history, err := s.PriceHistory(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SourceTick, history[0].Source)
	assert.Equal(t, models.Cents(275), history[0].Price)
}

func TestTick_SalesOutsideWindowIgnored(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	now := time.Now()

	sell(t, s, 1, 10, now.Add(-31*time.Second))

	_, err := e.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(250), prices(t, s)[1])
}

func TestTick_LockedDrinkNeverRepriced(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetLocked(ctx, 2, true, now.Add(-time.Minute))
	require.NoError(t, err)

	sell(t, s, 1, 5, now.Add(-3*time.Second))
	sell(t, s, 2, 50, now.Add(-2*time.Second))

	report, err := e.Tick(ctx, now)
	require.NoError(t, err)

	d, err := s.GetDrink(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Cents(400), d.Price)

	alc := categoryReport(t, report, models.CategoryAlcoholic)
	assert.Equal(t, 5, alc.Units)
	assert.Equal(t, 50, alc.LockedUnits)
	for _, u := range alc.Updates {
		assert.NotEqual(t, int64(2), u.DrinkID)
	}
}

func TestTick_SalesDuringLockedPeriodDoNotCount(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetLocked(ctx, 8, true, now.Add(-time.Minute))
	require.NoError(t, err)
	sell(t, s, 8, 5, now.Add(-20*time.Second))
	_, err = s.SetLocked(ctx, 8, false, now.Add(-10*time.Second))
	require.NoError(t, err)

	report, err := e.Tick(ctx, now)
	require.NoError(t, err)

	non := categoryReport(t, report, models.CategoryNonAlcoholic)
	assert.Equal(t, 0, non.Units)
	assert.Equal(t, 5, non.LockedUnits)
	assert.Equal(t, SkipNoDemand, non.Skipped)
	assert.Equal(t, models.Cents(220), prices(t, s)[8])
}

func TestTick_CrashModeLowersPrices(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetCrash(ctx, true, now.Add(-time.Minute))
	require.NoError(t, err)

	// Sales exactly proportional to expected popularity: only the crash
	// multiplier moves prices.
	for id, qty := range map[int64]int{1: 12, 2: 4, 3: 4, 4: 3, 5: 2, 6: 3, 7: 4} {
		sell(t, s, id, qty, now.Add(-time.Second))
	}

	report, err := e.Tick(ctx, now)
	require.NoError(t, err)
	assert.True(t, report.Crash)

	after := prices(t, s)
	assert.Equal(t, models.Cents(225), after[1])
	assert.Equal(t, models.Cents(360), after[2])
	assert.Equal(t, models.Cents(630), after[6])
	// Crash does not move a category without demand.
	assert.Equal(t, models.Cents(220), after[8])
}

func TestTick_BandAndStepInvariantsHold(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	drinks, err := s.ListDrinks(ctx)
	require.NoError(t, err)

	now := time.Now().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		now = now.Add(30 * time.Second)
		for n := rng.Intn(6); n > 0; n-- {
			d := drinks[rng.Intn(len(drinks))]
			sell(t, s, d.ID, 1+rng.Intn(4), now.Add(-time.Duration(rng.Intn(29))*time.Second))
		}
		if rng.Intn(10) == 0 {
			d := drinks[rng.Intn(len(drinks))]
			_, err := s.SetLocked(ctx, d.ID, rng.Intn(2) == 0, now.Add(-time.Second))
			require.NoError(t, err)
		}

		before, err := s.ListDrinks(ctx)
		require.NoError(t, err)
		_, err = e.Tick(ctx, now)
		require.NoError(t, err)
		after := prices(t, s)

		for _, d := range before {
			next := after[d.ID]
			assert.True(t, d.InBand(next), "tick %d: drink %d at %s outside band", i, d.ID, next)
			lo, hi := pricing.StepBounds(d.Price, d.DeltaMax)
			if next != d.Price {
				assert.False(t, d.Locked, "tick %d: locked drink %d repriced", i, d.ID)
				assert.GreaterOrEqual(t, int64(next), int64(lo))
				assert.LessOrEqual(t, int64(next), int64(hi))
			}
		}
	}
}

func TestRebalance_RestoresCategorySum(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetPrice(ctx, 1, 200, now)
	require.NoError(t, err)

	report, err := e.Rebalance(ctx, now.Add(time.Second))
	require.NoError(t, err)

	alc := categoryReport(t, report, models.CategoryAlcoholic)
	assert.Equal(t, models.Cents(50), alc.Drift)
	assert.Empty(t, alc.Skipped)
	require.Len(t, alc.Deltas, 7)
	// 50 over 7 drinks: the lowest id takes the remainder.
	assert.Equal(t, models.Cents(8), alc.Deltas[0].Delta)

	drinks, err := s.ListDrinks(ctx)
	require.NoError(t, err)
	var sum, base models.Cents
	for _, d := range drinks {
		if d.Category == models.CategoryAlcoholic {
			sum += d.Price
			base += d.BasePrice
		}
	}
	assert.Equal(t, base, sum)
	assert.Equal(t, pricing.SkipBelowDrift, categoryReport(t, report, models.CategoryNonAlcoholic).Skipped)

	history, err := s.PriceHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.SourceRebalance, history[1].Source)
	assert.Equal(t, models.Cents(208), history[1].Price)
}

func TestRebalance_SkipsLockedDrinks(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetPrice(ctx, 2, 300, now)
	require.NoError(t, err)
	_, err = s.SetLocked(ctx, 2, true, now)
	require.NoError(t, err)
	_, err = s.SetPrice(ctx, 1, 200, now)
	require.NoError(t, err)

	_, err = e.Rebalance(ctx, now)
	require.NoError(t, err)

	drinks, err := s.ListDrinks(ctx)
	require.NoError(t, err)
	var sum, base models.Cents
	for _, d := range drinks {
		if d.ID == 2 {
			assert.Equal(t, models.Cents(300), d.Price)
			continue
		}
		if d.Category == models.CategoryAlcoholic {
			sum += d.Price
			base += d.BasePrice
		}
	}
	assert.Equal(t, base, sum)
}

func TestRebalance_RespreadsShareBlockedByBand(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	// Alcoholvrij bier sits 5 cents under its ceiling of 380.
	for id, price := range map[int64]models.Cents{8: 150, 9: 150, 10: 140, 11: 150, 12: 375} {
		_, err := s.SetPrice(ctx, id, price, now)
		require.NoError(t, err)
	}

	report, err := e.Rebalance(ctx, now.Add(time.Second))
	require.NoError(t, err)

	cr := categoryReport(t, report, models.CategoryNonAlcoholic)
	assert.Equal(t, models.Cents(145), cr.Drift)
	assert.Zero(t, cr.Unplaced)

	after := prices(t, s)
	assert.Equal(t, models.Cents(380), after[12])
	assert.Equal(t, models.Cents(185), after[8])
	assert.Equal(t, models.Cents(175), after[10])

	drinks, err := s.ListDrinks(ctx)
	require.NoError(t, err)
	var sum, base models.Cents
	for _, d := range drinks {
		if d.Category == models.CategoryNonAlcoholic {
			sum += d.Price
			base += d.BasePrice
		}
	}
	assert.Equal(t, base, sum)
}

func TestRebalance_SuspendedDuringCrash(t *testing.T) {
	s := mustStore(t)
	e := New(s, testConfig())
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetPrice(ctx, 1, 200, now)
	require.NoError(t, err)
	_, err = s.SetCrash(ctx, true, now)
	require.NoError(t, err)

	report, err := e.Rebalance(ctx, now)
	require.NoError(t, err)
	for _, cr := range report.Categories {
		assert.Equal(t, SkipCrashMode, cr.Skipped)
	}
	assert.Equal(t, models.Cents(200), prices(t, s)[1])
}

func TestEngine_PublishesBoard(t *testing.T) {
	s := mustStore(t)
	pub := &recordingPublisher{}
	e := New(s, testConfig(), WithPublisher(pub), WithMetrics(metrics.New()))
	now := time.Now()

	sell(t, s, 1, 3, now.Add(-time.Second))
	_, err := e.Tick(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, pub.boards, 1)
	board := pub.boards[0]
	assert.Len(t, board.Drinks, len(storage.DefaultCatalog()))
	assert.True(t, board.At.Equal(now))
	assert.Equal(t, models.Cents(275), board.Drinks[0].Price)

	e.Broadcast(context.Background(), now)
	assert.Len(t, pub.boards, 2)
}
