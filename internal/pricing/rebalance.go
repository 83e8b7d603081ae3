package pricing

import (
	"sort"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// Apportion splits amount (>= 0) into n integer parts using largest
// remainder: every part gets amount/n and the first amount%n parts get one
// more. The parts always sum to amount.
func Apportion(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	if amount < 0 {
		amount = 0
	}
	base := amount / int64(n)
	rem := int(amount % int64(n))
	parts := make([]int64, n)
	for i := range parts {
		parts[i] = base
		if i < rem {
			parts[i]++
		}
	}
	return parts
}

// RebalanceConfig holds the significance thresholds of the rebalancer.
type RebalanceConfig struct {
	// Threshold is the largest category drift left uncorrected.
	Threshold models.Cents
	// MinPerItem skips corrections whose per-drink share would be smaller.
	MinPerItem models.Cents
}

// Skip reasons reported by PlanRebalance.
const (
	SkipNoDrinks   = "no unlocked drinks"
	SkipBelowDrift = "drift within threshold"
	SkipPerItem    = "per-drink correction below significance"
)

// RebalancePlan describes the correction for one category.
type RebalancePlan struct {
	Baseline models.Cents // Σ base price over unlocked drinks
	Current  models.Cents // Σ price over the same drinks
	Deltas   []models.PriceDelta
	Skipped  string // empty when Deltas should be applied
	// Unplaced is the signed part of the drift no drink could absorb because
	// every one of them reached its band edge.
	Unplaced models.Cents
}

// Drift is Baseline − Current: positive when prices sit below their anchors.
func (p RebalancePlan) Drift() models.Cents {
	return p.Baseline - p.Current
}

// PlanRebalance computes the correction that brings the summed price of the
// unlocked drinks of one category back to their summed base price. Drinks are
// visited in ascending id order, so the remainder units land on the lowest ids.
// A drink is never pushed past its band; its unused share goes to the others.
func PlanRebalance(unlocked []models.Drink, cfg RebalanceConfig) RebalancePlan {
	drinks := make([]models.Drink, 0, len(unlocked))
	for _, d := range unlocked {
		if !d.Locked {
			drinks = append(drinks, d)
		}
	}
	sort.Slice(drinks, func(i, j int) bool { return drinks[i].ID < drinks[j].ID })

	var plan RebalancePlan
	for _, d := range drinks {
		plan.Baseline += d.BasePrice
		plan.Current += d.Price
	}

	n := len(drinks)
	if n == 0 {
		plan.Skipped = SkipNoDrinks
		return plan
	}

	drift := int64(plan.Drift())
	magnitude := drift
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude == 0 || magnitude <= int64(cfg.Threshold) {
		plan.Skipped = SkipBelowDrift
		return plan
	}
	if float64(magnitude)/float64(n) < float64(cfg.MinPerItem) {
		plan.Skipped = SkipPerItem
		return plan
	}

	sign := int64(1)
	if drift < 0 {
		sign = -1
	}
	given := spreadWithinBands(drinks, magnitude, sign)
	for i, part := range given {
		if part == 0 {
			continue
		}
		plan.Deltas = append(plan.Deltas, models.PriceDelta{
			DrinkID: drinks[i].ID,
			Delta:   models.Cents(sign * part),
		})
		magnitude -= part
	}
	plan.Unplaced = models.Cents(sign * magnitude)
	return plan
}

// spreadWithinBands apportions magnitude over drinks, never moving a drink
// past its band edge in the direction of sign. Whatever a saturated drink
// cannot take is apportioned again over the drinks that still have room.
func spreadWithinBands(drinks []models.Drink, magnitude, sign int64) []int64 {
	room := make([]int64, len(drinks))
	for i, d := range drinks {
		if sign > 0 {
			room[i] = int64(d.MaxPrice - d.Price)
		} else {
			room[i] = int64(d.Price - d.MinPrice)
		}
		if room[i] < 0 {
			room[i] = 0
		}
	}

	given := make([]int64, len(drinks))
	remaining := magnitude
	for remaining > 0 {
		var open []int
		for i := range drinks {
			if given[i] < room[i] {
				open = append(open, i)
			}
		}
		if len(open) == 0 {
			break
		}
		placed := int64(0)
		for k, part := range Apportion(remaining, len(open)) {
			i := open[k]
			if free := room[i] - given[i]; part > free {
				part = free
			}
			given[i] += part
			placed += part
		}
		if placed == 0 {
			break
		}
		remaining -= placed
	}
	return given
}
