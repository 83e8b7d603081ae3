package pricing

import "github.com/rewired-gh/tapmarket/internal/models"

// Share is one drink's position in its category's demand distribution.
type Share struct {
	Realized float64
	Expected float64
}

// Distribution is the demand picture of one category for one tick.
type Distribution struct {
	Total  int // unlocked units across the category
	Shares map[int64]Share
}

// HasSignal reports whether the category saw any attributable demand.
// Without signal the tick leaves every price in the category alone.
func (d Distribution) HasSignal() bool {
	return d.Total > 0
}

// Aggregate computes realized and expected shares over unlocked, which must
// contain only the unlocked drinks of a single category. counts holds the
// unlocked-attributed units per drink id; missing ids count as zero.
func Aggregate(unlocked []models.Drink, counts map[int64]int) Distribution {
	dist := Distribution{Shares: make(map[int64]Share, len(unlocked))}

	var sumExpected float64
	for _, d := range unlocked {
		dist.Total += counts[d.ID]
		sumExpected += d.ExpectedPopularity
	}
	if sumExpected == 0 {
		sumExpected = 1
	}

	for _, d := range unlocked {
		var realized float64
		if dist.Total > 0 {
			realized = float64(counts[d.ID]) / float64(dist.Total)
		}
		dist.Shares[d.ID] = Share{
			Realized: realized,
			Expected: d.ExpectedPopularity / sumExpected,
		}
	}
	return dist
}
