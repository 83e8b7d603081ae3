package models

import (
	"fmt"
	"math"
)

// Cents is an amount of money in minor currency units.
type Cents int64

// CentsFromFloat converts a decimal amount (2.35) to cents, rounding half away from zero.
func CentsFromFloat(f float64) Cents {
	return Cents(math.Round(f * 100))
}

// Float returns the decimal mirror of c, used for display and the price column.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
