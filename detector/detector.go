// Package detector decides whether a price movement is a drop worth alerting on.
package detector

import "math"

// epsilon absorbs float error so an exact threshold drop on decimal
// prices (5.05 -> 4.04) still counts as reaching the threshold.
const epsilon = 1e-9

// Draft is an alert candidate. PercentChange is unrounded.
type Draft struct {
	OldPrice      float64
	NewPrice      float64
	PercentChange float64
}

// Rounded returns the percentage rounded to one decimal place for display.
func (d Draft) Rounded() float64 {
	return Round1(d.PercentChange)
}

// PercentChange returns (newPrice-oldPrice)/oldPrice*100.
func PercentChange(oldPrice, newPrice float64) float64 {
	return (newPrice - oldPrice) / oldPrice * 100
}

// Evaluate returns a draft iff the change is at or below -threshold.
// A non-positive oldPrice is no baseline and never alerts, and neither does
// a NaN anywhere in the inputs.
func Evaluate(oldPrice, newPrice, threshold float64) (Draft, bool) {
	if !(oldPrice > 0) {
		return Draft{}, false
	}

	pct := PercentChange(oldPrice, newPrice)
	if !(pct <= -threshold+epsilon) {
		return Draft{}, false
	}

	return Draft{
		OldPrice:      oldPrice,
		NewPrice:      newPrice,
		PercentChange: pct,
	}, true
}

func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
