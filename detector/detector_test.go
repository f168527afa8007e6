package detector

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_DropBeyondThreshold(t *testing.T) {
	d, ok := Evaluate(80000, 60000, 20)
	require.True(t, ok)
	assert.Equal(t, 80000.0, d.OldPrice)
	assert.Equal(t, 60000.0, d.NewPrice)
	assert.Equal(t, -25.0, d.Rounded())
}

func TestEvaluate_BoundaryIsInclusive(t *testing.T) {
	d, ok := Evaluate(100, 80, 20)
	require.True(t, ok)
	assert.Equal(t, -20.0, d.PercentChange)
}

func TestEvaluate_UsesUnroundedValue(t *testing.T) {
	// -19.96% rounds to -20.0 for display but must not alert at 20
	_, ok := Evaluate(10000, 8004, 20)
	assert.False(t, ok)
	assert.Equal(t, -20.0, Round1(PercentChange(10000, 8004)))
}

func TestEvaluate_RiseOrSmallDrop(t *testing.T) {
	_, ok := Evaluate(60000, 65000, 20)
	assert.False(t, ok)
	assert.Equal(t, 8.3, Round1(PercentChange(60000, 65000)))

	_, ok = Evaluate(100, 95, 20)
	assert.False(t, ok)
}

func TestEvaluate_NoBaseline(t *testing.T) {
	for _, old := range []float64{0, -1, -500} {
		_, ok := Evaluate(old, 1, 20)
		assert.False(t, ok, "old price %v", old)
	}
}

func TestEvaluate_MatchesFormula(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		old := r.Float64()*100000 + 0.01
		newPrice := r.Float64()*100000 + 0.01
		threshold := r.Float64()*90 + 1

		_, ok := Evaluate(old, newPrice, threshold)
		want := (newPrice-old)/old*100 <= -threshold+epsilon
		require.Equal(t, want, ok, "old=%v new=%v threshold=%v", old, newPrice, threshold)
	}
}

func TestEvaluate_ExactThresholdOnDecimalPrices(t *testing.T) {
	tests := []struct {
		old, new float64
	}{
		{5.05, 4.04},
		{5.10, 4.08},
		{1299.95, 1039.96},
		{80000, 64000},
		{19.99, 15.992},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v->%v", tt.old, tt.new), func(t *testing.T) {
			d, ok := Evaluate(tt.old, tt.new, 20)
			require.True(t, ok, "pct=%v", PercentChange(tt.old, tt.new))
			assert.Equal(t, -20.0, d.Rounded())
		})
	}
}

func TestEvaluate_NaNNeverAlerts(t *testing.T) {
	nan := math.NaN()

	_, ok := Evaluate(100, 150, nan)
	assert.False(t, ok, "rise with NaN threshold")
	_, ok = Evaluate(100, 10, nan)
	assert.False(t, ok, "drop with NaN threshold")
	_, ok = Evaluate(nan, 10, 20)
	assert.False(t, ok)
	_, ok = Evaluate(100, nan, 20)
	assert.False(t, ok)
}
