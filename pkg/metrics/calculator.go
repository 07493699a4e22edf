// Package metrics reduces a series pair into the adequacy and savings rates.
package metrics

import (
	"math"
	"strconv"

	"github.com/vjranagit/bouncedash/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// Compute derives the summary metrics for pair against a static
// provisioning baseline. An empty pair yields zero for both rates.
func Compute(pair *types.SeriesPair, capacityBaseline float64) types.Metrics {
	n := pair.Len()
	if n == 0 {
		return types.Metrics{}
	}

	return types.Metrics{
		AdequacyRate: AdequacyRate(pair.TrueValues, pair.PredictedValues),
		SavingsRate:  SavingsRate(pair.PredictedValues, capacityBaseline),
	}
}

// AdequacyRate is the percentage of buckets where predicted >= observed
func AdequacyRate(observed, predicted []float64) float64 {
	n := len(predicted)
	if n == 0 || len(observed) != n {
		return 0
	}

	covered := 0
	for i := range predicted {
		if predicted[i] >= observed[i] {
			covered++
		}
	}

	return round2(float64(covered) / float64(n))
}

// SavingsRate is the reduction of mean predicted capacity relative to the
// baseline. It goes negative when predictions exceed the baseline.
func SavingsRate(predicted []float64, capacityBaseline float64) float64 {
	if len(predicted) == 0 || capacityBaseline <= 0 {
		return 0
	}

	mean := floats.Sum(predicted) / float64(len(predicted))
	return round2(1 - mean/capacityBaseline)
}

// round2 turns a ratio into a percentage with two decimals
func round2(ratio float64) float64 {
	return math.Round(10000*ratio) / 100
}

// FormatPercent renders a rate for the metric display, e.g. "66.67%"
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
