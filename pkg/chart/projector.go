// Package chart projects series pairs into renderer-agnostic chart
// descriptions and renders them.
package chart

import "github.com/vjranagit/bouncedash/pkg/types"

// Project repackages a series pair for plotting. A nil pair means no chart
// yet and projects to nil; an empty pair projects to an empty chart.
func Project(pair *types.SeriesPair) *types.ChartDescription {
	if pair == nil {
		return nil
	}

	return &types.ChartDescription{
		Categories: clone(pair.Timestamps),
		Series: types.ChartSeries{
			True:      clone(pair.TrueValues),
			Predicted: clone(pair.PredictedValues),
		},
	}
}

func clone[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}
