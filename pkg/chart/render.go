package chart

import (
	"errors"
	"fmt"
	"io"

	"github.com/vjranagit/bouncedash/pkg/types"
	gochart "github.com/wcharczuk/go-chart/v2"
)

// ErrNoData is returned when there is nothing to draw
var ErrNoData = errors.New("no chart data")

const (
	// Legend names shown for the two series
	TrueSeriesName      = "true"
	PredictedSeriesName = "bounce-predict"

	maxTicks = 12
)

// Renderer draws chart descriptions as PNG images
type Renderer struct {
	Title  string
	Width  int
	Height int
}

// NewRenderer creates a renderer with the dashboard defaults
func NewRenderer() *Renderer {
	return &Renderer{
		Title:  "Observed vs. predicted bounce instances",
		Width:  1024,
		Height: 480,
	}
}

// RenderPNG writes desc to w as a PNG
func (r *Renderer) RenderPNG(desc *types.ChartDescription, w io.Writer) error {
	if desc == nil || len(desc.Categories) == 0 {
		return ErrNoData
	}
	if len(desc.Series.True) != len(desc.Categories) || len(desc.Series.Predicted) != len(desc.Categories) {
		return fmt.Errorf("series length mismatch: categories=%d true=%d predicted=%d",
			len(desc.Categories), len(desc.Series.True), len(desc.Series.Predicted))
	}

	xs := make([]float64, len(desc.Categories))
	for i := range xs {
		xs[i] = float64(i)
	}
	trueYs := desc.Series.True
	predYs := desc.Series.Predicted

	// go-chart cannot draw a zero-width range; widen a single point
	if len(xs) == 1 {
		xs = []float64{0, 1}
		trueYs = []float64{trueYs[0], trueYs[0]}
		predYs = []float64{predYs[0], predYs[0]}
	}

	ch := gochart.Chart{
		Title:  r.Title,
		Width:  r.Width,
		Height: r.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 16, Right: 16, Bottom: 48},
		},
		XAxis: gochart.XAxis{
			Ticks: categoryTicks(desc.Categories),
		},
		YAxis: gochart.YAxis{
			Name: "instances",
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Name:    TrueSeriesName,
				XValues: xs,
				YValues: trueYs,
				Style: gochart.Style{
					StrokeColor: gochart.ColorBlue,
					FillColor:   gochart.ColorBlue.WithAlpha(64),
				},
			},
			gochart.ContinuousSeries{
				Name:    PredictedSeriesName,
				XValues: xs,
				YValues: predYs,
				Style: gochart.Style{
					StrokeColor: gochart.ColorGreen,
					FillColor:   gochart.ColorGreen.WithAlpha(64),
				},
			},
		},
	}
	ch.Elements = []gochart.Renderable{gochart.Legend(&ch)}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// categoryTicks labels at most maxTicks evenly spaced categories
func categoryTicks(categories []string) []gochart.Tick {
	step := 1
	if len(categories) > maxTicks {
		step = (len(categories) + maxTicks - 1) / maxTicks
	}

	ticks := make([]gochart.Tick, 0, maxTicks+1)
	for i := 0; i < len(categories); i += step {
		ticks = append(ticks, gochart.Tick{Value: float64(i), Label: categories[i]})
	}
	return ticks
}
