package pane

import (
	"fmt"

	"twin-chat/internal/forecast"
)

// Explain is the content of a turn's explain panel. It is computed from the
// payload already on hand; no network call is made.
type Explain struct {
	Mode       string
	Title      string
	Paragraphs []string
	Bullets    []string
	Steps      []string
	Metrics    []Metric
	Plain      []string
	Decision   string
}

type Metric struct {
	Label string
	Value string
}

func BuildExplain(r *forecast.Response) Explain {
	if r == nil {
		return Explain{}
	}
	if r.Diagnostics != nil {
		return plusExplain(r)
	}
	if r.Result == nil || r.Mode == "price_only" {
		return Explain{
			Mode: "price_only",
			Paragraphs: []string{
				fmt.Sprintf("What you're seeing: latest closing price for %s.", r.Stock),
				fmt.Sprintf("Why no forecast? No timeframe provided. Try “%s in 3 days”.", r.Stock),
			},
		}
	}

	ex := Explain{Mode: "forecast", Title: "What is TWIN- doing?"}
	request := r.Stock
	if r.Duration != "" {
		request += " in " + r.Duration
	}
	ex.Paragraphs = append(ex.Paragraphs, fmt.Sprintf("Your request: “%s”.", request))
	if fig, ok := ComputeFigures(r.LastClose, *r.Result); ok {
		dir := "up"
		if !fig.Up() {
			dir = "down"
		}
		ex.Paragraphs = append(ex.Paragraphs, fmt.Sprintf(
			"Result: we project $%.2f, %s from last close by $%s (%s%%).",
			*r.Result, dir, fig.Delta.Abs().StringFixed(2), fig.PctText()))
	}
	ex.Bullets = []string{
		fmt.Sprintf("Operation: the %s formula weighs recent closes.", PrettyMethodName(r.Method)),
		fmt.Sprintf("Measure drift: it estimates the average daily move (%.4f per day) from recent market data.", r.DriftPerDay),
		"Projection: it extends that drift across your chosen period and returns a prediction.",
	}
	if r.Backtest != nil {
		ex.Bullets = append(ex.Bullets, fmt.Sprintf("Recent average error ≈ $%.2f.", r.Backtest.MAE))
	}
	return ex
}

func plusExplain(r *forecast.Response) Explain {
	d := r.Diagnostics
	breakout := "range"
	if d.Breakout {
		breakout = "BREAKOUT"
	}
	if d.DonchianLow != nil && d.DonchianHigh != nil {
		breakout += fmt.Sprintf(" (range %.2f–%.2f)", *d.DonchianLow, *d.DonchianHigh)
	}
	targetVol := d.TargetVol
	if targetVol == 0 {
		targetVol = 0.20
	}

	return Explain{
		Mode:  "plus",
		Title: "What does TWIN+ check?",
		Steps: []string{
			"Overall direction: up or down vs. last year?",
			"Trend lines: are the 50-day and 200-day lines pointing up?",
			"New high test: is today above the past 50-day high (strong) or still inside that range (undecided)?",
			"Choppiness: how jumpy the stock could be.",
			"Right-sizing: a suggested position size so risk stays steady.",
		},
		Metrics: []Metric{
			{Label: "12m momentum", Value: fmt.Sprintf("%.2f%%", d.Momentum12m*100)},
			{Label: "50/200 DMA slope", Value: fmt.Sprintf("%.4f / %.4f", d.DMA50Slope, d.DMA200Slope)},
			{Label: "Donchian 50", Value: breakout},
			{Label: "Annualized vol (HAR-RV)", Value: percentOrNA(d.AnnVolForecast, 1)},
			{Label: fmt.Sprintf("Position size @ %.0f%% target vol", targetVol*100), Value: percentOrNA(d.PositionSize, 0)},
		},
		Plain: []string{
			"Direction: are we higher or lower than roughly a year ago?",
			"Trend: are the 50-day and 200-day averages pointing up or down?",
			"New highs check (50-day): is today above the recent 50-day high (strong), in the range (undecided), or near the low (weak)?",
			"Volatility: how much the price tends to swing.",
			"Position size: a suggested size to keep risk around a steady level.",
		},
		Decision: r.Decision,
	}
}

func percentOrNA(v *float64, places int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.*f%%", places, *v*100)
}
