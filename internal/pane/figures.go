package pane

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Figures are recomputed from the two raw prices every time a forecast is
// rendered or saved; they are never read back from a cache.
type Figures struct {
	Delta decimal.Decimal
	Pct   decimal.Decimal
}

// ComputeFigures returns delta = result - lastClose and pct = delta/lastClose*100.
// ok is false when lastClose is zero.
func ComputeFigures(lastClose, result float64) (Figures, bool) {
	last := decimal.NewFromFloat(lastClose)
	if last.IsZero() {
		return Figures{}, false
	}
	delta := decimal.NewFromFloat(result).Sub(last)
	return Figures{
		Delta: delta.Round(2),
		Pct:   delta.Div(last).Mul(hundred).Round(2),
	}, true
}

func (f Figures) Up() bool {
	return !f.Delta.IsNegative()
}

// Sign is "+" for non-negative moves; negative numbers carry their own minus.
func (f Figures) Sign() string {
	if f.Up() {
		return "+"
	}
	return ""
}

func (f Figures) DeltaText() string {
	return f.Delta.StringFixed(2)
}

func (f Figures) PctText() string {
	return f.Pct.StringFixed(2)
}
