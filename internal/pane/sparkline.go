package pane

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws closes as a row of block characters.
func Sparkline(closes []float64) string {
	if len(closes) == 0 {
		return ""
	}
	lo, hi := closes[0], closes[0]
	for _, c := range closes {
		lo = min(lo, c)
		hi = max(hi, c)
	}
	out := make([]rune, len(closes))
	span := hi - lo
	for i, c := range closes {
		idx := 0
		if span > 0 {
			idx = int((c - lo) * float64(len(sparkBlocks)-1) / span)
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}
