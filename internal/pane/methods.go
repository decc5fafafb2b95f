package pane

import "strings"

// PlusMethods are the computations a TWIN+ forecast can be switched between.
var PlusMethods = []string{"light_ml_v1", "linear_trend", "mean_reversion", "gbm"}

var methodAcronyms = map[string]string{
	"ema": "EMA",
	"dma": "DMA",
	"ma":  "MA",
	"ml":  "ML",
	"gbm": "GBM",
	"v1":  "v1",
}

// PrettyMethodName turns "ema_drift" into "EMA Drift".
func PrettyMethodName(method string) string {
	if method == "" {
		return ""
	}
	words := strings.Split(method, "_")
	for i, w := range words {
		if acronym, ok := methodAcronyms[strings.ToLower(w)]; ok {
			words[i] = acronym
			continue
		}
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
