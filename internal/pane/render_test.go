package pane

import (
	"strings"
	"testing"

	"twin-chat/internal/forecast"
)

func forecastTurn(last, result float64, method string) *Turn {
	return &Turn{
		ID:      "turn-1",
		Prompt:  "Apple in 3 days",
		Variant: VariantForecast,
		Payload: &forecast.Response{
			Stock:       "AAPL",
			Duration:    "3 days",
			LastClose:   last,
			Result:      ptr(result),
			Method:      method,
			DriftPerDay: 0.0123,
		},
	}
}

func TestRenderForecastFigures(t *testing.T) {
	html, err := Render(forecastTurn(100, 110, "ema_drift"), BasicConfig(), RenderOptions{LoggedIn: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{
		`data-turn-id="turn-1"`,
		`<div class="user">Apple in 3 days?</div>`,
		"AAPL in 3 days",
		"$100.00",
		"$110.00",
		"(+10.00 | +10.00%)",
		"Method: EMA Drift",
		"TWIN+",
		"star-save-btn",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected rendered turn to contain %q\n%s", want, html)
		}
	}
	if strings.Contains(html, `data-action="method"`) {
		t.Error("Expected basic pane to show no method switcher")
	}
}

func TestRenderStarRequiresLogin(t *testing.T) {
	html, err := Render(forecastTurn(100, 110, "ema_drift"), BasicConfig(), RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(html, "star-save-btn") {
		t.Error("Expected no save control for a guest")
	}

	html, _ = Render(forecastTurn(0, 0, "ema_drift"), BasicConfig(), RenderOptions{LoggedIn: true})
	if strings.Contains(html, "star-save-btn") {
		t.Error("Expected no save control when prices are zero")
	}
}

func TestRenderPlusMethodMenu(t *testing.T) {
	turn := forecastTurn(100, 95, "linear_trend")
	turn.MenuOpen = true
	html, err := Render(turn, PlusConfig(), RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, m := range PlusMethods {
		if !strings.Contains(html, `data-method="`+m+`"`) {
			t.Errorf("Expected method button for %s", m)
		}
	}
	if !strings.Contains(html, `class="down"`) {
		t.Error("Expected a downward change to be marked down")
	}
	if !strings.Contains(html, `data-action="flip"`) {
		t.Error("Expected a TWIN* flip control on the plus pane")
	}
}

func TestRenderSuggestions(t *testing.T) {
	turn := &Turn{
		ID:          "turn-2",
		Prompt:      "Appl in 3 days",
		Variant:     VariantSuggestions,
		ErrorText:   "no ticker",
		Suggestions: []forecast.Suggestion{{Symbol: "AAPL", Name: "Apple Inc.", Echo: "Apple in 3 days"}},
	}
	html, err := Render(turn, BasicConfig(), RenderOptions{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(html, `data-symbol="AAPL"`) || !strings.Contains(html, `data-action="retry"`) {
		t.Errorf("Expected suggestion chip and retry control\n%s", html)
	}
}

func TestRenderStaleOffersReloadOnly(t *testing.T) {
	turn := &Turn{
		ID:      "turn-3",
		Prompt:  "Apple in 3 days",
		Variant: VariantStale,
		Markup:  `<div class="user">Apple in 3 days?</div><div class="bot">old reply</div>`,
	}
	html, err := Render(turn, PlusConfig(), RenderOptions{LoggedIn: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(html, "old reply") || !strings.Contains(html, `data-action="reload"`) {
		t.Errorf("Expected restored markup with a reload control\n%s", html)
	}
	for _, gone := range []string{`data-action="explain"`, `data-action="method"`, "star-save-btn"} {
		if strings.Contains(html, gone) {
			t.Errorf("Expected stale turn to omit %s", gone)
		}
	}
}

func TestRenderEscapesPrompt(t *testing.T) {
	turn := &Turn{ID: "t", Prompt: `<script>alert(1)</script>`, Variant: VariantError, ErrorText: "Request failed"}
	html, _ := Render(turn, BasicConfig(), RenderOptions{})
	if strings.Contains(html, "<script>") {
		t.Error("Expected prompt to be escaped")
	}
}
