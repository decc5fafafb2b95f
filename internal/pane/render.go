package pane

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"twin-chat/internal/forecast"
)

// RenderOptions carries the session facts that change what a turn shows.
type RenderOptions struct {
	LoggedIn bool
}

type methodView struct {
	ID     string
	Label  string
	Active bool
}

type figureView struct {
	Dir   string
	Sign  string
	Delta string
	Pct   string
}

type turnView struct {
	ID       string
	Pane     ID
	Variant  Variant
	UserLine string

	Title     string
	LastClose string
	Forecast  string
	Figures   *figureView
	Message   string
	Backtest  string
	Summary   string
	Sparkline string

	MethodLabel string
	Methods     []methodView
	MenuOpen    bool

	ShowStar bool
	Saved    bool
	SavedID  string

	Explain      Explain
	ExplainOpen  bool
	ExplainPlain bool
	Handoff      string

	Flip        bool
	Flipped     bool
	StarText    string
	StarFigures *figureView
	StarLast    string
	StarResult  string
	StarMethod  string

	Suggestions []forecast.Suggestion
	ErrorText   string
	Notice      string
	Restored    template.HTML
}

var turnTemplate = template.Must(template.New("turn").Parse(`<div class="turn" data-turn-id="{{.ID}}" data-pane="{{.Pane}}" data-variant="{{.Variant}}">
{{- if .UserLine}}<div class="user">{{.UserLine}}</div>{{end -}}
{{- if eq .Variant "stale"}}{{template "stale" .}}
{{- else if eq .Variant "loading"}}<div class="bot loading"><span class="dots">…</span></div>
{{- else if eq .Variant "notice"}}<div class="bot"><div class="title">Need a timeframe</div><div class="muted">{{.Notice}}</div></div>
{{- else if eq .Variant "error-with-suggestions"}}{{template "suggestions" .}}
{{- else if eq .Variant "error-plain"}}<div class="bot"><div class="muted">{{.ErrorText}}</div></div>
{{- else if eq .Variant "price-only"}}{{template "price" .}}
{{- else if .Flip}}{{template "flipcard" .}}
{{- else}}<div class="bot">{{template "forecast" .}}</div>
{{- end}}</div>
{{- define "star"}}{{if .ShowStar}}<button class="action-btn star-save-btn" type="button" data-action="star" data-pred-id="{{.SavedID}}" aria-pressed="{{.Saved}}" title="{{if .Saved}}Prediction saved{{else}}Save this prediction{{end}}"><i class="{{if .Saved}}fas{{else}}far{{end}} fa-star"></i></button>{{end}}{{end}}
{{- define "explain"}}<div class="explain{{if not .ExplainOpen}} hidden{{end}}">{{if .ExplainOpen}}{{with .Explain}}<div class="explain-body">
{{- if eq .Mode "plus"}}
<div class="explain-pro"{{if $.ExplainPlain}} hidden aria-hidden="true"{{end}}><h4 class="explain-title">{{.Title}}</h4><ol class="steps">{{range .Steps}}<li>{{.}}</li>{{end}}</ol><h4 class="explain-title">Technical Details</h4><ul class="metrics-list">{{range .Metrics}}<li><strong>{{.Label}}:</strong> {{.Value}}</li>{{end}}</ul><div class="explain-actions"><button class="xlate" type="button" data-action="translate" aria-expanded="false">Translate</button></div>{{if .Decision}}<div class="explain-decision small muted">Summary: {{.Decision}}</div>{{end}}</div>
<div class="explain-friendly"{{if not $.ExplainPlain}} hidden aria-hidden="true"{{end}}><h4 class="explain-title">TWIN+ (Simplified)</h4><ul class="bullets">{{range .Plain}}<li>{{.}}</li>{{end}}</ul><div class="explain-actions"><button class="xlate" type="button" data-action="translate" aria-expanded="true">Back to metrics</button></div>{{if .Decision}}<div class="explain-tiny muted">What this means: {{.Decision}}</div>{{end}}</div>
{{- else}}{{if .Title}}<h4 class="explain-title">{{.Title}}</h4>{{end}}{{range .Paragraphs}}<p>{{.}}</p>{{end}}{{if .Bullets}}<ul class="bullets">{{range .Bullets}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{- end}}</div>{{end}}{{end}}</div>{{end}}
{{- define "figures"}}<span class="{{.Dir}}">({{.Sign}}{{.Delta}} | {{.Sign}}{{.Pct}}%)</span>{{end}}
{{- define "price"}}<div class="bot"><div class="title">{{.Title}}</div><div>Current (last close): <strong>${{.LastClose}}</strong></div><div class="muted">{{.Message}}</div><div class="sparkline" data-ticker="{{.Sparkline}}"></div><div class="btnrow"><button class="action-btn explain-btn" type="button" data-action="explain" aria-expanded="{{.ExplainOpen}}">Explain</button><button class="action-btn handoff-btn" type="button" data-action="handoff">{{.Handoff}}</button></div>{{template "explain" .}}</div>{{end}}
{{- define "forecast"}}{{template "star" .}}<div class="title">{{.Title}}</div><div>Last close: <strong>${{.LastClose}}</strong></div>
{{- if .Forecast}}<div>Forecasted price: <strong>${{.Forecast}}</strong> {{with .Figures}}{{template "figures" .}}{{end}}</div>{{end}}
{{- if .Methods}}<div class="method-row"><span class="method-toggle" role="button" data-action="menu" aria-expanded="{{.MenuOpen}}" title="Change equation">{{.MethodLabel}} {{if .MenuOpen}}▴{{else}}▾{{end}}</span><div class="method-menu{{if not .MenuOpen}} hidden{{end}}">{{range .Methods}}<button class="method-btn{{if .Active}} active{{end}}" type="button" data-action="method" data-method="{{.ID}}" title="Switch to {{.Label}}">{{.Label}}</button>{{end}}</div></div>
{{- else if .MethodLabel}}<div class="method-row"><span class="muted">{{.MethodLabel}}</span></div>{{end}}
{{- if .Summary}}<div class="plus-summary muted">{{.Summary}}</div>{{end}}<div class="sparkline" data-ticker="{{.Sparkline}}"></div><div class="btnrow"><button class="action-btn explain-btn" type="button" data-action="explain" aria-expanded="{{.ExplainOpen}}">Explain</button>{{if .Flip}}<button class="action-btn star-btn" type="button" data-action="flip" title="Switch to TWIN* (heavy ML)" aria-label="Switch to TWIN* model">TWIN*</button>{{else}}<button class="action-btn handoff-btn" type="button" data-action="handoff">{{.Handoff}}</button>{{end}}</div>
{{- if .Backtest}}<div class="backtest-row muted">{{.Backtest}}</div>{{end}}{{template "explain" .}}{{end}}
{{- define "flipcard"}}<div class="bot"><div class="flip-card{{if .Flipped}} flipped{{end}}"><div class="flip-inner"><div class="face front">{{template "forecast" .}}</div><div class="face back"><div class="flip-badge">TWIN*</div><div class="title">{{.Title}}</div><div class="muted">Heavy ML Ensemble</div><div class="twin-star-forecast muted">
{{- if .StarResult}}<div>Last close: <strong>${{.StarLast}}</strong></div><div>Forecasted price: <strong>${{.StarResult}}</strong> {{with .StarFigures}}{{template "figures" .}}{{end}}</div><div class="muted small">{{.StarMethod}}</div>{{else}}{{.StarText}}{{end -}}
</div><div class="btnrow"><button class="action-btn plus-btn-back" type="button" data-action="flip" title="Back to TWIN+" aria-label="Switch back to TWIN+">TWIN+</button></div></div></div></div></div>{{end}}
{{- define "suggestions"}}<div class="bot"><div class="suggestion-container"><div class="suggestion-header">Did you mean?</div><div class="suggestions">{{range .Suggestions}}<button class="suggestion-chip" type="button" data-action="suggestion" data-echo="{{.Echo}}" data-symbol="{{.Symbol}}" title="Use {{.Symbol}}"><strong>{{.Symbol}}</strong><span>{{.Name}}</span></button>{{end}}</div><button class="suggestion-retry-full" type="button" data-action="retry">Retry</button></div></div>{{end}}
{{- define "stale"}}{{.Restored}}<div class="bot restored-notice"><div class="muted">Not available for restored sessions. Reload this query to use its controls.</div><div class="btnrow"><button class="action-btn reload-btn" type="button" data-action="reload">Reload query</button><button class="action-btn dismiss-btn" type="button" data-action="dismiss">Dismiss</button></div></div>{{end}}
`))

// Render projects a turn into its HTML fragment.
func Render(t *Turn, cfg Config, opts RenderOptions) (string, error) {
	var buf bytes.Buffer
	if err := turnTemplate.Execute(&buf, buildView(t, cfg, opts)); err != nil {
		return "", fmt.Errorf("failed to render turn %s: %w", t.ID, err)
	}
	return buf.String(), nil
}

// RenderTurns renders turns in order and concatenates them.
func RenderTurns(turns []*Turn, cfg Config, opts RenderOptions) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		html, err := Render(t, cfg, opts)
		if err != nil {
			return "", err
		}
		b.WriteString(html)
	}
	return b.String(), nil
}

func userLine(prompt string) string {
	if prompt == "" || strings.HasSuffix(prompt, "?") {
		return prompt
	}
	return prompt + "?"
}

func buildView(t *Turn, cfg Config, opts RenderOptions) turnView {
	v := turnView{
		ID:           t.ID,
		Pane:         cfg.ID,
		Variant:      t.Variant,
		ErrorText:    t.ErrorText,
		Notice:       t.Notice,
		Suggestions:  t.Suggestions,
		ExplainOpen:  t.ExplainOpen,
		ExplainPlain: t.ExplainPlain,
		MenuOpen:     t.MenuOpen,
		Flipped:      t.Flipped,
		StarText:     t.StarText,
		Handoff:      cfg.ID.Other().Label(),
		SavedID:      t.SavedID,
		Saved:        t.SavedID != "",
	}
	if t.Variant != VariantNotice && (t.Variant != VariantStale || t.Markup == "") {
		v.UserLine = userLine(t.Prompt)
	}
	if t.Variant == VariantStale {
		// Markup on a stale turn has been sanitised when it was restored.
		v.Restored = template.HTML(t.Markup)
	}

	r := t.Payload
	if r == nil {
		return v
	}

	v.Title = r.Stock
	if r.Duration != "" && t.Variant == VariantForecast {
		v.Title += " in " + r.Duration
	}
	v.Sparkline = r.Stock
	v.LastClose = fmt.Sprintf("%.2f", r.LastClose)
	v.Message = r.Message
	if v.Message == "" {
		v.Message = "Add a timeframe (e.g., 'in 3 days') to get a forecast."
	}
	v.Explain = BuildExplain(r)

	if t.Variant != VariantForecast {
		return v
	}

	if r.Result != nil {
		v.Forecast = fmt.Sprintf("%.2f", *r.Result)
		if fig, ok := ComputeFigures(r.LastClose, *r.Result); ok {
			v.Figures = figureViewOf(fig)
		}
		v.ShowStar = opts.LoggedIn && r.LastClose != 0 && *r.Result != 0
	}
	if r.Method != "" {
		v.MethodLabel = fmt.Sprintf("Method: %s · drift/day: %.4f", PrettyMethodName(r.Method), r.DriftPerDay)
	}
	for _, m := range cfg.Methods {
		v.Methods = append(v.Methods, methodView{ID: m, Label: PrettyMethodName(m), Active: m == r.Method})
	}
	if r.Backtest != nil {
		horizon := r.Duration
		if horizon == "" {
			horizon = "requested"
		}
		window := r.Backtest.WindowDays
		if window == 0 {
			window = 120
		}
		v.Backtest = fmt.Sprintf("Backtest: MAE ≈ $%.2f (%d days, %s horizon)", r.Backtest.MAE, window, horizon)
	}
	if d := r.Diagnostics; d != nil {
		v.Summary = fmt.Sprintf("%s | Momentum %.1f%% | Vol %s | Size %s",
			PrettyMethodName(r.Method), d.Momentum12m*100, percentOrNA(d.AnnVolForecast, 1), percentOrNA(d.PositionSize, 0))
	}

	v.Flip = cfg.Flip
	if s := t.StarPayload; s != nil && s.Result != nil {
		v.StarLast = fmt.Sprintf("%.2f", s.LastClose)
		v.StarResult = fmt.Sprintf("%.2f", *s.Result)
		v.StarMethod = fmt.Sprintf("Method: %s · drift/day: %.4f", orDefault(s.Method, "ensemble"), s.DriftPerDay)
		if fig, ok := ComputeFigures(s.LastClose, *s.Result); ok {
			v.StarFigures = figureViewOf(fig)
		}
	}
	return v
}

func figureViewOf(fig Figures) *figureView {
	dir := "up"
	if !fig.Up() {
		dir = "down"
	}
	return &figureView{Dir: dir, Sign: fig.Sign(), Delta: fig.DeltaText(), Pct: fig.PctText()}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
