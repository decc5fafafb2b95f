package forecast

// Endpoint is a forecasting route on the backend.
type Endpoint string

const (
	EndpointBasic Endpoint = "/predict"
	EndpointPlus  Endpoint = "/predict_plus"
	EndpointStar  Endpoint = "/predict_star"
)

// Request is the body of every predict call.
type Request struct {
	Input  string `json:"input"`
	Method string `json:"method,omitempty"`
}

type Suggestion struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Echo   string `json:"echo"`
}

type Backtest struct {
	MAE        float64 `json:"mae"`
	WindowDays int     `json:"window_days,omitempty"`
}

// Diagnostics is the TWIN+ block. It is display-only.
type Diagnostics struct {
	Momentum12m    float64  `json:"momentum_12m"`
	DMA50Slope     float64  `json:"dma50_slope"`
	DMA200Slope    float64  `json:"dma200_slope"`
	Breakout       bool     `json:"donchian50_breakout"`
	DonchianHigh   *float64 `json:"donchian50_hi,omitempty"`
	DonchianLow    *float64 `json:"donchian50_lo,omitempty"`
	AnnVolForecast *float64 `json:"ann_vol_forecast,omitempty"`
	TargetVol      float64  `json:"target_vol,omitempty"`
	PositionSize   *float64 `json:"position_size,omitempty"`
}

// Response is the union of every shape the predict routes return.
// Result is nil when no horizon could be resolved.
type Response struct {
	Stock       string       `json:"stock,omitempty"`
	Duration    string       `json:"duration,omitempty"`
	LastClose   float64      `json:"lastClose,omitempty"`
	Result      *float64     `json:"result,omitempty"`
	Method      string       `json:"method,omitempty"`
	DriftPerDay float64      `json:"drift_per_day,omitempty"`
	Backtest    *Backtest    `json:"backtest,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Decision    string       `json:"decision,omitempty"`
	Summary     []string     `json:"summary,omitempty"`
}

// Reply pairs the decoded body with the HTTP status it arrived with.
type Reply struct {
	Status int
	Body   Response
}

// OK reports a 2xx reply.
func (r *Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type historyResponse struct {
	Ticker string    `json:"ticker"`
	Closes []float64 `json:"closes"`
	Error  string    `json:"error"`
}
