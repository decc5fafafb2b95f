package pane

import (
	"errors"
	"time"

	"twin-chat/internal/forecast"
)

// ID names one of the two conversation panes.
type ID string

const (
	Basic ID = "basic"
	Plus  ID = "plus"
)

func ParseID(s string) (ID, bool) {
	switch ID(s) {
	case Basic, Plus:
		return ID(s), true
	}
	return "", false
}

// Other returns the pane a query is handed to.
func (id ID) Other() ID {
	if id == Basic {
		return Plus
	}
	return Basic
}

// Label is the product name shown on buttons.
func (id ID) Label() string {
	if id == Plus {
		return "TWIN+"
	}
	return "TWIN-"
}

// Variant is the rendered shape of a turn.
type Variant string

const (
	VariantLoading     Variant = "loading"
	VariantSuggestions Variant = "error-with-suggestions"
	VariantError       Variant = "error-plain"
	VariantPriceOnly   Variant = "price-only"
	VariantForecast    Variant = "forecast"
	VariantNotice      Variant = "notice"
	// VariantStale is a turn restored from markup without its payload. It can
	// only be reloaded or dismissed.
	VariantStale Variant = "stale"
)

var (
	ErrEmptyQuery         = errors.New("empty query")
	ErrTurnNotFound       = errors.New("turn not found")
	ErrDataUnavailable    = errors.New("forecast data not available for this message")
	ErrMethodsUnsupported = errors.New("method switching is not available on this pane")
	ErrUnknownMethod      = errors.New("unknown method")
	ErrUnknownSuggestion  = errors.New("unknown suggestion")
	ErrNotSupported       = errors.New("action not supported for this message")
)

// Turn is one user line together with the bot reply it produced.
type Turn struct {
	ID          string                `json:"id"`
	Prompt      string                `json:"prompt"`
	Method      string                `json:"method,omitempty"`
	Variant     Variant               `json:"variant"`
	Payload     *forecast.Response    `json:"payload,omitempty"`
	Suggestions []forecast.Suggestion `json:"suggestions,omitempty"`
	ErrorText   string                `json:"errorText,omitempty"`
	Notice      string                `json:"notice,omitempty"`
	Markup      string                `json:"-"`

	ExplainOpen  bool               `json:"explainOpen,omitempty"`
	ExplainPlain bool               `json:"explainPlain,omitempty"`
	MenuOpen     bool               `json:"menuOpen,omitempty"`
	Flipped      bool               `json:"flipped,omitempty"`
	StarPayload  *forecast.Response `json:"starPayload,omitempty"`
	StarText     string             `json:"starText,omitempty"`
	SavedID      string             `json:"savedId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Live reports whether the turn still carries the payload it was rendered from.
func (t *Turn) Live() bool {
	return t.Payload != nil && (t.Variant == VariantForecast || t.Variant == VariantPriceOnly)
}

func (t *Turn) clone() *Turn {
	c := *t
	if t.Suggestions != nil {
		c.Suggestions = append([]forecast.Suggestion(nil), t.Suggestions...)
	}
	return &c
}

// Candidate is what a star-save needs from a rendered forecast.
type Candidate struct {
	TurnID    string
	Stock     string
	Duration  string
	Method    string
	LastClose float64
	Result    float64
	Figures   Figures
}

// Outcome describes what a submission did.
type Outcome struct {
	Turn *Turn
	// Skipped is set when another request on the pane was still in flight.
	Skipped bool
	// Dropped is set when the turn was removed before its reply arrived.
	Dropped   bool
	Requested bool
}

type EventKind string

const (
	EventAppend  EventKind = "append"
	EventUpdate  EventKind = "update"
	EventReplace EventKind = "replace"
	EventRemove  EventKind = "remove"
	EventReset   EventKind = "reset"
)

// Event is emitted after every change to a pane's turn list.
type Event struct {
	Pane       ID
	Kind       EventKind
	TurnID     string
	ReplacedID string
	Index      int
	Turn       *Turn
}
