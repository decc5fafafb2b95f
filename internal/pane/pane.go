// Package pane runs one TWIN conversation pane: it issues forecast requests,
// classifies replies into turns and tracks the per-turn controls.
package pane

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/forecast"
	"twin-chat/internal/gate"
)

// Forecaster is the backend the pane asks.
type Forecaster interface {
	Predict(ctx context.Context, endpoint forecast.Endpoint, req forecast.Request) (*forecast.Reply, error)
}

// Config describes what a pane can do.
type Config struct {
	ID       ID
	Endpoint forecast.Endpoint
	// Methods lists the switchable computations. Empty disables switching.
	Methods []string
	// RequireDuration shows a notice instead of calling the backend when the
	// query names no horizon.
	RequireDuration bool
	// Flip enables the TWIN* back face on forecasts.
	Flip bool
}

func BasicConfig() Config {
	return Config{ID: Basic, Endpoint: forecast.EndpointBasic}
}

func PlusConfig() Config {
	return Config{
		ID:              Plus,
		Endpoint:        forecast.EndpointPlus,
		Methods:         PlusMethods,
		RequireDuration: true,
		Flip:            true,
	}
}

const starUnavailable = "TWIN* model not available yet"

type Pane struct {
	cfg    Config
	client Forecaster
	gate   gate.Gate
	notify func(Event)
	logger zerolog.Logger

	mu    sync.Mutex
	turns []*Turn
	// turns with a star save or unsave in progress
	saving map[string]bool
}

// New creates an empty pane. notify, when set, is called after every change
// outside the pane lock.
func New(cfg Config, client Forecaster, notify func(Event)) *Pane {
	return &Pane{
		cfg:    cfg,
		client: client,
		notify: notify,
		logger: log.With().Str("component", "pane").Str("pane", string(cfg.ID)).Logger(),
	}
}

func (p *Pane) ID() ID { return p.cfg.ID }

func (p *Pane) Config() Config { return p.cfg }

// Busy reports whether a request is in flight.
func (p *Pane) Busy() bool { return p.gate.InFlight() }

// Submit sends query to the backend and appends the resulting turn. A call
// made while another request is in flight is a logged no-op.
func (p *Pane) Submit(ctx context.Context, query, method string) (Outcome, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Outcome{}, ErrEmptyQuery
	}
	if method != "" && !p.supports(method) {
		return Outcome{}, ErrUnknownMethod
	}

	if p.cfg.RequireDuration && !HasDuration(q) {
		t := p.noticeTurn(q)
		p.mu.Lock()
		p.turns = append(p.turns, t)
		ev := Event{Pane: p.cfg.ID, Kind: EventAppend, TurnID: t.ID, Index: len(p.turns) - 1, Turn: t.clone()}
		p.mu.Unlock()
		p.emit(ev)
		return Outcome{Turn: t.clone()}, nil
	}

	if !p.gate.TryAcquire() {
		p.logger.Debug().Str("input", q).Msg("Request already running, ignoring duplicate submission")
		return Outcome{Skipped: true}, nil
	}
	defer p.gate.Release()

	t := p.newTurn(q, method)
	p.mu.Lock()
	p.turns = append(p.turns, t)
	ev := Event{Pane: p.cfg.ID, Kind: EventAppend, TurnID: t.ID, Index: len(p.turns) - 1, Turn: t.clone()}
	p.mu.Unlock()
	p.emit(ev)

	return p.resolve(ctx, t.ID, q, method), nil
}

// SwitchMethod re-issues the turn's query with method pinned and puts the new
// turn where the old one was.
func (p *Pane) SwitchMethod(ctx context.Context, turnID, method string) (Outcome, error) {
	if len(p.cfg.Methods) == 0 {
		return Outcome{}, ErrMethodsUnsupported
	}
	if !p.supports(method) {
		return Outcome{}, ErrUnknownMethod
	}

	p.mu.Lock()
	t, _ := p.find(turnID)
	if t == nil {
		p.mu.Unlock()
		return Outcome{}, ErrTurnNotFound
	}
	if t.Variant != VariantForecast || t.Payload == nil {
		p.mu.Unlock()
		return Outcome{}, ErrDataUnavailable
	}
	if t.Payload.Method == method {
		current := t.clone()
		p.mu.Unlock()
		return Outcome{Turn: current}, nil
	}
	prompt := t.Prompt
	p.mu.Unlock()

	return p.replace(ctx, turnID, prompt, method)
}

// Reload re-issues the original query of a turn in place. It is the recovery
// action for stale turns.
func (p *Pane) Reload(ctx context.Context, turnID string) (Outcome, error) {
	p.mu.Lock()
	t, _ := p.find(turnID)
	if t == nil {
		p.mu.Unlock()
		return Outcome{}, ErrTurnNotFound
	}
	prompt, method := t.Prompt, t.Method
	p.mu.Unlock()

	if prompt == "" {
		return Outcome{}, ErrEmptyQuery
	}
	return p.replace(ctx, turnID, prompt, method)
}

func (p *Pane) replace(ctx context.Context, turnID, prompt, method string) (Outcome, error) {
	if p.cfg.RequireDuration && !HasDuration(prompt) {
		return p.swap(turnID, p.noticeTurn(prompt))
	}

	if !p.gate.TryAcquire() {
		p.logger.Debug().Str("turn", turnID).Msg("Request already running, ignoring replacement")
		return Outcome{Skipped: true}, nil
	}
	defer p.gate.Release()

	next := p.newTurn(prompt, method)
	if _, err := p.swap(turnID, next); err != nil {
		return Outcome{}, err
	}
	return p.resolve(ctx, next.ID, prompt, method), nil
}

func (p *Pane) swap(oldID string, next *Turn) (Outcome, error) {
	p.mu.Lock()
	_, idx := p.find(oldID)
	if idx < 0 {
		p.mu.Unlock()
		return Outcome{}, ErrTurnNotFound
	}
	p.turns[idx] = next
	ev := Event{Pane: p.cfg.ID, Kind: EventReplace, TurnID: next.ID, ReplacedID: oldID, Index: idx, Turn: next.clone()}
	p.mu.Unlock()
	p.emit(ev)
	return Outcome{Turn: next.clone()}, nil
}

// resolve asks the backend and settles the turn. When the turn has been
// removed meanwhile the reply is dropped.
func (p *Pane) resolve(ctx context.Context, turnID, query, method string) Outcome {
	// an issued request outlives the caller; the client timeout bounds it
	reply, err := p.client.Predict(context.WithoutCancel(ctx), p.cfg.Endpoint, BuildRequest(query, method))
	if err != nil {
		p.logger.Warn().Err(err).Str("input", query).Msg("Forecast request failed")
	}

	p.mu.Lock()
	t, idx := p.find(turnID)
	if t == nil {
		p.mu.Unlock()
		p.logger.Debug().Str("turn", turnID).Msg("Turn gone before reply arrived, dropping reply")
		return Outcome{Dropped: true, Requested: true}
	}
	Classify(t, reply, err)
	result := t.clone()
	p.mu.Unlock()

	p.emit(Event{Pane: p.cfg.ID, Kind: EventUpdate, TurnID: turnID, Index: idx, Turn: result.clone()})
	return Outcome{Turn: result, Requested: true}
}

// SelectSuggestion drops the failed turn and resubmits the chosen correction
// as if it had been typed. It returns the echo text for the input field.
func (p *Pane) SelectSuggestion(ctx context.Context, turnID, symbol string) (string, Outcome, error) {
	p.mu.Lock()
	t, _ := p.find(turnID)
	if t == nil {
		p.mu.Unlock()
		return "", Outcome{}, ErrTurnNotFound
	}
	var echo string
	for _, s := range t.Suggestions {
		if strings.EqualFold(s.Symbol, symbol) {
			echo = s.Echo
			break
		}
	}
	p.mu.Unlock()

	if echo == "" {
		return "", Outcome{}, ErrUnknownSuggestion
	}
	if p.gate.InFlight() {
		return echo, Outcome{Skipped: true}, nil
	}
	if err := p.Dismiss(turnID); err != nil {
		return "", Outcome{}, err
	}
	out, err := p.Submit(ctx, echo, "")
	return echo, out, err
}

// Retry returns the uncorrected text of a failed turn for manual editing. It
// never resubmits.
func (p *Pane) Retry(turnID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, _ := p.find(turnID)
	if t == nil {
		return "", ErrTurnNotFound
	}
	if t.Variant != VariantSuggestions && t.Variant != VariantError {
		return "", ErrNotSupported
	}
	return t.Prompt, nil
}

func (p *Pane) ToggleExplain(turnID string) (*Turn, error) {
	return p.mutate(turnID, func(t *Turn) error {
		if !t.Live() {
			return ErrDataUnavailable
		}
		t.ExplainOpen = !t.ExplainOpen
		return nil
	})
}

// ToggleTranslate swaps the diagnostics explanation between the technical
// and the plain-language rendering.
func (p *Pane) ToggleTranslate(turnID string) (*Turn, error) {
	return p.mutate(turnID, func(t *Turn) error {
		if !t.Live() || t.Payload.Diagnostics == nil {
			return ErrNotSupported
		}
		t.ExplainPlain = !t.ExplainPlain
		return nil
	})
}

func (p *Pane) ToggleMethodMenu(turnID string) (*Turn, error) {
	if len(p.cfg.Methods) == 0 {
		return nil, ErrMethodsUnsupported
	}
	return p.mutate(turnID, func(t *Turn) error {
		if t.Variant != VariantForecast || t.Payload == nil {
			return ErrDataUnavailable
		}
		t.MenuOpen = !t.MenuOpen
		return nil
	})
}

// Flip turns a forecast card to its TWIN* face, asking the ensemble backend
// on the way over, or back to the front.
func (p *Pane) Flip(ctx context.Context, turnID string) (*Turn, error) {
	if !p.cfg.Flip {
		return nil, ErrNotSupported
	}

	var prompt string
	flipped, err := p.mutate(turnID, func(t *Turn) error {
		if t.Variant != VariantForecast || t.Payload == nil {
			return ErrDataUnavailable
		}
		t.Flipped = !t.Flipped
		if t.Flipped {
			t.StarPayload = nil
			t.StarText = "Loading ensemble forecast..."
			prompt = t.Prompt
		}
		return nil
	})
	if err != nil || !flipped.Flipped {
		return flipped, err
	}

	reply, err := p.client.Predict(context.WithoutCancel(ctx), forecast.EndpointStar, BuildRequest(prompt, ""))
	return p.mutate(turnID, func(t *Turn) error {
		switch {
		case err != nil:
			p.logger.Debug().Err(err).Msg("TWIN* request failed")
			t.StarText = "Failed to load TWIN* forecast"
		case reply.OK() && reply.Body.Result != nil && reply.Body.LastClose != 0:
			body := reply.Body
			t.StarPayload = &body
			t.StarText = ""
		case reply.Body.Error != "":
			t.StarText = reply.Body.Error
		default:
			t.StarText = starUnavailable
		}
		return nil
	})
}

// Dismiss removes a turn, user line included.
func (p *Pane) Dismiss(turnID string) error {
	p.mu.Lock()
	_, idx := p.find(turnID)
	if idx < 0 {
		p.mu.Unlock()
		return ErrTurnNotFound
	}
	p.turns = slices.Delete(p.turns, idx, idx+1)
	p.mu.Unlock()
	p.emit(Event{Pane: p.cfg.ID, Kind: EventRemove, TurnID: turnID, Index: idx})
	return nil
}

// Clear removes every turn. Replies still in flight are dropped on arrival.
func (p *Pane) Clear() {
	p.Replace(nil)
}

// Replace swaps the whole turn list, as a restore does.
func (p *Pane) Replace(turns []*Turn) {
	next := make([]*Turn, 0, len(turns))
	for _, t := range turns {
		next = append(next, t.clone())
	}
	p.mu.Lock()
	p.turns = next
	p.mu.Unlock()
	p.emit(Event{Pane: p.cfg.ID, Kind: EventReset})
}

// Turns returns copies of the turns in display order.
func (p *Pane) Turns() []*Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Turn, 0, len(p.turns))
	for _, t := range p.turns {
		out = append(out, t.clone())
	}
	return out
}

func (p *Pane) Turn(turnID string) (*Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, _ := p.find(turnID)
	if t == nil {
		return nil, ErrTurnNotFound
	}
	return t.clone(), nil
}

// SaveCandidate recovers the numbers a star-save needs. A zero last close or
// forecast means the data is not available and nothing may be saved.
func (p *Pane) SaveCandidate(turnID string) (Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, _ := p.find(turnID)
	if t == nil {
		return Candidate{}, ErrTurnNotFound
	}
	if t.Variant != VariantForecast || t.Payload == nil || t.Payload.Result == nil {
		return Candidate{}, ErrDataUnavailable
	}
	last, result := t.Payload.LastClose, *t.Payload.Result
	if last == 0 || result == 0 {
		return Candidate{}, ErrDataUnavailable
	}
	fig, _ := ComputeFigures(last, result)
	return Candidate{
		TurnID:    t.ID,
		Stock:     t.Payload.Stock,
		Duration:  t.Payload.Duration,
		Method:    t.Payload.Method,
		LastClose: last,
		Result:    result,
		Figures:   fig,
	}, nil
}

// BeginSave claims the turn's star for one save or unsave and returns the
// turn as it was when claimed. ok is false while another claim is held; the
// caller must then drop its request. Every successful claim is ended with
// EndSave.
func (p *Pane) BeginSave(turnID string) (t *Turn, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, _ := p.find(turnID)
	if cur == nil {
		return nil, false, ErrTurnNotFound
	}
	if p.saving[turnID] {
		p.logger.Debug().Str("turn", turnID).Msg("Save already running, ignoring star")
		return cur.clone(), false, nil
	}
	if p.saving == nil {
		p.saving = make(map[string]bool)
	}
	p.saving[turnID] = true
	return cur.clone(), true, nil
}

func (p *Pane) EndSave(turnID string) {
	p.mu.Lock()
	delete(p.saving, turnID)
	p.mu.Unlock()
}

// MarkSaved records the saved prediction id on the turn; an empty id marks it
// unsaved.
func (p *Pane) MarkSaved(turnID, predictionID string) (*Turn, error) {
	return p.mutate(turnID, func(t *Turn) error {
		t.SavedID = predictionID
		return nil
	})
}

func (p *Pane) mutate(turnID string, fn func(*Turn) error) (*Turn, error) {
	p.mu.Lock()
	t, idx := p.find(turnID)
	if t == nil {
		p.mu.Unlock()
		return nil, ErrTurnNotFound
	}
	if err := fn(t); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	result := t.clone()
	p.mu.Unlock()
	p.emit(Event{Pane: p.cfg.ID, Kind: EventUpdate, TurnID: turnID, Index: idx, Turn: result.clone()})
	return result, nil
}

func (p *Pane) find(turnID string) (*Turn, int) {
	for i, t := range p.turns {
		if t.ID == turnID {
			return t, i
		}
	}
	return nil, -1
}

func (p *Pane) supports(method string) bool {
	return slices.Contains(p.cfg.Methods, method)
}

func (p *Pane) newTurn(prompt, method string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Method:    method,
		Variant:   VariantLoading,
		CreatedAt: time.Now(),
	}
}

func (p *Pane) noticeTurn(prompt string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Variant:   VariantNotice,
		Notice:    "TWIN+ needs a horizon. Try: “" + prompt + " in 3 days” or “" + prompt + " next week”.",
		CreatedAt: time.Now(),
	}
}

func (p *Pane) emit(ev Event) {
	if p.notify != nil {
		p.notify(ev)
	}
}
