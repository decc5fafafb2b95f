// Package chat owns the per-device workspaces and carries every chat action
// from the HTTP layer to the panes, the snapshot bridge and the session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/forecast"
	"twin-chat/internal/pane"
	"twin-chat/internal/persist"
	"twin-chat/internal/predictions"
	"twin-chat/internal/session"
	"twin-chat/internal/store"
)

var ErrUnknownPane = errors.New("unknown pane")

// Backend is the forecasting service.
type Backend interface {
	pane.Forecaster
	History(ctx context.Context, ticker string, days int) ([]float64, error)
}

// Storage is the device store.
type Storage interface {
	persist.Storage
	session.Storage
	Touch(deviceID string) error
}

// Publisher pushes pane updates to a device's open connections.
type Publisher interface {
	Publish(deviceID string, u Update)
}

// Update is one pane change as pushed to the browser.
type Update struct {
	Type       string         `json:"type"`
	Pane       pane.ID        `json:"pane"`
	Kind       pane.EventKind `json:"kind"`
	TurnID     string         `json:"turnId,omitempty"`
	ReplacedID string         `json:"replacedId,omitempty"`
	Index      int            `json:"index"`
	HTML       string         `json:"html,omitempty"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, Update) {}

type Service struct {
	backend     Backend
	storage     Storage
	bridge      *persist.Bridge
	sessions    *session.Lifecycle
	predictions *predictions.Service
	publisher   Publisher
	logger      zerolog.Logger
	now         func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewService(backend Backend, storage Storage, preds *predictions.Service, publisher Publisher) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{
		backend:     backend,
		storage:     storage,
		bridge:      persist.NewBridge(storage),
		sessions:    session.NewLifecycle(storage),
		predictions: preds,
		publisher:   publisher,
		logger:      log.With().Str("component", "chat").Logger(),
		now:         time.Now,
		workspaces:  make(map[string]*Workspace),
	}
}

// PaneView is a pane ready to display.
type PaneView struct {
	ID    pane.ID      `json:"id"`
	Label string       `json:"label"`
	Busy  bool         `json:"busy"`
	HTML  string       `json:"html"`
	Turns []*pane.Turn `json:"turns"`
}

// LoadResult is everything the chat view needs on page load.
type LoadResult struct {
	Session     session.State        `json:"session"`
	Affordances session.Affordances  `json:"affordances"`
	Cleared     bool                 `json:"cleared"`
	Draft       string               `json:"draft"`
	Restored    persist.RestoreStats `json:"restored"`
	Basic       PaneView             `json:"basic"`
	Plus        PaneView             `json:"plus"`
}

// TurnResult is the outcome of an action on one turn.
type TurnResult struct {
	Pane      pane.ID    `json:"pane"`
	Turn      *pane.Turn `json:"turn,omitempty"`
	HTML      string     `json:"html,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`
	Dropped   bool       `json:"dropped,omitempty"`
	Requested bool       `json:"requested"`

	// Input is text for the input field, set by retry and suggestion picks.
	Input string `json:"input,omitempty"`
}

// Workspace returns the device's workspace, creating an empty one on first
// use.
func (s *Service) Workspace(deviceID string) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workspaces[deviceID]
	if !ok {
		w = &Workspace{DeviceID: deviceID}
		w.basic = pane.New(pane.BasicConfig(), s.backend, s.notifier(w))
		w.plus = pane.New(pane.PlusConfig(), s.backend, s.notifier(w))
		if state, err := s.sessions.Current(deviceID); err != nil {
			s.logger.Warn().Err(err).Str("device", deviceID).Msg("Failed to read session for new workspace")
		} else {
			w.loggedIn.Store(state.LoggedIn)
		}
		s.workspaces[deviceID] = w
	}
	w.touch(s.now())
	return w
}

func (s *Service) lookup(deviceID string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[deviceID]
	return w, ok
}

func (s *Service) notifier(w *Workspace) func(pane.Event) {
	return func(ev pane.Event) {
		w.dirty.Store(true)
		u := Update{
			Type:       "pane",
			Pane:       ev.Pane,
			Kind:       ev.Kind,
			TurnID:     ev.TurnID,
			ReplacedID: ev.ReplacedID,
			Index:      ev.Index,
		}
		if ev.Turn != nil {
			html, err := pane.Render(ev.Turn, w.Pane(ev.Pane).Config(), w.renderOptions())
			if err != nil {
				s.logger.Warn().Err(err).Str("turn", ev.TurnID).Msg("Failed to render update")
				return
			}
			u.HTML = html
		}
		s.publisher.Publish(w.DeviceID, u)
	}
}

func (s *Service) pane(deviceID string, id pane.ID) (*Workspace, *pane.Pane, error) {
	if _, ok := pane.ParseID(string(id)); !ok {
		return nil, nil, ErrUnknownPane
	}
	w := s.Workspace(deviceID)
	return w, w.Pane(id), nil
}

// Load runs when the chat view opens. A fresh visit clears the stored chat;
// a return from the predictions view restores it.
func (s *Service) Load(ctx context.Context, deviceID, referrer string) (*LoadResult, error) {
	if err := s.storage.Touch(deviceID); err != nil {
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Failed to record device")
	}

	state, err := s.sessions.Current(deviceID)
	if err != nil {
		return nil, err
	}
	w := s.Workspace(deviceID)
	w.loggedIn.Store(state.LoggedIn)

	res := &LoadResult{Session: state, Affordances: state.Affordances()}

	// memory may be newer than the last timed snapshot
	if session.FromPredictions(referrer) && w.dirty.Load() {
		if err := s.snapshot(w); err != nil {
			s.logger.Warn().Err(err).Str("device", deviceID).Msg("Snapshot before restore failed")
		}
	}
	if res.Cleared, err = s.sessions.EnterChat(deviceID, referrer); err != nil {
		return nil, err
	}

	if res.Cleared {
		for _, p := range w.Panes() {
			p.Clear()
		}
	} else {
		for _, p := range w.Panes() {
			stats, err := s.bridge.Restore(deviceID, p, w.renderOptions())
			if err != nil {
				return nil, err
			}
			res.Restored.Live += stats.Live
			res.Restored.Stale += stats.Stale
		}
		if res.Draft, err = s.sessions.Draft(deviceID); err != nil {
			return nil, err
		}
	}
	w.dirty.Store(false)

	if res.Basic, err = s.view(w, pane.Basic); err != nil {
		return nil, err
	}
	if res.Plus, err = s.view(w, pane.Plus); err != nil {
		return nil, err
	}
	return res, nil
}

// View renders a pane's current state.
func (s *Service) View(deviceID string, id pane.ID) (PaneView, error) {
	w, _, err := s.pane(deviceID, id)
	if err != nil {
		return PaneView{}, err
	}
	return s.view(w, id)
}

func (s *Service) view(w *Workspace, id pane.ID) (PaneView, error) {
	p := w.Pane(id)
	turns := p.Turns()
	html, err := pane.RenderTurns(turns, p.Config(), w.renderOptions())
	if err != nil {
		return PaneView{}, err
	}
	return PaneView{ID: id, Label: id.Label(), Busy: p.Busy(), HTML: html, Turns: turns}, nil
}

// Submit sends a typed query to one pane.
func (s *Service) Submit(ctx context.Context, deviceID string, id pane.ID, input, method string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	if err := s.sessions.SaveDraft(deviceID, input); err != nil {
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Failed to store last query")
	}
	out, err := p.Submit(ctx, input, method)
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, p, out)
}

// BothResult carries the outcome of a query run on both panes.
type BothResult struct {
	Basic TurnResult `json:"basic"`
	Plus  TurnResult `json:"plus"`
}

// RunBoth sends input to both panes at once. Each pane settles on its own;
// neither waits for the other's gate.
func (s *Service) RunBoth(ctx context.Context, deviceID, input string) (BothResult, error) {
	w := s.Workspace(deviceID)
	if err := s.sessions.SaveDraft(deviceID, input); err != nil {
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Failed to store last query")
	}

	var (
		wg   sync.WaitGroup
		res  BothResult
		errs [2]error
	)
	run := func(i int, p *pane.Pane, dst *TurnResult) {
		defer wg.Done()
		out, err := p.Submit(ctx, input, "")
		if err != nil {
			errs[i] = err
			return
		}
		*dst, errs[i] = s.result(w, p, out)
	}
	wg.Add(2)
	go run(0, w.basic, &res.Basic)
	go run(1, w.plus, &res.Plus)
	wg.Wait()

	if err := errors.Join(errs[:]...); err != nil {
		return BothResult{}, err
	}
	return res, nil
}

// Handoff sends a turn's query to the other pane.
func (s *Service) Handoff(ctx context.Context, deviceID string, id pane.ID, turnID string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	t, err := p.Turn(turnID)
	if err != nil {
		return TurnResult{}, err
	}
	target := w.Pane(id.Other())
	out, err := target.Submit(ctx, t.Prompt, "")
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, target, out)
}

func (s *Service) SwitchMethod(ctx context.Context, deviceID string, id pane.ID, turnID, method string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	out, err := p.SwitchMethod(ctx, turnID, method)
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, p, out)
}

// Reload re-issues a turn's query in place.
func (s *Service) Reload(ctx context.Context, deviceID string, id pane.ID, turnID string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	out, err := p.Reload(ctx, turnID)
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, p, out)
}

func (s *Service) SelectSuggestion(ctx context.Context, deviceID string, id pane.ID, turnID, symbol string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	echo, out, err := p.SelectSuggestion(ctx, turnID, symbol)
	if err != nil {
		return TurnResult{}, err
	}
	res, err := s.result(w, p, out)
	res.Input = echo
	return res, err
}

// Retry puts a failed turn's text back into the input field.
func (s *Service) Retry(deviceID string, id pane.ID, turnID string) (TurnResult, error) {
	_, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	text, err := p.Retry(turnID)
	if err != nil {
		return TurnResult{}, err
	}
	if err := s.sessions.SaveDraft(deviceID, text); err != nil {
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Failed to store draft")
	}
	return TurnResult{Pane: id, Input: text}, nil
}

// Toggle names a per-turn panel switch.
type Toggle string

const (
	ToggleExplain   Toggle = "explain"
	ToggleTranslate Toggle = "translate"
	ToggleMenu      Toggle = "menu"
)

func (s *Service) Toggle(deviceID string, id pane.ID, turnID string, which Toggle) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	var t *pane.Turn
	switch which {
	case ToggleExplain:
		t, err = p.ToggleExplain(turnID)
	case ToggleTranslate:
		t, err = p.ToggleTranslate(turnID)
	case ToggleMenu:
		t, err = p.ToggleMethodMenu(turnID)
	default:
		return TurnResult{}, pane.ErrNotSupported
	}
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, p, pane.Outcome{Turn: t})
}

func (s *Service) Flip(ctx context.Context, deviceID string, id pane.ID, turnID string) (TurnResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return TurnResult{}, err
	}
	t, err := p.Flip(ctx, turnID)
	if err != nil {
		return TurnResult{}, err
	}
	return s.result(w, p, pane.Outcome{Turn: t})
}

func (s *Service) Dismiss(deviceID string, id pane.ID, turnID string) error {
	_, p, err := s.pane(deviceID, id)
	if err != nil {
		return err
	}
	return p.Dismiss(turnID)
}

// ClearChat empties both panes and their snapshots.
func (s *Service) ClearChat(deviceID string) error {
	w := s.Workspace(deviceID)
	for _, p := range w.Panes() {
		p.Clear()
	}
	if err := s.storage.Delete(deviceID, store.KeyMessagesBasic, store.KeyMessagesPlus); err != nil {
		return fmt.Errorf("failed to clear stored messages: %w", err)
	}
	w.dirty.Store(false)
	return nil
}

func (s *Service) SaveDraft(deviceID, text string) error {
	return s.sessions.SaveDraft(deviceID, text)
}

// StarResult reports the saved state of a turn after a star toggle.
type StarResult struct {
	TurnResult
	Saved        bool   `json:"saved"`
	PredictionID string `json:"predictionId,omitempty"`
}

// Star toggles the saved state of a forecast turn. A star on a turn whose
// save is still running is skipped. Saving is refused with
// pane.ErrDataUnavailable when the turn has no usable prices; the caller
// offers a reload instead.
func (s *Service) Star(ctx context.Context, deviceID string, id pane.ID, turnID string) (StarResult, error) {
	w, p, err := s.pane(deviceID, id)
	if err != nil {
		return StarResult{}, err
	}
	state, err := s.sessions.Current(deviceID)
	if err != nil {
		return StarResult{}, err
	}
	if !state.LoggedIn {
		return StarResult{}, session.ErrNotLoggedIn
	}
	acct := account(state)

	t, ok, err := p.BeginSave(turnID)
	if err != nil {
		return StarResult{}, err
	}
	if !ok {
		return StarResult{TurnResult: TurnResult{Pane: p.ID(), Skipped: true}, Saved: t.SavedID != "", PredictionID: t.SavedID}, nil
	}
	defer p.EndSave(turnID)

	if t.SavedID != "" {
		if err := s.predictions.Delete(ctx, deviceID, acct, t.SavedID); err != nil && !errors.Is(err, predictions.ErrNotFound) {
			return StarResult{}, err
		}
		t, err = p.MarkSaved(turnID, "")
		if err != nil {
			return StarResult{}, err
		}
		res, err := s.result(w, p, pane.Outcome{Turn: t})
		return StarResult{TurnResult: res}, err
	}

	c, err := p.SaveCandidate(turnID)
	if err != nil {
		return StarResult{}, err
	}
	saved, err := s.predictions.Save(ctx, deviceID, acct, predictions.Prediction{
		Stock:          c.Stock,
		Duration:       c.Duration,
		LastClose:      c.LastClose,
		PredictedPrice: c.Result,
		Method:         c.Method,
		Delta:          c.Figures.Delta.InexactFloat64(),
		Pct:            c.Figures.Pct.InexactFloat64(),
		TurnID:         c.TurnID,
	})
	if errors.Is(err, predictions.ErrIncomplete) {
		return StarResult{}, pane.ErrDataUnavailable
	}
	if err != nil {
		return StarResult{}, err
	}
	if t, err = p.MarkSaved(turnID, saved.ID); err != nil {
		return StarResult{}, err
	}
	res, err := s.result(w, p, pane.Outcome{Turn: t})
	return StarResult{TurnResult: res, Saved: true, PredictionID: saved.ID}, err
}

// Snapshot writes both panes of a device to storage.
func (s *Service) Snapshot(deviceID string) error {
	w, ok := s.lookup(deviceID)
	if !ok {
		return nil
	}
	return s.snapshot(w)
}

func (s *Service) snapshot(w *Workspace) error {
	w.dirty.Store(false)
	for _, p := range w.Panes() {
		if err := s.bridge.Snapshot(w.DeviceID, p, w.renderOptions()); err != nil {
			w.dirty.Store(true)
			return err
		}
	}
	return nil
}

// SnapshotAll snapshots every workspace that changed since its last
// snapshot and returns how many were written.
func (s *Service) SnapshotAll() (int, error) {
	var errs []error
	n := 0
	for _, w := range s.list() {
		if !w.dirty.Load() {
			continue
		}
		if err := s.snapshot(w); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", w.DeviceID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// EvictIdle snapshots and forgets workspaces unused for ttl. Workspaces with
// a request in flight are kept.
func (s *Service) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	n := 0
	for _, w := range s.list() {
		if !w.idleSince(cutoff) || w.busy() {
			continue
		}
		if w.dirty.Load() {
			if err := s.snapshot(w); err != nil {
				s.logger.Warn().Err(err).Str("device", w.DeviceID).Msg("Failed to snapshot idle workspace, keeping it")
				continue
			}
		}
		s.mu.Lock()
		if s.workspaces[w.DeviceID] == w {
			delete(s.workspaces, w.DeviceID)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

func (s *Service) list() []*Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		out = append(out, w)
	}
	return out
}

// Session returns the device's login state.
func (s *Service) Session(deviceID string) (session.State, error) {
	return s.sessions.Current(deviceID)
}

// Login starts a session and empties the in-memory panes, matching the
// storage cleared by the lifecycle.
func (s *Service) Login(deviceID, email, token string) (session.State, error) {
	state, err := s.sessions.Login(deviceID, email, token)
	if err != nil {
		return session.State{}, err
	}
	w := s.Workspace(deviceID)
	w.loggedIn.Store(true)
	for _, p := range w.Panes() {
		p.Clear()
	}
	w.dirty.Store(false)
	return state, nil
}

// Logout wipes the device's storage and forgets its workspace.
func (s *Service) Logout(deviceID string) error {
	if err := s.sessions.Logout(deviceID); err != nil {
		return err
	}
	s.mu.Lock()
	w, ok := s.workspaces[deviceID]
	delete(s.workspaces, deviceID)
	s.mu.Unlock()
	if ok {
		w.loggedIn.Store(false)
		for _, p := range w.Panes() {
			p.Clear()
		}
	}
	return nil
}

// HistoryResult is a ticker's recent closes with their sparkline.
type HistoryResult struct {
	Ticker    string    `json:"ticker"`
	Closes    []float64 `json:"closes"`
	Sparkline string    `json:"sparkline"`
}

func (s *Service) History(ctx context.Context, ticker string, days int) (HistoryResult, error) {
	closes, err := s.backend.History(ctx, ticker, days)
	if err != nil {
		return HistoryResult{}, err
	}
	return HistoryResult{Ticker: ticker, Closes: closes, Sparkline: pane.Sparkline(closes)}, nil
}

func (s *Service) result(w *Workspace, p *pane.Pane, out pane.Outcome) (TurnResult, error) {
	res := TurnResult{Pane: p.ID(), Turn: out.Turn, Skipped: out.Skipped, Dropped: out.Dropped, Requested: out.Requested}
	if out.Turn == nil {
		return res, nil
	}
	html, err := pane.Render(out.Turn, p.Config(), w.renderOptions())
	if err != nil {
		return TurnResult{}, err
	}
	res.HTML = html
	return res, nil
}

func account(state session.State) predictions.Account {
	if !state.LoggedIn {
		return predictions.Account{}
	}
	return predictions.Account{Email: state.Email, Token: state.Token}
}

var _ Backend = (*forecast.Client)(nil)
