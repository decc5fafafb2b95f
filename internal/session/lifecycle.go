// Package session tracks the login flag of a device and decides which stored
// chat state survives navigation.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/store"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrMissingEmail = errors.New("email is required")
	ErrMissingToken = errors.New("token is required")
)

// Storage is the device store as seen by the lifecycle.
type Storage interface {
	Get(deviceID, key string) (string, bool, error)
	Set(deviceID, key, value string) error
	Delete(deviceID string, keys ...string) error
	Clear(deviceID string) error
}

// State is what an external login flow left in device storage.
type State struct {
	LoggedIn bool   `json:"loggedIn"`
	Email    string `json:"email,omitempty"`
	Token    string `json:"-"`
}

// Affordances are the UI controls that depend on the login flag alone.
type Affordances struct {
	CanSave         bool `json:"canSave"`
	ShowLeaderboard bool `json:"showLeaderboard"`
}

func (s State) Affordances() Affordances {
	return Affordances{CanSave: s.LoggedIn, ShowLeaderboard: s.LoggedIn}
}

type Lifecycle struct {
	storage Storage
	logger  zerolog.Logger
}

func NewLifecycle(storage Storage) *Lifecycle {
	return &Lifecycle{
		storage: storage,
		logger:  log.With().Str("component", "session").Logger(),
	}
}

func (l *Lifecycle) Current(deviceID string) (State, error) {
	var s State
	flag, _, err := l.storage.Get(deviceID, store.KeyLoggedIn)
	if err != nil {
		return State{}, fmt.Errorf("failed to read login flag: %w", err)
	}
	s.LoggedIn = flag == "true"
	if !s.LoggedIn {
		return s, nil
	}
	if s.Email, _, err = l.storage.Get(deviceID, store.KeyEmail); err != nil {
		return State{}, fmt.Errorf("failed to read email: %w", err)
	}
	if s.Token, _, err = l.storage.Get(deviceID, store.KeyToken); err != nil {
		return State{}, fmt.Errorf("failed to read token: %w", err)
	}
	return s, nil
}

// EnterChat runs when the chat view is loaded. Unless the visitor came back
// from the predictions view the pane snapshots and the draft query are
// cleared. It reports whether anything was cleared.
func (l *Lifecycle) EnterChat(deviceID, referrer string) (bool, error) {
	if FromPredictions(referrer) {
		return false, nil
	}
	if err := l.storage.Delete(deviceID, store.ChatKeys...); err != nil {
		return false, fmt.Errorf("failed to clear chat state: %w", err)
	}
	l.logger.Debug().Str("device", deviceID).Msg("Fresh chat load, cleared stored messages")
	return true, nil
}

// Login records a session set up by the external auth flow. Chat snapshots,
// saved predictions and the draft query are cleared first so a new session
// never sees what the previous user left behind.
func (l *Lifecycle) Login(deviceID, email, token string) (State, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return State{}, ErrMissingEmail
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return State{}, ErrMissingToken
	}
	keys := append([]string{store.KeyPredictions}, store.ChatKeys...)
	if err := l.storage.Delete(deviceID, keys...); err != nil {
		return State{}, fmt.Errorf("failed to clear session data: %w", err)
	}
	for _, kv := range [][2]string{
		{store.KeyLoggedIn, "true"},
		{store.KeyEmail, email},
		{store.KeyToken, token},
	} {
		if err := l.storage.Set(deviceID, kv[0], kv[1]); err != nil {
			return State{}, fmt.Errorf("failed to store session: %w", err)
		}
	}
	l.logger.Info().Str("device", deviceID).Str("email", email).Msg("Logged in")
	return State{LoggedIn: true, Email: email, Token: token}, nil
}

// Logout wipes everything the device has stored.
func (l *Lifecycle) Logout(deviceID string) error {
	if err := l.storage.Clear(deviceID); err != nil {
		return fmt.Errorf("failed to clear device storage: %w", err)
	}
	l.logger.Info().Str("device", deviceID).Msg("Logged out")
	return nil
}

func (l *Lifecycle) SaveDraft(deviceID, text string) error {
	if strings.TrimSpace(text) == "" {
		return l.storage.Delete(deviceID, store.KeyLastQuery)
	}
	return l.storage.Set(deviceID, store.KeyLastQuery, text)
}

func (l *Lifecycle) Draft(deviceID string) (string, error) {
	v, _, err := l.storage.Get(deviceID, store.KeyLastQuery)
	return v, err
}

// FromPredictions reports whether referrer is the predictions view.
func FromPredictions(referrer string) bool {
	if referrer == "" {
		return false
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return false
	}
	base := path.Base(u.Path)
	return base == "predictions.html" || base == "predictions"
}
