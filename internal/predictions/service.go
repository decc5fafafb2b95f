package predictions

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/store"
)

// Storage holds the local mirror under the twin_predictions key.
type Storage interface {
	Get(deviceID, key string) (string, bool, error)
	Set(deviceID, key, value string) error
	Delete(deviceID string, keys ...string) error
}

// Backend is the remote prediction store.
type Backend interface {
	Save(ctx context.Context, token string, p Prediction) error
	List(ctx context.Context, token string) ([]Prediction, error)
	Delete(ctx context.Context, token, id string) error
	Clear(ctx context.Context, token string) error
	SaveFeedback(ctx context.Context, token string, p Prediction) error
}

// Service keeps one synchronisation policy. For signed-in accounts the
// backend is authoritative: every write goes there first and the local mirror
// follows only once it succeeded, so a failed write leaves nothing behind.
// Listings fall back to the mirror when the backend is unreachable. Guests
// only ever use the mirror.
type Service struct {
	storage Storage
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time

	// serialises read-modify-write cycles on the mirror
	mu sync.Mutex
}

func NewService(storage Storage, backend Backend) *Service {
	return &Service{
		storage: storage,
		backend: backend,
		logger:  log.With().Str("component", "predictions").Logger(),
		now:     time.Now,
	}
}

// Save stores p and returns it with id and timestamp filled in.
func (s *Service) Save(ctx context.Context, deviceID string, acct Account, p Prediction) (Prediction, error) {
	if p.LastClose == 0 || p.PredictedPrice == 0 {
		return Prediction{}, ErrIncomplete
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	p.UserEmail = "guest"
	if acct.Authenticated() {
		p.UserEmail = acct.Email
		if err := s.backend.Save(ctx, acct.Token, p); err != nil {
			return Prediction{}, err
		}
	}

	err := s.update(deviceID, func(list []Prediction) ([]Prediction, error) {
		list = slices.DeleteFunc(list, func(x Prediction) bool { return x.ID == p.ID })
		return append(list, p), nil
	})
	if err != nil {
		return Prediction{}, err
	}
	s.logger.Info().Str("device", deviceID).Str("stock", p.Stock).Str("id", p.ID).Msg("Saved prediction")
	return p, nil
}

// List returns the account's predictions. A successful backend listing
// refreshes the mirror.
func (s *Service) List(ctx context.Context, deviceID string, acct Account) ([]Prediction, Source, error) {
	if acct.Authenticated() {
		list, err := s.backend.List(ctx, acct.Token)
		if err == nil {
			if werr := s.update(deviceID, func([]Prediction) ([]Prediction, error) { return list, nil }); werr != nil {
				s.logger.Warn().Err(werr).Str("device", deviceID).Msg("Failed to refresh local predictions")
			}
			return list, SourceBackend, nil
		}
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Prediction backend unavailable, using local copy")
	}

	list, err := s.load(deviceID)
	if err != nil {
		return nil, SourceLocal, err
	}
	return list, SourceLocal, nil
}

func (s *Service) Delete(ctx context.Context, deviceID string, acct Account, id string) error {
	if acct.Authenticated() {
		if err := s.backend.Delete(ctx, acct.Token, id); err != nil {
			return err
		}
	}
	return s.update(deviceID, func(list []Prediction) ([]Prediction, error) {
		n := len(list)
		list = slices.DeleteFunc(list, func(x Prediction) bool { return x.ID == id })
		if len(list) == n && !acct.Authenticated() {
			return nil, ErrNotFound
		}
		return list, nil
	})
}

func (s *Service) Clear(ctx context.Context, deviceID string, acct Account) error {
	if acct.Authenticated() {
		if err := s.backend.Clear(ctx, acct.Token); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Delete(deviceID, store.KeyPredictions); err != nil {
		return fmt.Errorf("failed to clear local predictions: %w", err)
	}
	return nil
}

// SubmitFeedback records a verdict on a saved prediction.
func (s *Service) SubmitFeedback(ctx context.Context, deviceID string, acct Account, id string, fb Feedback) (Prediction, error) {
	if err := fb.validate(); err != nil {
		return Prediction{}, err
	}

	p, err := s.find(ctx, deviceID, acct, id)
	if err != nil {
		return Prediction{}, err
	}
	p.apply(fb, s.now().UTC())

	if acct.Authenticated() {
		if p.UserEmail == "" {
			p.UserEmail = acct.Email
		}
		if err := s.backend.SaveFeedback(ctx, acct.Token, p); err != nil {
			return Prediction{}, err
		}
	}

	err = s.update(deviceID, func(list []Prediction) ([]Prediction, error) {
		i := slices.IndexFunc(list, func(x Prediction) bool { return x.ID == id })
		if i < 0 {
			return append(list, p), nil
		}
		list[i] = p
		return list, nil
	})
	if err != nil {
		return Prediction{}, err
	}
	return p, nil
}

func (s *Service) find(ctx context.Context, deviceID string, acct Account, id string) (Prediction, error) {
	list, err := s.load(deviceID)
	if err != nil {
		return Prediction{}, err
	}
	if i := slices.IndexFunc(list, func(x Prediction) bool { return x.ID == id }); i >= 0 {
		return list[i], nil
	}
	if acct.Authenticated() {
		remote, err := s.backend.List(ctx, acct.Token)
		if err != nil {
			return Prediction{}, err
		}
		if i := slices.IndexFunc(remote, func(x Prediction) bool { return x.ID == id }); i >= 0 {
			return remote[i], nil
		}
	}
	return Prediction{}, ErrNotFound
}

func (s *Service) load(deviceID string) ([]Prediction, error) {
	raw, ok, err := s.storage.Get(deviceID, store.KeyPredictions)
	if err != nil {
		return nil, fmt.Errorf("failed to read local predictions: %w", err)
	}
	if !ok || raw == "" {
		return []Prediction{}, nil
	}
	var list []Prediction
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		s.logger.Warn().Err(err).Str("device", deviceID).Msg("Discarding unreadable local predictions")
		return []Prediction{}, nil
	}
	return list, nil
}

func (s *Service) update(deviceID string, fn func([]Prediction) ([]Prediction, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(deviceID)
	if err != nil {
		return err
	}
	if list, err = fn(list); err != nil {
		return err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode predictions: %w", err)
	}
	if err := s.storage.Set(deviceID, store.KeyPredictions, string(data)); err != nil {
		return fmt.Errorf("failed to write local predictions: %w", err)
	}
	return nil
}
