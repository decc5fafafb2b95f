package chat

import (
	"context"
	"errors"

	"twin-chat/internal/pane"
	"twin-chat/internal/predictions"
)

func (s *Service) account(deviceID string) (predictions.Account, error) {
	state, err := s.sessions.Current(deviceID)
	if err != nil {
		return predictions.Account{}, err
	}
	return account(state), nil
}

func (s *Service) Predictions(ctx context.Context, deviceID string) ([]predictions.Prediction, predictions.Source, error) {
	acct, err := s.account(deviceID)
	if err != nil {
		return nil, "", err
	}
	return s.predictions.List(ctx, deviceID, acct)
}

// DeletePrediction removes a saved prediction and clears the star on any turn
// that pointed at it.
func (s *Service) DeletePrediction(ctx context.Context, deviceID, id string) error {
	acct, err := s.account(deviceID)
	if err != nil {
		return err
	}
	if err := s.predictions.Delete(ctx, deviceID, acct, id); err != nil {
		return err
	}
	s.unmark(deviceID, func(savedID string) bool { return savedID == id })
	return nil
}

func (s *Service) ClearPredictions(ctx context.Context, deviceID string) error {
	acct, err := s.account(deviceID)
	if err != nil {
		return err
	}
	if err := s.predictions.Clear(ctx, deviceID, acct); err != nil {
		return err
	}
	s.unmark(deviceID, func(string) bool { return true })
	return nil
}

func (s *Service) Feedback(ctx context.Context, deviceID, id string, fb predictions.Feedback) (predictions.Prediction, error) {
	acct, err := s.account(deviceID)
	if err != nil {
		return predictions.Prediction{}, err
	}
	return s.predictions.SubmitFeedback(ctx, deviceID, acct, id, fb)
}

func (s *Service) unmark(deviceID string, match func(savedID string) bool) {
	w, ok := s.lookup(deviceID)
	if !ok {
		return
	}
	for _, p := range w.Panes() {
		for _, t := range p.Turns() {
			if t.SavedID == "" || !match(t.SavedID) {
				continue
			}
			if _, err := p.MarkSaved(t.ID, ""); err != nil && !errors.Is(err, pane.ErrTurnNotFound) {
				s.logger.Warn().Err(err).Str("turn", t.ID).Msg("Failed to clear saved mark")
			}
		}
	}
}
