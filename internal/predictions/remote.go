package predictions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Remote talks to the prediction persistence backend. Every call carries the
// user's bearer token.
type Remote struct {
	client       *resty.Client
	baseURL      string
	maxRetryTime time.Duration
	logger       zerolog.Logger
}

type RemoteOptions struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetryTime time.Duration
}

func NewRemote(opts RemoteOptions) *Remote {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetryTime == 0 {
		opts.MaxRetryTime = 10 * time.Second
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "twin-chat/1.0")

	return &Remote{
		client:       client,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		maxRetryTime: opts.MaxRetryTime,
		logger:       log.With().Str("component", "predictions").Logger(),
	}
}

type envelope struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Predictions []remoteRecord `json:"predictions,omitempty"`
}

// remoteRecord is the backend's row format.
type remoteRecord struct {
	ID             string   `json:"id"`
	Stock          string   `json:"stock"`
	Duration       string   `json:"duration"`
	LastClose      float64  `json:"last_close"`
	PredictedPrice float64  `json:"predicted_price"`
	Method         string   `json:"method"`
	Delta          float64  `json:"delta"`
	Pct            float64  `json:"pct"`
	Timestamp      string   `json:"timestamp"`
	Feedback       string   `json:"feedback,omitempty"`
	ActualPrice    *float64 `json:"actual_price,omitempty"`
}

func (r remoteRecord) prediction() Prediction {
	return Prediction{
		ID:             r.ID,
		Stock:          r.Stock,
		Duration:       r.Duration,
		LastClose:      r.LastClose,
		PredictedPrice: r.PredictedPrice,
		Method:         r.Method,
		Delta:          r.Delta,
		Pct:            r.Pct,
		Timestamp:      parseTimestamp(r.Timestamp),
		Feedback:       r.Feedback,
		ActualPrice:    r.ActualPrice,
	}
}

type feedbackRequest struct {
	PredictionID   string          `json:"prediction_id"`
	Feedback       string          `json:"feedback"`
	ActualPrice    *float64        `json:"actual_price"`
	Stock          string          `json:"stock"`
	Duration       string          `json:"duration"`
	PredictedPrice float64         `json:"predictedPrice"`
	LastClose      float64         `json:"lastClose"`
	Method         string          `json:"method"`
	UserEmail      string          `json:"userEmail"`
	InaccuracyData *inaccuracyData `json:"inaccuracyData"`
}

type inaccuracyData struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Notes string `json:"notes"`
}

func (r *Remote) Save(ctx context.Context, token string, p Prediction) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(p).
		Post(r.baseURL + "/api/predictions/save")
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	if _, err := decodeEnvelope(resp); err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

func (r *Remote) List(ctx context.Context, token string) ([]Prediction, error) {
	var env envelope
	err := r.retry(ctx, func() error {
		resp, err := r.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			Get(r.baseURL + "/api/predictions/user")
		if err != nil {
			return err
		}
		env, err = decodeEnvelope(resp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	out := make([]Prediction, 0, len(env.Predictions))
	for _, rec := range env.Predictions {
		out = append(out, rec.prediction())
	}
	return out, nil
}

func (r *Remote) Delete(ctx context.Context, token, id string) error {
	err := r.retry(ctx, func() error {
		resp, err := r.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			Delete(r.baseURL + "/api/predictions/delete/" + url.PathEscape(id))
		if err != nil {
			return err
		}
		_, err = decodeEnvelope(resp)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete prediction %s: %w", id, err)
	}
	return nil
}

func (r *Remote) Clear(ctx context.Context, token string) error {
	err := r.retry(ctx, func() error {
		resp, err := r.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			Delete(r.baseURL + "/api/predictions/clear")
		if err != nil {
			return err
		}
		_, err = decodeEnvelope(resp)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear predictions: %w", err)
	}
	return nil
}

// SaveFeedback forwards a verdict on p, which already carries it.
func (r *Remote) SaveFeedback(ctx context.Context, token string, p Prediction) error {
	body := feedbackRequest{
		PredictionID:   p.ID,
		Feedback:       p.Feedback,
		ActualPrice:    p.ActualPrice,
		Stock:          p.Stock,
		Duration:       p.Duration,
		PredictedPrice: p.PredictedPrice,
		LastClose:      p.LastClose,
		Method:         p.Method,
		UserEmail:      p.UserEmail,
	}
	if p.Feedback == FeedbackInaccurate {
		body.InaccuracyData = &inaccuracyData{Type: p.InaccuracyType, Value: p.InaccuracyValue, Notes: p.InaccuracyNotes}
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		Post(r.baseURL + "/save_feedback")
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to save feedback: %w", &RejectedError{StatusCode: resp.StatusCode(), Message: string(resp.Body())})
	}
	return nil
}

// retry repeats fn on transport errors and 5xx replies until maxRetryTime is
// spent. Rejections are returned at once.
func (r *Remote) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.maxRetryTime

	return backoff.RetryNotify(func() error {
		err := fn()
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.logger.Debug().Err(err).Dur("wait", wait).Msg("Prediction backend call failed, retrying")
	})
}

// RejectedError is a reply the backend sent but did not accept.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("prediction backend rejected request (%d): %s", e.StatusCode, e.Message)
}

func decodeEnvelope(resp *resty.Response) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return envelope{}, &RejectedError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	if resp.IsError() || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = resp.Status()
		}
		return envelope{}, &RejectedError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return env, nil
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
