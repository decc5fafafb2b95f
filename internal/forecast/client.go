// Package forecast talks to the remote TWIN forecasting backend.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx reply that carried no structured body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetryTime   time.Duration
}

type Client struct {
	client  *resty.Client
	baseURL string
	limiter *rate.Limiter
	retry   time.Duration
	logger  zerolog.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryTime == 0 {
		opts.MaxRetryTime = 10 * time.Second
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		client:  client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		retry:   opts.MaxRetryTime,
		logger:  log.With().Str("component", "forecast").Logger(),
	}
}

// Predict posts req to endpoint. A non-2xx reply whose body decodes is
// returned as a Reply so the caller can read error and suggestions; only
// transport failures and unstructured error bodies come back as errors.
func (c *Client) Predict(ctx context.Context, endpoint Endpoint, req Request) (*Reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + string(endpoint)
	c.logger.Debug().Str("url", target).Str("input", req.Input).Str("method", req.Method).Msg("Posting forecast request")

	// Only connection-level failures are retried. Any HTTP reply is final so a
	// slow backend never sees the same forecast twice.
	var resp *resty.Response
	operation := func() error {
		var err error
		resp, err = c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			Post(target)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, c.backoff(ctx)); err != nil {
		return nil, fmt.Errorf("failed to reach forecasting backend: %w", err)
	}

	var body Response
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug().Int("status", resp.StatusCode()).Str("stock", body.Stock).Str("mode", body.Mode).Msg("Forecast reply")
	return &Reply{Status: resp.StatusCode(), Body: body}, nil
}

// History returns the last days closes for ticker, oldest first.
func (c *Client) History(ctx context.Context, ticker string, days int) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("ticker", strings.ToUpper(ticker))
	query.Set("days", strconv.Itoa(days))
	target := c.baseURL + "/history?" + query.Encode()

	var resp *resty.Response
	operation := func() error {
		var err error
		resp, err = c.client.R().SetContext(ctx).Get(target)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		return nil
	}
	if err := backoff.Retry(operation, c.backoff(ctx)); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, statusErr
		}
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var history historyResponse
	if err := json.Unmarshal(resp.Body(), &history); err != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if history.Error != "" {
		return nil, fmt.Errorf("history for %s: %s", ticker, history.Error)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	return history.Closes, nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 200 * time.Millisecond
	strategy.MaxElapsedTime = c.retry
	return backoff.WithContext(strategy, ctx)
}
