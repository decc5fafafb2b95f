// Package predictions saves starred forecasts for a device, against the
// prediction backend for signed-in users and in device storage for guests.
package predictions

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("prediction not found")
	ErrIncomplete      = errors.New("prediction has no usable prices")
	ErrInvalidFeedback = errors.New("feedback must be accurate or inaccurate")
)

const (
	FeedbackAccurate   = "accurate"
	FeedbackInaccurate = "inaccurate"
)

// Prediction is a saved forecast in the shape the browser keeps it.
type Prediction struct {
	ID                string     `json:"id" yaml:"id"`
	Stock             string     `json:"stock" yaml:"stock"`
	Duration          string     `json:"duration" yaml:"duration"`
	LastClose         float64    `json:"lastClose" yaml:"lastClose"`
	PredictedPrice    float64    `json:"predictedPrice" yaml:"predictedPrice"`
	Method            string     `json:"method" yaml:"method"`
	Delta             float64    `json:"delta" yaml:"delta"`
	Pct               float64    `json:"pct" yaml:"pct"`
	Timestamp         time.Time  `json:"timestamp" yaml:"timestamp"`
	UserEmail         string     `json:"userEmail,omitempty" yaml:"userEmail,omitempty"`
	TurnID            string     `json:"turnId,omitempty" yaml:"turnId,omitempty"`
	Feedback          string     `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	ActualPrice       *float64   `json:"actualPrice,omitempty" yaml:"actualPrice,omitempty"`
	FeedbackTimestamp *time.Time `json:"feedbackTimestamp,omitempty" yaml:"feedbackTimestamp,omitempty"`
	InaccuracyType    string     `json:"inaccuracyType,omitempty" yaml:"inaccuracyType,omitempty"`
	InaccuracyValue   string     `json:"inaccuracyValue,omitempty" yaml:"inaccuracyValue,omitempty"`
	InaccuracyNotes   string     `json:"inaccuracyNotes,omitempty" yaml:"inaccuracyNotes,omitempty"`
}

// Feedback is the user's verdict on a saved prediction.
type Feedback struct {
	Verdict         string   `json:"feedback"`
	ActualPrice     *float64 `json:"actualPrice,omitempty"`
	InaccuracyType  string   `json:"inaccuracyType,omitempty"`
	InaccuracyValue string   `json:"inaccuracyValue,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

func (f Feedback) validate() error {
	if f.Verdict != FeedbackAccurate && f.Verdict != FeedbackInaccurate {
		return ErrInvalidFeedback
	}
	return nil
}

func (p *Prediction) apply(f Feedback, at time.Time) {
	p.Feedback = f.Verdict
	p.ActualPrice = f.ActualPrice
	p.FeedbackTimestamp = &at
	if f.Verdict == FeedbackInaccurate {
		p.InaccuracyType = f.InaccuracyType
		p.InaccuracyValue = f.InaccuracyValue
		p.InaccuracyNotes = f.Notes
	} else {
		p.InaccuracyType, p.InaccuracyValue, p.InaccuracyNotes = "", "", ""
	}
}

// Account identifies who owns the predictions. The zero value is a guest.
type Account struct {
	Email string
	Token string
}

func (a Account) Authenticated() bool {
	return a.Email != "" && a.Token != ""
}

// Source says where a listing came from.
type Source string

const (
	SourceBackend Source = "backend"
	SourceLocal   Source = "local"
)
