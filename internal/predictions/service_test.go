package predictions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"twin-chat/internal/store"
)

type fakeBackend struct {
	saved    []Prediction
	deleted  []string
	cleared  int
	feedback []Prediction
	list     []Prediction
	err      error
	listErr  error
}

func (f *fakeBackend) Save(_ context.Context, _ string, p Prediction) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakeBackend) List(context.Context, string) ([]Prediction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) Clear(context.Context, string) error {
	if f.err != nil {
		return f.err
	}
	f.cleared++
	return nil
}

func (f *fakeBackend) SaveFeedback(_ context.Context, _ string, p Prediction) error {
	if f.err != nil {
		return f.err
	}
	f.feedback = append(f.feedback, p)
	return nil
}

var user = Account{Email: "user@example.com", Token: "tok"}

func newTestService(t *testing.T) (*Service, *fakeBackend, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "twin.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	backend := &fakeBackend{}
	return NewService(st, backend), backend, st
}

func sample() Prediction {
	return Prediction{Stock: "AAPL", Duration: "3 days", LastClose: 100, PredictedPrice: 110, Method: "ema_drift", Delta: 10, Pct: 10}
}

func TestSaveGuardWritesNothing(t *testing.T) {
	svc, backend, st := newTestService(t)
	for _, p := range []Prediction{
		{Stock: "AAPL", LastClose: 0, PredictedPrice: 110},
		{Stock: "AAPL", LastClose: 100, PredictedPrice: 0},
	} {
		if _, err := svc.Save(context.Background(), "dev-1", user, p); !errors.Is(err, ErrIncomplete) {
			t.Errorf("Expected ErrIncomplete, got %v", err)
		}
		if _, err := svc.Save(context.Background(), "dev-1", Account{}, p); !errors.Is(err, ErrIncomplete) {
			t.Errorf("Expected ErrIncomplete for guest, got %v", err)
		}
	}
	if _, ok, _ := st.Get("dev-1", store.KeyPredictions); ok {
		t.Error("Expected twin_predictions to stay unwritten")
	}
	if len(backend.saved) != 0 {
		t.Errorf("Expected no backend saves, got %d", len(backend.saved))
	}
}

func TestGuestSaveIsLocal(t *testing.T) {
	svc, backend, _ := newTestService(t)
	p, err := svc.Save(context.Background(), "dev-1", Account{}, sample())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if p.ID == "" || p.Timestamp.IsZero() || p.UserEmail != "guest" {
		t.Errorf("Expected id, timestamp and guest owner, got %+v", p)
	}
	if len(backend.saved) != 0 {
		t.Error("Expected guest save to stay off the backend")
	}

	list, src, err := svc.List(context.Background(), "dev-1", Account{})
	if err != nil || src != SourceLocal || len(list) != 1 {
		t.Errorf("Expected 1 local prediction, got %d from %s (%v)", len(list), src, err)
	}
}

func TestAuthenticatedSaveBackendFirst(t *testing.T) {
	svc, backend, st := newTestService(t)
	backend.err = errors.New("backend down")

	if _, err := svc.Save(context.Background(), "dev-1", user, sample()); err == nil {
		t.Fatal("Expected backend failure to be returned")
	}
	if _, ok, _ := st.Get("dev-1", store.KeyPredictions); ok {
		t.Error("Expected nothing to be mirrored after a failed backend save")
	}

	backend.err = nil
	p, err := svc.Save(context.Background(), "dev-1", user, sample())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(backend.saved) != 1 || backend.saved[0].UserEmail != user.Email {
		t.Errorf("Expected backend save with owner, got %+v", backend.saved)
	}
	local, _ := svc.load("dev-1")
	if len(local) != 1 || local[0].ID != p.ID {
		t.Errorf("Expected mirrored prediction, got %+v", local)
	}
}

func TestListFallsBackToMirror(t *testing.T) {
	svc, backend, _ := newTestService(t)
	_, _ = svc.Save(context.Background(), "dev-1", user, sample())

	backend.list = []Prediction{{ID: "remote-1", Stock: "TSLA", LastClose: 200, PredictedPrice: 210}}
	list, src, err := svc.List(context.Background(), "dev-1", user)
	if err != nil || src != SourceBackend || len(list) != 1 || list[0].ID != "remote-1" {
		t.Fatalf("Expected backend listing, got %+v from %s (%v)", list, src, err)
	}

	backend.listErr = errors.New("unreachable")
	list, src, err = svc.List(context.Background(), "dev-1", user)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if src != SourceLocal || len(list) != 1 || list[0].ID != "remote-1" {
		t.Errorf("Expected refreshed mirror as fallback, got %+v from %s", list, src)
	}
}

func TestDeleteAndClear(t *testing.T) {
	svc, backend, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Save(ctx, "dev-1", Account{}, sample())
	_, _ = svc.Save(ctx, "dev-1", Account{}, sample())

	if err := svc.Delete(ctx, "dev-1", Account{}, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := svc.Delete(ctx, "dev-1", Account{}, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	list, _, _ := svc.List(ctx, "dev-1", Account{})
	if len(list) != 1 {
		t.Errorf("Expected 1 prediction left, got %d", len(list))
	}

	backend.err = errors.New("down")
	if err := svc.Clear(ctx, "dev-1", user); err == nil {
		t.Error("Expected clear to fail with the backend down")
	}
	if list, _ := svc.load("dev-1"); len(list) != 1 {
		t.Error("Expected mirror untouched after a failed clear")
	}

	backend.err = nil
	if err := svc.Clear(ctx, "dev-1", user); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if list, _ := svc.load("dev-1"); len(list) != 0 {
		t.Errorf("Expected empty mirror, got %d", len(list))
	}
	if backend.cleared != 1 {
		t.Errorf("Expected 1 backend clear, got %d", backend.cleared)
	}
}

func TestSubmitFeedback(t *testing.T) {
	svc, backend, _ := newTestService(t)
	ctx := context.Background()
	p, _ := svc.Save(ctx, "dev-1", user, sample())

	if _, err := svc.SubmitFeedback(ctx, "dev-1", user, p.ID, Feedback{Verdict: "maybe"}); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("Expected ErrInvalidFeedback, got %v", err)
	}
	if _, err := svc.SubmitFeedback(ctx, "dev-1", user, "missing", Feedback{Verdict: FeedbackAccurate}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	actual := 95.0
	got, err := svc.SubmitFeedback(ctx, "dev-1", user, p.ID, Feedback{
		Verdict:        FeedbackInaccurate,
		ActualPrice:    &actual,
		InaccuracyType: "direction",
		Notes:          "went down",
	})
	if err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
	if got.Feedback != FeedbackInaccurate || got.FeedbackTimestamp == nil || got.InaccuracyNotes != "went down" {
		t.Errorf("Unexpected prediction %+v", got)
	}
	if len(backend.feedback) != 1 {
		t.Errorf("Expected feedback forwarded, got %d", len(backend.feedback))
	}
	local, _ := svc.load("dev-1")
	if local[0].Feedback != FeedbackInaccurate {
		t.Error("Expected feedback mirrored locally")
	}
}
