package chat

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"twin-chat/internal/forecast"
	"twin-chat/internal/pane"
	"twin-chat/internal/predictions"
	"twin-chat/internal/session"
	"twin-chat/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     []forecast.Endpoint
	lastClose float64
}

func (f *fakeBackend) Predict(_ context.Context, endpoint forecast.Endpoint, req forecast.Request) (*forecast.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, endpoint)
	f.mu.Unlock()
	result := 110.0
	method := req.Method
	if method == "" {
		method = "ema_drift"
	}
	return &forecast.Reply{Status: http.StatusOK, Body: forecast.Response{
		Stock: "AAPL", Duration: "3 days", LastClose: f.lastClose, Result: &result, Method: method,
	}}, nil
}

func (f *fakeBackend) History(_ context.Context, ticker string, days int) ([]float64, error) {
	return []float64{1, 2, 3}, nil
}

type fakePredictionBackend struct {
	mu      sync.Mutex
	saved   []predictions.Prediction
	deleted []string
	started chan struct{}
	release chan struct{}
}

func (f *fakePredictionBackend) Save(_ context.Context, _ string, p predictions.Prediction) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakePredictionBackend) List(context.Context, string) ([]predictions.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.saved), nil
}

func (f *fakePredictionBackend) Delete(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePredictionBackend) Clear(context.Context, string) error { return nil }

func (f *fakePredictionBackend) SaveFeedback(context.Context, string, predictions.Prediction) error {
	return nil
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Publish(_ string, u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *store.Store
	backend *fakeBackend
	remote  *fakePredictionBackend
	pub     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "twin.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:   st,
		backend: &fakeBackend{lastClose: 100},
		remote:  &fakePredictionBackend{},
		pub:     &recorder{},
	}
	f.svc = NewService(f.backend, st, predictions.NewService(st, f.remote), f.pub)
	return f
}

func (f *fixture) submit(t *testing.T, id pane.ID, input string) TurnResult {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), "dev-1", id, input, "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return res
}

func TestLoadFreshVisitClearsChat(t *testing.T) {
	f := newFixture(t)
	f.submit(t, pane.Basic, "AAPL in 3 days")
	if err := f.svc.Snapshot("dev-1"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	res, err := f.svc.Load(context.Background(), "dev-1", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !res.Cleared {
		t.Error("Expected a fresh load to clear the chat")
	}
	if len(res.Basic.Turns) != 0 {
		t.Errorf("Expected empty basic pane, got %d turns", len(res.Basic.Turns))
	}
	if _, ok, _ := f.store.Get("dev-1", store.KeyMessagesBasic); ok {
		t.Error("Expected stored basic snapshot to be removed")
	}
}

func TestLoadFromPredictionsRestores(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Load(context.Background(), "dev-1", ""); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	f.submit(t, pane.Basic, "AAPL in 3 days")
	f.submit(t, pane.Plus, "AAPL in 3 days")

	res, err := f.svc.Load(context.Background(), "dev-1", "http://localhost:8080/predictions.html")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Cleared {
		t.Error("Expected the chat to survive a return from predictions")
	}
	if res.Restored.Live != 2 || res.Restored.Stale != 0 {
		t.Errorf("Expected 2 live turns restored, got %+v", res.Restored)
	}
	if res.Draft != "AAPL in 3 days" {
		t.Errorf("Expected draft to be kept, got %q", res.Draft)
	}
	if !strings.Contains(res.Basic.HTML, "AAPL") {
		t.Errorf("Expected restored markup to mention AAPL, got %s", res.Basic.HTML)
	}
}

func TestStarRequiresLogin(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, pane.Basic, "AAPL in 3 days")

	_, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if !errors.Is(err, session.ErrNotLoggedIn) {
		t.Errorf("Expected ErrNotLoggedIn, got %v", err)
	}
}

func TestStarSavesAndUnsaves(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	res := f.submit(t, pane.Basic, "AAPL in 3 days")

	star, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if err != nil {
		t.Fatalf("Star failed: %v", err)
	}
	if !star.Saved || star.PredictionID == "" {
		t.Fatalf("Expected a saved prediction, got %+v", star)
	}
	if len(f.remote.saved) != 1 {
		t.Fatalf("Expected one backend save, got %d", len(f.remote.saved))
	}
	p := f.remote.saved[0]
	if p.Delta != 10 || p.Pct != 10 || p.UserEmail != "a@example.com" || p.TurnID != res.Turn.ID {
		t.Errorf("Unexpected saved prediction: %+v", p)
	}
	if star.Turn.SavedID != star.PredictionID {
		t.Errorf("Expected turn to carry saved id %s, got %s", star.PredictionID, star.Turn.SavedID)
	}

	unstar, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if err != nil {
		t.Fatalf("Unstar failed: %v", err)
	}
	if unstar.Saved || unstar.Turn.SavedID != "" {
		t.Errorf("Expected turn to be unsaved, got %+v", unstar)
	}
	if len(f.remote.deleted) != 1 || f.remote.deleted[0] != star.PredictionID {
		t.Errorf("Expected backend delete of %s, got %v", star.PredictionID, f.remote.deleted)
	}
}

func TestStarIgnoredWhileSaveRunning(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	res := f.submit(t, pane.Basic, "AAPL in 3 days")
	f.remote.started = make(chan struct{}, 1)
	f.remote.release = make(chan struct{})

	done := make(chan StarResult)
	go func() {
		star, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
		if err != nil {
			t.Errorf("First star failed: %v", err)
		}
		done <- star
	}()
	<-f.remote.started

	second, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if err != nil {
		t.Fatalf("Second star failed: %v", err)
	}
	if !second.Skipped {
		t.Errorf("Expected second star to be skipped, got %+v", second)
	}

	close(f.remote.release)
	first := <-done
	if !first.Saved || first.PredictionID == "" {
		t.Fatalf("Expected first star to save, got %+v", first)
	}
	if len(f.remote.saved) != 1 {
		t.Errorf("Expected exactly one backend save, got %d", len(f.remote.saved))
	}
	list, _, err := f.svc.Predictions(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Predictions failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected one stored prediction, got %d", len(list))
	}
	turn, err := f.svc.Workspace("dev-1").Pane(pane.Basic).Turn(res.Turn.ID)
	if err != nil {
		t.Fatalf("Turn lookup failed: %v", err)
	}
	if turn.SavedID != first.PredictionID {
		t.Errorf("Expected turn saved id %s, got %s", first.PredictionID, turn.SavedID)
	}
}

func TestStarRefusesMissingPrices(t *testing.T) {
	f := newFixture(t)
	f.backend.lastClose = 0
	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	res := f.submit(t, pane.Basic, "AAPL in 3 days")

	_, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if !errors.Is(err, pane.ErrDataUnavailable) {
		t.Fatalf("Expected ErrDataUnavailable, got %v", err)
	}
	if len(f.remote.saved) != 0 {
		t.Errorf("Expected no backend save, got %d", len(f.remote.saved))
	}
	if _, ok, _ := f.store.Get("dev-1", store.KeyPredictions); ok {
		t.Error("Expected nothing written to the local predictions")
	}
}

func TestDeletePredictionClearsStar(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	res := f.submit(t, pane.Basic, "AAPL in 3 days")
	star, err := f.svc.Star(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if err != nil {
		t.Fatalf("Star failed: %v", err)
	}

	if err := f.svc.DeletePrediction(context.Background(), "dev-1", star.PredictionID); err != nil {
		t.Fatalf("DeletePrediction failed: %v", err)
	}
	turn, err := f.svc.Workspace("dev-1").Pane(pane.Basic).Turn(res.Turn.ID)
	if err != nil {
		t.Fatalf("Turn lookup failed: %v", err)
	}
	if turn.SavedID != "" {
		t.Errorf("Expected star to be cleared, got %s", turn.SavedID)
	}
}

func TestLoginResetsPanes(t *testing.T) {
	f := newFixture(t)
	f.submit(t, pane.Basic, "AAPL in 3 days")

	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	view, err := f.svc.View("dev-1", pane.Basic)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if len(view.Turns) != 0 {
		t.Errorf("Expected empty pane after login, got %d turns", len(view.Turns))
	}
}

func TestLogoutForgetsWorkspace(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login("dev-1", "a@example.com", "tok"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	f.submit(t, pane.Basic, "AAPL in 3 days")

	if err := f.svc.Logout("dev-1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok := f.svc.lookup("dev-1"); ok {
		t.Error("Expected workspace to be dropped")
	}
	state, err := f.svc.Session("dev-1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if state.LoggedIn {
		t.Error("Expected logged out state")
	}
}

func TestRunBoth(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RunBoth(context.Background(), "dev-1", "AAPL")
	if err != nil {
		t.Fatalf("RunBoth failed: %v", err)
	}
	if !res.Basic.Requested || res.Basic.Turn.Variant != pane.VariantForecast {
		t.Errorf("Expected basic forecast, got %+v", res.Basic)
	}
	if res.Plus.Requested || res.Plus.Turn.Variant != pane.VariantNotice {
		t.Errorf("Expected plus duration notice without a request, got %+v", res.Plus)
	}
	if len(f.backend.calls) != 1 {
		t.Errorf("Expected 1 backend call, got %d", len(f.backend.calls))
	}
}

func TestHandoffUsesOtherPane(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t, pane.Basic, "AAPL in 3 days")

	out, err := f.svc.Handoff(context.Background(), "dev-1", pane.Basic, res.Turn.ID)
	if err != nil {
		t.Fatalf("Handoff failed: %v", err)
	}
	if out.Pane != pane.Plus {
		t.Errorf("Expected plus pane, got %s", out.Pane)
	}
	if f.backend.calls[1] != forecast.EndpointPlus {
		t.Errorf("Expected plus endpoint, got %s", f.backend.calls[1])
	}
}

func TestUnknownPane(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "dev-1", pane.ID("gold"), "AAPL", "")
	if !errors.Is(err, ErrUnknownPane) {
		t.Errorf("Expected ErrUnknownPane, got %v", err)
	}
}

func TestSnapshotAllWritesDirtyOnly(t *testing.T) {
	f := newFixture(t)
	f.submit(t, pane.Basic, "AAPL in 3 days")
	f.svc.Workspace("dev-2")

	n, err := f.svc.SnapshotAll()
	if err != nil {
		t.Fatalf("SnapshotAll failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 snapshot, got %d", n)
	}
	if _, ok, _ := f.store.Get("dev-1", store.KeyMessagesBasic); !ok {
		t.Error("Expected basic snapshot to be stored")
	}

	if n, _ = f.svc.SnapshotAll(); n != 0 {
		t.Errorf("Expected nothing left to snapshot, got %d", n)
	}
}

func TestEvictIdle(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return base }
	f.submit(t, pane.Basic, "AAPL in 3 days")
	f.svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	f.svc.Workspace("dev-2")

	if n := f.svc.EvictIdle(time.Hour); n != 1 {
		t.Fatalf("Expected 1 eviction, got %d", n)
	}
	if _, ok := f.svc.lookup("dev-1"); ok {
		t.Error("Expected dev-1 to be evicted")
	}
	if _, ok := f.svc.lookup("dev-2"); !ok {
		t.Error("Expected dev-2 to be kept")
	}
	if _, ok, _ := f.store.Get("dev-1", store.KeyMessagesBasic); !ok {
		t.Error("Expected evicted workspace to be snapshotted")
	}
}

func TestUpdatesPublished(t *testing.T) {
	f := newFixture(t)
	f.submit(t, pane.Basic, "AAPL in 3 days")

	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	if len(f.pub.updates) < 2 {
		t.Fatalf("Expected append and update events, got %d", len(f.pub.updates))
	}
	first, last := f.pub.updates[0], f.pub.updates[len(f.pub.updates)-1]
	if first.Kind != pane.EventAppend || last.Kind != pane.EventUpdate {
		t.Errorf("Expected append then update, got %s then %s", first.Kind, last.Kind)
	}
	if !strings.Contains(last.HTML, "AAPL") {
		t.Errorf("Expected rendered html in update, got %q", last.HTML)
	}
}

func TestHistorySparkline(t *testing.T) {
	f := newFixture(t)
	h, err := f.svc.History(context.Background(), "AAPL", 30)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if h.Sparkline == "" || len(h.Closes) != 3 {
		t.Errorf("Unexpected history: %+v", h)
	}
}
