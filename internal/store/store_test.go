package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "twin.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetOverwrite(t *testing.T) {
	s := openTestStore(t)

	if _, ok, err := s.Get("dev-1", KeyLastQuery); err != nil || ok {
		t.Fatalf("Expected unset key, got ok=%v err=%v", ok, err)
	}
	if err := s.Set("dev-1", KeyLastQuery, "Apple"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("dev-1", KeyLastQuery, "Apple in 3 days"); err != nil {
		t.Fatalf("Second Set failed: %v", err)
	}
	v, ok, err := s.Get("dev-1", KeyLastQuery)
	if err != nil || !ok || v != "Apple in 3 days" {
		t.Errorf("Expected last write to win, got %q ok=%v err=%v", v, ok, err)
	}

	if _, ok, _ := s.Get("dev-2", KeyLastQuery); ok {
		t.Error("Expected keys to be scoped to their device")
	}
}

func TestDeleteDropsTurnCache(t *testing.T) {
	s := openTestStore(t)
	rows := []TurnRow{
		{TurnID: "a", Prompt: "Apple in 3 days", Variant: "forecast", Payload: `{"stock":"AAPL"}`},
		{TurnID: "b", Prompt: "Tesla next week", Variant: "forecast"},
	}
	if err := s.SaveSnapshot("dev-1", "basic", "<div></div>", rows); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := s.SaveSnapshot("dev-1", "plus", "<div></div>", rows[:1]); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	if err := s.Delete("dev-1", KeyMessagesBasic); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	basic, _ := s.Turns("dev-1", "basic")
	if len(basic) != 0 {
		t.Errorf("Expected basic turn cache to be dropped, got %d rows", len(basic))
	}
	plus, _ := s.Turns("dev-1", "plus")
	if len(plus) != 1 {
		t.Errorf("Expected plus turn cache to survive, got %d rows", len(plus))
	}
}

func TestSaveSnapshotReplacesRows(t *testing.T) {
	s := openTestStore(t)
	first := []TurnRow{{TurnID: "a", Prompt: "one", Variant: "forecast"}, {TurnID: "b", Prompt: "two", Variant: "forecast"}}
	second := []TurnRow{{TurnID: "c", Prompt: "three", Variant: "forecast"}, {TurnID: "a", Prompt: "one", Variant: "forecast"}}

	if err := s.SaveSnapshot("dev-1", "plus", "first", first); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := s.SaveSnapshot("dev-1", "plus", "second", second); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	rows, err := s.Turns("dev-1", "plus")
	if err != nil {
		t.Fatalf("Turns failed: %v", err)
	}
	if len(rows) != 2 || rows[0].TurnID != "c" || rows[1].TurnID != "a" {
		t.Errorf("Expected rows [c a], got %+v", rows)
	}
	markup, _, _ := s.Get("dev-1", KeyMessagesPlus)
	if markup != "second" {
		t.Errorf("Expected latest markup, got %q", markup)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	_ = s.Set("dev-1", KeyLoggedIn, "true")
	_ = s.Set("dev-1", KeyThemeCSS, "dark.css")
	_ = s.Set("dev-2", KeyThemeCSS, "light.css")
	_ = s.SaveSnapshot("dev-1", "basic", "x", []TurnRow{{TurnID: "a", Prompt: "p", Variant: "forecast"}})

	if err := s.Clear("dev-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	entries, _ := s.Entries("dev-1")
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %v", entries)
	}
	rows, _ := s.Turns("dev-1", "basic")
	if len(rows) != 0 {
		t.Errorf("Expected no turn rows, got %d", len(rows))
	}
	other, _ := s.Entries("dev-2")
	if other[KeyThemeCSS] != "light.css" {
		t.Error("Expected other devices to be untouched")
	}
}

func TestTouchDevices(t *testing.T) {
	s := openTestStore(t)
	if err := s.Touch("dev-1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if err := s.Touch("dev-1"); err != nil {
		t.Fatalf("Second touch failed: %v", err)
	}
	_ = s.Touch("dev-2")

	devices, err := s.Devices()
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("Expected 2 devices, got %d", len(devices))
	}
}
