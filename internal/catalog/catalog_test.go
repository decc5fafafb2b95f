package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadEmbedded(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Popular(5)) != 5 {
		t.Errorf("Expected 5 popular stocks")
	}
	if got := c.Popular(0); len(got) != len(c.stocks) {
		t.Errorf("Expected all stocks for n=0, got %d", len(got))
	}
}

func TestSearch(t *testing.T) {
	c, err := Parse(strings.NewReader("AAPL,Apple Inc.,apple;iphone\nMA,Mastercard Incorporated,mastercard\nMETA,Meta Platforms Inc.,facebook\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", nil},
		{"aapl", []string{"AAPL"}},
		{"iphone", []string{"AAPL"}},
		{"ma", []string{"MA"}},
		{"in", []string{"AAPL", "MA", "META"}},
		{"facebook", []string{"META"}},
		{"mp", []string{"META"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		got := c.Search(tt.query, 10)
		if len(got) != len(tt.want) {
			t.Errorf("Search(%q): expected %v, got %+v", tt.query, tt.want, got)
			continue
		}
		for i := range got {
			if got[i].Symbol != tt.want[i] {
				t.Errorf("Search(%q)[%d]: expected %s, got %s", tt.query, i, tt.want[i], got[i].Symbol)
			}
		}
	}

	if got := c.Search("a", 1); len(got) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(got))
	}
}

func TestWithDuration(t *testing.T) {
	got, err := WithDuration(" Apple ", "3 days")
	if err != nil || got != "Apple in 3 days" {
		t.Errorf("Expected %q, got %q (%v)", "Apple in 3 days", got, err)
	}
	if _, err := WithDuration("Apple", "3 fortnights"); !errors.Is(err, ErrUnknownDuration) {
		t.Errorf("Expected ErrUnknownDuration, got %v", err)
	}
	if _, err := WithDuration("  ", "1 day"); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Expected ErrEmptyQuery, got %v", err)
	}
}
