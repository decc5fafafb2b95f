// Package catalog backs the ticker dropdown and duration presets of the
// chat input.
package catalog

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode"
)

//go:embed stocks.csv
var stocksCSV string

var (
	ErrUnknownDuration = errors.New("unknown duration preset")
	ErrEmptyQuery      = errors.New("empty query")
)

// Durations are the preset horizons offered after a ticker is picked.
var Durations = []string{"1 day", "3 days", "1 week", "2 weeks", "1 month", "3 months", "6 months", "1 year"}

type Stock struct {
	Symbol     string
	Name       string
	Aliases    []string
	searchText string
}

type Result struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
}

type Catalog struct {
	stocks []Stock
}

// Load reads the embedded ticker list.
func Load() (*Catalog, error) {
	return Parse(strings.NewReader(stocksCSV))
}

// Parse reads symbol,name,aliases records. Aliases are separated by ';'.
func Parse(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var stocks []Stock
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) < 2 {
			continue
		}

		s := Stock{
			Symbol: strings.TrimSpace(record[0]),
			Name:   strings.TrimSpace(record[1]),
		}
		if len(record) >= 3 {
			for _, a := range strings.Split(record[2], ";") {
				if a = strings.TrimSpace(a); a != "" {
					s.Aliases = append(s.Aliases, a)
				}
			}
		}
		s.searchText = strings.ToLower(strings.Join(append([]string{s.Symbol, s.Name}, s.Aliases...), " "))
		stocks = append(stocks, s)
	}
	return &Catalog{stocks: stocks}, nil
}

// Popular returns the first n stocks in list order.
func (c *Catalog) Popular(n int) []Result {
	if n > len(c.stocks) || n <= 0 {
		n = len(c.stocks)
	}
	out := make([]Result, 0, n)
	for _, s := range c.stocks[:n] {
		out = append(out, s.result())
	}
	return out
}

// Search matches query against symbol, name, aliases and word initials.
// Exact symbol hits come first.
func (c *Catalog) Search(query string, limit int) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []Result{}
	}

	var exact, rest []Result
	for _, s := range c.stocks {
		switch {
		case strings.ToLower(s.Symbol) == query:
			exact = append(exact, s.result())
		case matches(s, query):
			rest = append(rest, s.result())
		}
	}
	results := append(exact, rest...)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func matches(s Stock, query string) bool {
	if strings.Contains(s.searchText, query) {
		return true
	}
	// word initials, so "mp" finds Meta Platforms
	if len([]rune(query)) >= 2 {
		return strings.HasPrefix(initials(s.Name), query)
	}
	return false
}

func initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)
		if unicode.IsLetter(r[0]) {
			b.WriteRune(unicode.ToLower(r[0]))
		}
	}
	return b.String()
}

func (s Stock) result() Result {
	return Result{Symbol: s.Symbol, Name: s.Name, FullName: fmt.Sprintf("%s (%s)", s.Name, s.Symbol)}
}

// WithDuration appends a preset horizon to the query as the duration picker
// does.
func WithDuration(query, preset string) (string, error) {
	if !slices.Contains(Durations, preset) {
		return "", ErrUnknownDuration
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query + " in " + preset, nil
}
