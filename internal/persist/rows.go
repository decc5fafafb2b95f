package persist

import (
	"encoding/json"
	"fmt"

	"twin-chat/internal/forecast"
	"twin-chat/internal/pane"
	"twin-chat/internal/store"
)

// rowOf flattens a turn into its cache row. Loading turns have nothing worth
// keeping and are skipped.
func rowOf(t *pane.Turn) (store.TurnRow, bool, error) {
	if t.Variant == pane.VariantLoading {
		return store.TurnRow{}, false, nil
	}
	row := store.TurnRow{
		TurnID:       t.ID,
		Prompt:       t.Prompt,
		Method:       t.Method,
		Variant:      string(t.Variant),
		ErrorText:    t.ErrorText,
		Notice:       t.Notice,
		StarText:     t.StarText,
		ExplainOpen:  t.ExplainOpen,
		ExplainPlain: t.ExplainPlain,
		MenuOpen:     t.MenuOpen,
		Flipped:      t.Flipped,
		SavedID:      t.SavedID,
		TurnCreated:  t.CreatedAt,
	}
	if t.Variant == pane.VariantStale {
		row.Markup = t.Markup
	}

	var err error
	if row.Payload, err = encode(t.Payload); err != nil {
		return store.TurnRow{}, false, fmt.Errorf("failed to encode payload of %s: %w", t.ID, err)
	}
	if row.StarPayload, err = encode(t.StarPayload); err != nil {
		return store.TurnRow{}, false, fmt.Errorf("failed to encode TWIN* payload of %s: %w", t.ID, err)
	}
	if len(t.Suggestions) > 0 {
		if row.Suggestions, err = encode(t.Suggestions); err != nil {
			return store.TurnRow{}, false, fmt.Errorf("failed to encode suggestions of %s: %w", t.ID, err)
		}
	}
	return row, true, nil
}

// turnOf rebuilds a turn from its row. A row whose payload is missing or
// unreadable comes back stale.
func turnOf(row store.TurnRow) *pane.Turn {
	t := &pane.Turn{
		ID:           row.TurnID,
		Prompt:       row.Prompt,
		Method:       row.Method,
		Variant:      pane.Variant(row.Variant),
		ErrorText:    row.ErrorText,
		Notice:       row.Notice,
		StarText:     row.StarText,
		ExplainOpen:  row.ExplainOpen,
		ExplainPlain: row.ExplainPlain,
		MenuOpen:     row.MenuOpen,
		Flipped:      row.Flipped,
		SavedID:      row.SavedID,
		CreatedAt:    row.TurnCreated,
	}

	switch t.Variant {
	case pane.VariantForecast, pane.VariantPriceOnly:
		var payload forecast.Response
		if row.Payload == "" || json.Unmarshal([]byte(row.Payload), &payload) != nil {
			return staleTurn(t.ID, t.Prompt, "")
		}
		t.Payload = &payload
		if row.StarPayload != "" {
			var star forecast.Response
			if json.Unmarshal([]byte(row.StarPayload), &star) == nil {
				t.StarPayload = &star
			}
		}
	case pane.VariantSuggestions:
		if json.Unmarshal([]byte(row.Suggestions), &t.Suggestions) != nil || len(t.Suggestions) == 0 {
			t.Variant = pane.VariantError
		}
	case pane.VariantError, pane.VariantNotice:
	case pane.VariantStale:
		t.Markup = row.Markup
	default:
		return staleTurn(t.ID, t.Prompt, row.Markup)
	}
	return t
}

func staleTurn(id, prompt, markup string) *pane.Turn {
	return &pane.Turn{ID: id, Prompt: prompt, Variant: pane.VariantStale, Markup: markup}
}

func encode(v any) (string, error) {
	switch x := v.(type) {
	case *forecast.Response:
		if x == nil {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
