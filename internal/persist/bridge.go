// Package persist snapshots pane state into device storage and restores it on
// the next load.
package persist

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/pane"
	"twin-chat/internal/store"
)

// Storage is the slice of the device store the bridge needs.
type Storage interface {
	Get(deviceID, key string) (string, bool, error)
	SaveSnapshot(deviceID, pane, markup string, rows []store.TurnRow) error
	Turns(deviceID, pane string) ([]store.TurnRow, error)
}

type Bridge struct {
	storage Storage
	policy  *bluemonday.Policy
	logger  zerolog.Logger
}

// RestoreStats counts what a restore produced.
type RestoreStats struct {
	Live  int `json:"live"`
	Stale int `json:"stale"`
}

func NewBridge(storage Storage) *Bridge {
	return &Bridge{
		storage: storage,
		policy:  restorePolicy(),
		logger:  log.With().Str("component", "persist").Logger(),
	}
}

// Snapshot writes the pane's rendered markup and its turn cache. Running it
// twice in a row writes the same state.
func (b *Bridge) Snapshot(deviceID string, p *pane.Pane, opts pane.RenderOptions) error {
	turns := p.Turns()
	kept := turns[:0]
	rows := make([]store.TurnRow, 0, len(turns))
	for _, t := range turns {
		row, ok, err := rowOf(t)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		kept = append(kept, t)
		rows = append(rows, row)
	}

	markup, err := pane.RenderTurns(kept, p.Config(), opts)
	if err != nil {
		return fmt.Errorf("failed to render %s pane: %w", p.ID(), err)
	}
	if err := b.storage.SaveSnapshot(deviceID, string(p.ID()), markup, rows); err != nil {
		return fmt.Errorf("failed to snapshot %s pane: %w", p.ID(), err)
	}
	return nil
}

// Restore rebuilds the pane from its stored snapshot. Turns whose cached
// payload survives come back live; the rest come back stale with sanitised
// markup and only reload and dismiss available. Without a snapshot the pane is
// left as it is.
func (b *Bridge) Restore(deviceID string, p *pane.Pane, opts pane.RenderOptions) (RestoreStats, error) {
	markup, ok, err := b.storage.Get(deviceID, store.MessagesKey(string(p.ID())))
	if err != nil {
		return RestoreStats{}, fmt.Errorf("failed to read %s snapshot: %w", p.ID(), err)
	}
	if !ok || strings.TrimSpace(markup) == "" {
		return RestoreStats{}, nil
	}

	rows, err := b.storage.Turns(deviceID, string(p.ID()))
	if err != nil {
		return RestoreStats{}, fmt.Errorf("failed to read %s turn cache: %w", p.ID(), err)
	}
	cached := make(map[string]store.TurnRow, len(rows))
	for _, r := range rows {
		cached[r.TurnID] = r
	}

	fragments, err := splitSnapshot(markup, !opts.LoggedIn)
	if err != nil {
		// An unreadable snapshot is dropped rather than shown half-parsed.
		b.logger.Warn().Err(err).Str("device", deviceID).Str("pane", string(p.ID())).Msg("Failed to parse snapshot")
		return RestoreStats{}, nil
	}

	var stats RestoreStats
	turns := make([]*pane.Turn, 0, len(fragments))
	for _, f := range fragments {
		var t *pane.Turn
		if row, ok := cached[f.turnID]; ok && f.turnID != "" {
			t = turnOf(row)
		} else {
			t = staleTurn(f.turnID, f.prompt, "")
		}
		if t.ID == "" {
			t.ID = newTurnID()
		}
		if t.Variant == pane.VariantStale && t.Markup == "" {
			t.Markup = b.policy.Sanitize(f.markup)
		}
		if t.Variant == pane.VariantStale {
			stats.Stale++
		} else {
			stats.Live++
		}
		turns = append(turns, t)
	}

	p.Replace(turns)
	b.logger.Debug().Str("device", deviceID).Str("pane", string(p.ID())).
		Int("live", stats.Live).Int("stale", stats.Stale).Msg("Restored pane")
	return stats, nil
}

func restorePolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "strong", "em", "b", "p", "ul", "ol", "li", "h4", "br", "small", "i")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).Globally()
	p.AllowAttrs("title").Globally()
	return p
}
