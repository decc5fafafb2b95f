package persist

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fragment is one turn cut out of a snapshot.
type fragment struct {
	turnID string
	prompt string
	markup string
}

// Classes of controls that never survive into restored markup: they would
// need the payload the turn no longer has.
var controlClasses = []string{"btnrow", "method-row", "method-menu", "explain", "restored-notice", "sparkline", "suggestions", "suggestion-retry-full"}

// splitSnapshot cuts stored pane markup into turns. Current snapshots wrap
// each turn in a div.turn carrying its id. Older snapshots are flat runs of
// div.user and div.bot siblings, which are paired in order.
func splitSnapshot(markup string, stripStar bool) ([]fragment, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	var out []fragment
	var pending *html.Node
	flush := func(user, bot *html.Node) error {
		f := fragment{}
		var buf bytes.Buffer
		for _, n := range []*html.Node{user, bot} {
			if n == nil {
				continue
			}
			clean(n, stripStar)
			if err := html.Render(&buf, n); err != nil {
				return fmt.Errorf("failed to render restored markup: %w", err)
			}
		}
		if user != nil {
			f.prompt = promptOf(user)
		}
		f.markup = buf.String()
		out = append(out, f)
		return nil
	}

	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		switch {
		case hasClass(n, "turn"):
			if pending != nil {
				if err := flush(pending, nil); err != nil {
					return nil, err
				}
				pending = nil
			}
			f, err := turnFragment(n, stripStar)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		case hasClass(n, "user"):
			if pending != nil {
				if err := flush(pending, nil); err != nil {
					return nil, err
				}
			}
			pending = n
		case hasClass(n, "bot"):
			if err := flush(pending, n); err != nil {
				return nil, err
			}
			pending = nil
		}
	}
	if pending != nil {
		if err := flush(pending, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func turnFragment(n *html.Node, stripStar bool) (fragment, error) {
	f := fragment{turnID: attr(n, "data-turn-id")}
	clean(n, stripStar)

	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, "user") && f.prompt == "" {
			f.prompt = promptOf(c)
		}
		if err := html.Render(&buf, c); err != nil {
			return fragment{}, fmt.Errorf("failed to render restored markup: %w", err)
		}
	}
	f.markup = buf.String()
	return f, nil
}

// clean removes interactive controls from n's subtree. Star-save buttons go
// first for guests; every other control follows since restored markup is
// display-only.
func clean(n *html.Node, stripStar bool) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type != html.ElementNode {
			continue
		}
		if stripStar && hasClass(c, "star-save-btn") {
			n.RemoveChild(c)
			continue
		}
		if c.DataAtom == atom.Button || c.DataAtom == atom.Script || slices.ContainsFunc(controlClasses, func(cls string) bool { return hasClass(c, cls) }) {
			n.RemoveChild(c)
			continue
		}
		clean(c, stripStar)
	}
}

// promptOf recovers the query from a rendered user line.
func promptOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSuffix(strings.TrimSpace(b.String()), "?")
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func newTurnID() string {
	return uuid.NewString()
}
