package recognition

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/numeral"
)

// QuantityPosition selects which side of an item mention is searched for a
// spoken quantity.
type QuantityPosition string

const (
	QuantityBefore  QuantityPosition = "before"
	QuantityAfter   QuantityPosition = "after"
	QuantityNearest QuantityPosition = "nearest"
)

// DefaultWindowWords is how many words beside a mention are searched for a
// quantity.
const DefaultWindowWords = 3

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithNumerals replaces the default numeral vocabulary.
func WithNumerals(p *numeral.Parser) MatcherOption {
	return func(m *Matcher) {
		if p != nil {
			m.numerals = p
		}
	}
}

// WithWindow sets how many words around a mention are searched for a
// quantity. Non-positive values keep the default of 3.
func WithWindow(words int) MatcherOption {
	return func(m *Matcher) {
		if words > 0 {
			m.window = words
		}
	}
}

// WithQuantityPosition picks the side searched for quantities. Unknown values
// keep QuantityBefore.
func WithQuantityPosition(pos QuantityPosition) MatcherOption {
	return func(m *Matcher) {
		switch pos {
		case QuantityBefore, QuantityAfter, QuantityNearest:
			m.position = pos
		}
	}
}

// WithPhoneticRepair rewrites near-miss spellings of catalog names before the
// substring scan runs.
func WithPhoneticRepair(r *PhoneticRepair) MatcherOption {
	return func(m *Matcher) {
		m.repair = r
	}
}

// Matcher is the heuristic detection strategy. It is read-only after
// construction.
type Matcher struct {
	numerals *numeral.Parser
	window   int
	position QuantityPosition
	repair   *PhoneticRepair
}

// NewMatcher returns a substring matcher that reads quantities before each
// mention within DefaultWindowWords unless opts say otherwise.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		numerals: numeral.New(nil),
		window:   DefaultWindowWords,
		position: QuantityBefore,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Matcher) Name() string { return StrategyMatcher }

// Recognize never fails; it exists to satisfy Strategy.
func (m *Matcher) Recognize(_ context.Context, transcript string, catalog []menu.Item) ([]Candidate, error) {
	return m.Match(transcript, catalog), nil
}

type mention struct {
	start, end int
	item       int
}

// Match returns one candidate per catalog item mentioned in the transcript, in
// catalog order.
//
// Names are claimed longest first so that "iced coffee" consumes its text
// before "coffee" is searched. When an item is mentioned more than once the
// quantity read at its last mention wins. A mention whose quantity parses to
// zero is dropped.
func (m *Matcher) Match(transcript string, catalog []menu.Item) []Candidate {
	text := Normalize(transcript)
	if text == "" || len(catalog) == 0 {
		return nil
	}

	names := make([]string, len(catalog))
	order := make([]int, 0, len(catalog))
	seen := make(map[string]struct{}, len(catalog))
	for i, it := range catalog {
		n := Normalize(it.Name)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names[i] = n
		order = append(order, i)
	}
	if len(order) == 0 {
		return nil
	}

	if m.repair != nil {
		entities := make([]string, 0, len(order))
		for _, i := range order {
			entities = append(entities, names[i])
		}
		text = m.repair.Repair(text, entities)
	}

	sort.SliceStable(order, func(a, b int) bool {
		return utf8.RuneCountInString(names[order[a]]) > utf8.RuneCountInString(names[order[b]])
	})

	var claimed []mention
	for _, idx := range order {
		name := names[idx]
		from := 0
		for from+len(name) <= len(text) {
			k := strings.Index(text[from:], name)
			if k < 0 {
				break
			}
			cand := mention{start: from + k, end: from + k + len(name), item: idx}
			if overlapsAny(claimed, cand) {
				from = cand.start + 1
				continue
			}
			claimed = append(claimed, cand)
			from = cand.end
		}
	}
	if len(claimed) == 0 {
		return nil
	}
	sort.Slice(claimed, func(a, b int) bool { return claimed[a].start < claimed[b].start })

	quantities := make(map[int]int, len(claimed))
	for i, c := range claimed {
		lo, hi := 0, len(text)
		if i > 0 {
			lo = claimed[i-1].end
		}
		if i+1 < len(claimed) {
			hi = claimed[i+1].start
		}
		quantities[c.item] = m.quantity(text[lo:c.start], text[c.end:hi])
	}

	out := make([]Candidate, 0, len(quantities))
	for i, it := range catalog {
		q, ok := quantities[i]
		if !ok || q < 1 {
			continue
		}
		out = append(out, Candidate{Item: it, Quantity: q})
	}
	return out
}

// QuantityFor reads the quantity next to the last mention of name, returning
// false when the name does not occur. Used by the classifier when quantity
// extraction is enabled.
func (m *Matcher) QuantityFor(transcript, name string) (int, bool) {
	text := Normalize(transcript)
	name = Normalize(name)
	if text == "" || name == "" {
		return 0, false
	}
	k := strings.LastIndex(text, name)
	if k < 0 {
		return 0, false
	}
	return m.quantity(text[:k], text[k+len(name):]), true
}

func (m *Matcher) quantity(before, after string) int {
	var (
		n  int
		ok bool
	)
	switch m.position {
	case QuantityAfter:
		n, ok = m.numerals.ParseFollowing(firstWords(after, m.window))
	case QuantityNearest:
		n, ok = m.numerals.Nearest(lastWords(before, m.window), firstWords(after, m.window))
	default:
		n, ok = m.numerals.Parse(lastWords(before, m.window))
	}
	if !ok {
		return 1
	}
	return n
}

func overlapsAny(claimed []mention, c mention) bool {
	for _, o := range claimed {
		if c.start < o.end && o.start < c.end {
			return true
		}
	}
	return false
}

func lastWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
