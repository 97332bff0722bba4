// Package numeral extracts order quantities from short text windows.
package numeral

import (
	"strconv"
	"strings"
)

// Indonesian is the default spoken-numeral vocabulary.
var Indonesian = map[string]int{
	"satu":     1,
	"dua":      2,
	"tiga":     3,
	"empat":    4,
	"lima":     5,
	"enam":     6,
	"tujuh":    7,
	"delapan":  8,
	"sembilan": 9,
	"sepuluh":  10,
}

// MaxQuantity bounds digit sequences read as quantities. Longer numbers in a
// transcript are prices, years or phone numbers, not counts.
const MaxQuantity = 999

// Parser resolves numeral tokens against a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Parser struct {
	words map[string]int
}

// New returns a parser for the given word vocabulary. A nil or empty
// vocabulary falls back to Indonesian. Keys are matched case-insensitively.
func New(words map[string]int) *Parser {
	if len(words) == 0 {
		words = Indonesian
	}
	p := &Parser{words: make(map[string]int, len(words))}
	for w, n := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || n < 0 {
			continue
		}
		p.words[w] = n
	}
	return p
}

// Parse reads a window that precedes an item mention. The numeral closest to
// the end of the window wins.
func (p *Parser) Parse(window string) (int, bool) {
	tokens := strings.Fields(window)
	for i := len(tokens) - 1; i >= 0; i-- {
		if n, ok := p.Token(tokens[i]); ok {
			return n, true
		}
	}
	return 0, false
}

// ParseFollowing reads a window that follows an item mention. The numeral
// closest to the start of the window wins.
func (p *Parser) ParseFollowing(window string) (int, bool) {
	n, _, ok := p.nearestFromStart(strings.Fields(window))
	return n, ok
}

// Nearest inspects the words on both sides of a mention and returns the
// numeral with the fewest intervening words. Ties go to the preceding side.
func (p *Parser) Nearest(before, after string) (int, bool) {
	bt := strings.Fields(before)
	bn, bdist, bok := 0, 0, false
	for i := len(bt) - 1; i >= 0; i-- {
		if n, ok := p.Token(bt[i]); ok {
			bn, bdist, bok = n, len(bt)-1-i, true
			break
		}
	}
	an, adist, aok := p.nearestFromStart(strings.Fields(after))
	switch {
	case bok && aok:
		if adist < bdist {
			return an, true
		}
		return bn, true
	case bok:
		return bn, true
	case aok:
		return an, true
	}
	return 0, false
}

// Token resolves a single word or a digit sequence no larger than
// MaxQuantity. Surrounding punctuation is ignored.
func (p *Parser) Token(tok string) (int, bool) {
	tok = strings.ToLower(strings.Trim(tok, ".,!?;:\"'()"))
	if tok == "" {
		return 0, false
	}
	if n, ok := p.words[tok]; ok {
		return n, true
	}
	if !isDigits(tok) {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n > MaxQuantity {
		return 0, false
	}
	return n, true
}

func (p *Parser) nearestFromStart(tokens []string) (int, int, bool) {
	for i, tok := range tokens {
		if n, ok := p.Token(tok); ok {
			return n, i, true
		}
	}
	return 0, 0, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
