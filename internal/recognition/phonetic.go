package recognition

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/loqalabs/loqa-order/internal/numeral"
)

const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85

	minRepairRunes = 3
)

type PhoneticOption func(*PhoneticRepair)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a window whose
// Double Metaphone codes overlap a catalog name.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(r *PhoneticRepair) {
		if threshold > 0 {
			r.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score used when no
// phonetic overlap exists.
func WithFuzzyThreshold(threshold float64) PhoneticOption {
	return func(r *PhoneticRepair) {
		if threshold > 0 {
			r.fuzzyThreshold = threshold
		}
	}
}

// WithRepairNumerals tells the repairer which tokens are quantities so they
// are never rewritten into item names.
func WithRepairNumerals(p *numeral.Parser) PhoneticOption {
	return func(r *PhoneticRepair) {
		if p != nil {
			r.numerals = p
		}
	}
}

// PhoneticRepair replaces transcript phrases that sound like a catalog name
// with the name itself, so misheard items ("capucino") still match.
type PhoneticRepair struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	numerals          *numeral.Parser
}

func NewPhoneticRepair(opts ...PhoneticOption) *PhoneticRepair {
	r := &PhoneticRepair{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
		numerals:          numeral.New(nil),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type entity struct {
	text   string
	tokens []string
	codes  map[string]struct{}
}

// Repair scans normalized text with n-gram windows, longest first, and
// substitutes the best scoring entity for each accepted window.
func (r *PhoneticRepair) Repair(text string, entities []string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(entities) == 0 {
		return text
	}
	prepared := make([]entity, 0, len(entities))
	maxWords := 1
	for _, e := range entities {
		et := strings.Fields(e)
		if len(et) == 0 {
			continue
		}
		if len(et) > maxWords {
			maxWords = len(et)
		}
		prepared = append(prepared, entity{text: strings.Join(et, " "), tokens: et, codes: codesFor(et)})
	}

	protected := exactSpans(tokens, prepared)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if protected[i] {
			out = append(out, tokens[i])
			i++
			continue
		}
		n := maxWords
		if i+n > len(tokens) {
			n = len(tokens) - i
		}
		matched := false
		for ; n >= 1; n-- {
			window := tokens[i : i+n]
			if anyProtected(protected[i:i+n]) || r.hasNumeral(window) {
				continue
			}
			phrase := strings.Join(window, " ")
			if utf8.RuneCountInString(phrase) < minRepairRunes {
				continue
			}
			best, ok := r.best(window, phrase, prepared)
			if !ok {
				continue
			}
			out = append(out, best)
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// exactSpans marks tokens already spelling a catalog name so that a window
// straddling them cannot be rewritten into a different item.
func exactSpans(tokens []string, entities []entity) []bool {
	marked := make([]bool, len(tokens))
	for _, e := range entities {
		n := len(e.tokens)
		for i := 0; i+n <= len(tokens); i++ {
			if strings.Join(tokens[i:i+n], " ") != e.text {
				continue
			}
			for j := i; j < i+n; j++ {
				marked[j] = true
			}
		}
	}
	return marked
}

func anyProtected(marks []bool) bool {
	for _, m := range marks {
		if m {
			return true
		}
	}
	return false
}

func (r *PhoneticRepair) hasNumeral(window []string) bool {
	for _, w := range window {
		if _, ok := r.numerals.Token(w); ok {
			return true
		}
	}
	return false
}

func (r *PhoneticRepair) best(window []string, phrase string, entities []entity) (string, bool) {
	codes := codesFor(window)
	var (
		bestText     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range entities {
		score := jwScore(window, e.tokens, phrase, e.text)
		if overlaps(codes, e.codes) {
			if score >= r.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestText, bestScore, bestPhonetic = e.text, score, true
			}
			continue
		}
		if !bestPhonetic && score >= r.fuzzyThreshold && score > bestScore {
			bestText, bestScore = e.text, score
		}
	}
	return bestText, bestText != ""
}

func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// jwScore takes the better of the full-phrase and space-stripped similarity.
// Pairwise token scores are not used: they would let "latte" alone rewrite
// into "iced latte".
func jwScore(in, ent []string, inFull, entFull string) float64 {
	score := matchr.JaroWinkler(inFull, entFull, false)
	if len(in) > 1 || len(ent) > 1 {
		if s := matchr.JaroWinkler(strings.Join(in, ""), strings.Join(ent, ""), false); s > score {
			score = s
		}
	}
	return score
}
