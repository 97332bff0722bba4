// Package recognition turns transcripts into candidate order lines.
//
// Two strategies share the Strategy contract: Matcher scans the transcript for
// catalog names and reads spoken quantities next to each mention; Classifier
// tokenizes the transcript against a vocabulary and thresholds the scores of a
// multi-label model. Both are stateless and safe for concurrent use.
package recognition

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/loqalabs/loqa-order/internal/menu"
)

const (
	StrategyMatcher    = "matcher"
	StrategyClassifier = "classifier"
)

// Candidate is a tentative order line. Confidence is nil for the heuristic
// matcher and set for classifier detections.
type Candidate struct {
	Item       menu.Item `json:"item"`
	Quantity   int       `json:"quantity"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// Strategy detects catalog items in a transcript. An empty result is not an
// error; errors are reserved for backend failures.
type Strategy interface {
	Name() string
	Recognize(ctx context.Context, transcript string, catalog []menu.Item) ([]Candidate, error)
}

// BackendError reports a failed call into an inference or transcription
// backend.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Normalize lower-cases text, strips combining accents and collapses runs of
// whitespace into single spaces.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
