package recognition

import (
	"context"
	"math"
	"strings"

	"github.com/loqalabs/loqa-order/internal/menu"
)

const (
	DefaultSequenceLength = 20
	DefaultThreshold      = 0.5

	// UnknownToken is the reserved id for words missing from the vocabulary
	// and for padding.
	UnknownToken = 0
)

// Predictor scores a token sequence, returning one probability per catalog
// index.
type Predictor interface {
	Predict(ctx context.Context, tokens []int) ([]float64, error)
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithSequenceLength sets the padded token length fed to the predictor.
// Non-positive values keep DefaultSequenceLength.
func WithSequenceLength(n int) ClassifierOption {
	return func(c *Classifier) {
		if n > 0 {
			c.seqLen = n
		}
	}
}

// WithThreshold sets the probability a catalog index must exceed.
func WithThreshold(t float64) ClassifierOption {
	return func(c *Classifier) {
		c.threshold = t
	}
}

// WithQuantityExtraction makes the classifier read spoken quantities with m
// for detections whose name literally occurs in the transcript.
func WithQuantityExtraction(m *Matcher) ClassifierOption {
	return func(c *Classifier) {
		c.quantities = m
	}
}

// WithBackendName labels BackendError values produced by this classifier.
func WithBackendName(name string) ClassifierOption {
	return func(c *Classifier) {
		if name != "" {
			c.backend = name
		}
	}
}

// Classifier is the model-backed detection strategy. The vocabulary is
// injected at construction and never mutated.
type Classifier struct {
	predictor  Predictor
	vocab      map[string]int
	seqLen     int
	threshold  float64
	quantities *Matcher
	backend    string
}

// NewClassifier builds a classifier over p. vocab maps lower-cased words to
// ids of at least 1.
func NewClassifier(p Predictor, vocab map[string]int, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		predictor: p,
		vocab:     vocab,
		seqLen:    DefaultSequenceLength,
		threshold: DefaultThreshold,
		backend:   "inference",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Classifier) Name() string { return StrategyClassifier }

// Recognize tokenizes the transcript, calls the predictor once and keeps every
// catalog index scoring above the threshold. Score slices longer or shorter
// than the catalog are clipped to the overlap.
func (c *Classifier) Recognize(ctx context.Context, transcript string, catalog []menu.Item) ([]Candidate, error) {
	if strings.TrimSpace(transcript) == "" || len(catalog) == 0 {
		return nil, nil
	}
	tokens := Tokenize(transcript, c.vocab, c.seqLen)
	probs, err := c.predictor.Predict(ctx, tokens)
	if err != nil {
		return nil, &BackendError{Backend: c.backend, Op: "predict", Err: err}
	}

	n := min(len(probs), len(catalog))
	var out []Candidate
	for i := 0; i < n; i++ {
		p := probs[i]
		if math.IsNaN(p) || p <= c.threshold {
			continue
		}
		qty := 1
		if c.quantities != nil {
			if q, ok := c.quantities.QuantityFor(transcript, catalog[i].Name); ok {
				if q < 1 {
					continue
				}
				qty = q
			}
		}
		conf := clamp01(p)
		out = append(out, Candidate{Item: catalog[i], Quantity: qty, Confidence: &conf})
	}
	return out, nil
}

// Tokenize maps lower-cased words to vocabulary ids, truncating to length or
// padding with UnknownToken. A word missing from the vocabulary is retried
// with its accents folded, so "café" still finds a "cafe" entry.
func Tokenize(transcript string, vocab map[string]int, length int) []int {
	if length <= 0 {
		length = DefaultSequenceLength
	}
	tokens := make([]int, length)
	words := strings.Fields(strings.ToLower(transcript))
	for i := 0; i < len(words) && i < length; i++ {
		if id, ok := vocab[words[i]]; ok {
			tokens[i] = id
		} else if id, ok := vocab[Normalize(words[i])]; ok {
			tokens[i] = id
		}
	}
	return tokens
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
