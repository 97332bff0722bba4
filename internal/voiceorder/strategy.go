package voiceorder

import (
	"fmt"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/inference"
	"github.com/loqalabs/loqa-order/internal/numeral"
	"github.com/loqalabs/loqa-order/internal/recognition"
)

// BuildStrategy assembles the detection strategy selected by
// recognition.strategy. backend may be nil, in which case the classifier
// backend is built from cfg.Classifier.
func BuildStrategy(cfg config.Config, backend inference.Backend) (recognition.Strategy, error) {
	parser := numeral.New(cfg.Recognition.Numerals)
	opts := []recognition.MatcherOption{
		recognition.WithNumerals(parser),
		recognition.WithWindow(cfg.Recognition.WindowWords),
		recognition.WithQuantityPosition(recognition.QuantityPosition(cfg.Recognition.QuantityPosition)),
	}
	if ph := cfg.Recognition.Phonetic; ph.Enabled {
		opts = append(opts, recognition.WithPhoneticRepair(recognition.NewPhoneticRepair(
			recognition.WithPhoneticThreshold(ph.PhoneticThreshold),
			recognition.WithFuzzyThreshold(ph.FuzzyThreshold),
			recognition.WithRepairNumerals(parser),
		)))
	}
	matcher := recognition.NewMatcher(opts...)
	if cfg.Recognition.Strategy != recognition.StrategyClassifier {
		return matcher, nil
	}

	if backend == nil {
		var err error
		if backend, err = inference.New(cfg.Classifier); err != nil {
			return nil, fmt.Errorf("classifier backend: %w", err)
		}
	}
	vocab := map[string]int{}
	if path := cfg.Classifier.VocabPath; path != "" {
		var err error
		if vocab, err = inference.LoadVocabulary(path); err != nil {
			return nil, fmt.Errorf("load vocabulary %s: %w", path, err)
		}
	}
	copts := []recognition.ClassifierOption{
		recognition.WithSequenceLength(cfg.Classifier.SequenceLength),
		recognition.WithThreshold(cfg.Classifier.Threshold),
		recognition.WithBackendName(backend.Name()),
	}
	if cfg.Classifier.ExtractQuantities {
		copts = append(copts, recognition.WithQuantityExtraction(matcher))
	}
	return recognition.NewClassifier(backend, vocab, copts...), nil
}
