package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadVocabulary reads a JSON object mapping words to token ids. Id 0 is
// reserved for unknown words and padding, so entries must use ids >= 1.
func LoadVocabulary(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if err := ValidateVocabulary(raw); err != nil {
		return nil, err
	}
	vocab := make(map[string]int, len(raw))
	for w, id := range raw {
		vocab[strings.ToLower(w)] = id
	}
	return vocab, nil
}

func ValidateVocabulary(vocab map[string]int) error {
	for w, id := range vocab {
		if strings.TrimSpace(w) == "" {
			return fmt.Errorf("vocabulary contains an empty word")
		}
		if id < 1 {
			return fmt.Errorf("vocabulary word %q has id %d, ids must be >= 1", w, id)
		}
	}
	return nil
}
