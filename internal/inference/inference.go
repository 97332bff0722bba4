// Package inference provides the model backends used by the classifier
// recognition strategy.
package inference

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-order/internal/config"
)

// Backend scores a token sequence. Implementations are pure per call and
// safe for concurrent use.
type Backend interface {
	Name() string
	Predict(ctx context.Context, tokens []int) ([]float64, error)
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.ClassifierConfig) (Backend, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(cfg.MockScores), nil
	case "exec":
		return NewExec(cfg.Command)
	case "http":
		return NewHTTP(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
}
