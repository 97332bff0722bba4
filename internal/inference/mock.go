package inference

import "context"

type mockBackend struct {
	scores []float64
}

// NewMock returns a backend that answers every request with scores. A nil
// slice yields no detections.
func NewMock(scores []float64) Backend {
	return &mockBackend{scores: append([]float64(nil), scores...)}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Predict(ctx context.Context, _ []int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]float64(nil), m.scores...), nil
}
