package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 4 << 20

type httpBackend struct {
	endpoint string
	client   *http.Client
}

type predictRequest struct {
	Instances [][]int `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// NewHTTP talks to a TensorFlow Serving style REST endpoint, for example
// http://localhost:8501/v1/models/menu:predict.
func NewHTTP(endpoint string) Backend {
	return &httpBackend{endpoint: endpoint, client: &http.Client{}}
}

func (h *httpBackend) Name() string { return "http" }

func (h *httpBackend) Predict(ctx context.Context, tokens []int) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][]int{tokens}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("predict failed (status %d): %s", resp.StatusCode, respBody)
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding predictions: %w", err)
	}
	if len(out.Predictions) == 0 {
		return nil, nil
	}
	return out.Predictions[0], nil
}
