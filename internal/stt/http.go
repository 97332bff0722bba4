package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-order/internal/config"
)

const transcriptionsPath = "/v1/audio/transcriptions"

type httpRecognizer struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPRecognizer talks to an OpenAI compatible transcription endpoint.
func NewHTTPRecognizer(cfg config.STTConfig) Recognizer {
	url := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasSuffix(url, "/transcriptions") {
		url += transcriptionsPath
	}
	return &httpRecognizer{
		url:    url,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		client: &http.Client{},
	}
}

func (r *httpRecognizer) Transcribe(ctx context.Context, audio []byte, req Request) (TranscriptResult, error) {
	if len(audio) == 0 {
		return TranscriptResult{}, nil
	}
	if req.Encoding == EncodingLinear16 {
		path, err := audioFile(audio, req)
		if err != nil {
			return TranscriptResult{}, err
		}
		audio, err = os.ReadFile(path)
		os.Remove(path)
		if err != nil {
			return TranscriptResult{}, fmt.Errorf("read wav: %w", err)
		}
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio"+extForEncoding(req.Encoding))
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return TranscriptResult{}, fmt.Errorf("write audio: %w", err)
	}
	if r.model != "" {
		_ = writer.WriteField("model", r.model)
	}
	if req.Language != "" {
		_ = writer.WriteField("language", baseLanguage(req.Language))
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return TranscriptResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return TranscriptResult{}, fmt.Errorf("transcription failed (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode transcription: %w", err)
	}
	return TranscriptResult{Text: strings.TrimSpace(result.Text)}, nil
}
