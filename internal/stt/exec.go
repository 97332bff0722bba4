package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-order/internal/config"
)

type execRecognizer struct {
	cmd   []string
	model string
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewExecRecognizer runs an external command per utterance. The command gets
// --audio <file> [--model m] [--language l] and prints {"text":..} on stdout.
func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, model: cfg.Model}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, audio []byte, req Request) (TranscriptResult, error) {
	if len(audio) == 0 {
		return TranscriptResult{}, nil
	}
	path, err := audioFile(audio, req)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer os.Remove(path)

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", path)
	if r.model != "" {
		args = append(args, "--model", r.model)
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = time.Second
	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TranscriptResult{}, fmt.Errorf("stt command: %w", ctxErr)
		}
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}
