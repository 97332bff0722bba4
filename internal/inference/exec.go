package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the child
// is killed.
const waitDelay = time.Second

type execBackend struct {
	cmd []string
}

type execRequest struct {
	Tokens []int `json:"tokens"`
}

type execResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

// NewExec runs command once per prediction, writing {"tokens":[...]} to its
// stdin and reading {"probabilities":[...]} from stdout.
func NewExec(command string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command empty")
	}
	return &execBackend{cmd: args}, nil
}

func (e *execBackend) Name() string { return "exec" }

func (e *execBackend) Predict(ctx context.Context, tokens []int) ([]float64, error) {
	input, err := json.Marshal(execRequest{Tokens: tokens})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	output, err := cmd.Output()
	if err != nil {
		// A killed child reports "signal: killed"; surface the deadline instead.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("classifier command: %w", ctxErr)
		}
		return nil, fmt.Errorf("classifier command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("decode classifier output: %w", err)
	}
	return resp.Probabilities, nil
}
