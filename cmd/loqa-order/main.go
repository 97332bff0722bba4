package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/inference"
	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/recognition"
	"github.com/loqalabs/loqa-order/internal/session"
	"github.com/loqalabs/loqa-order/internal/voiceorder"
)

var version = "0.1.0-dev"

const usage = "expected 'recognize', 'vocab' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "recognize":
		err = runRecognize(os.Args[2:], os.Stdout)
	case "vocab":
		err = runVocab(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type recognizeOutput struct {
	Strategy   string                  `json:"strategy"`
	Status     session.Status          `json:"status"`
	Candidates []recognition.Candidate `json:"candidates"`
}

// runRecognize detects catalog items in a transcript without opening a
// session or touching the store.
func runRecognize(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recognize", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	catalogPath := fs.String("catalog", "", "Path to catalog seed YAML (defaults to catalog.seed_path)")
	text := fs.String("text", "", "Transcript to recognize")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *catalogPath == "" {
		*catalogPath = cfg.Catalog.SeedPath
	}
	if *catalogPath == "" {
		return errors.New("a catalog is required: pass -catalog or set catalog.seed_path")
	}
	items, err := menu.LoadSeed(*catalogPath)
	if err != nil {
		return err
	}
	// Seed files carry no ids; number them the way an empty store would.
	for i := range items {
		if items[i].ID == 0 {
			items[i].ID = int64(i + 1)
		}
	}

	strategy, err := voiceorder.BuildStrategy(cfg, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Classifier.TimeoutMS)*time.Millisecond)
	defer cancel()
	candidates, err := strategy.Recognize(ctx, *text, items)
	if err != nil {
		return err
	}

	res := recognizeOutput{Strategy: strategy.Name(), Status: session.StatusRecognized, Candidates: candidates}
	if len(candidates) == 0 {
		res.Status = session.StatusNoItems
		res.Candidates = []recognition.Candidate{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// runVocab validates a classifier vocabulary and optionally shows how a
// transcript tokenizes against it.
func runVocab(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vocab", flag.ContinueOnError)
	path := fs.String("file", "vocab.json", "Path to vocabulary JSON")
	text := fs.String("text", "", "Optional transcript to tokenize")
	length := fs.Int("length", config.Default().Classifier.SequenceLength, "Sequence length used for tokenizing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	vocab, err := inference.LoadVocabulary(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "vocabulary valid (%d tokens)\n", len(vocab))
	if *text != "" {
		return json.NewEncoder(out).Encode(recognition.Tokenize(*text, vocab, *length))
	}
	return nil
}
