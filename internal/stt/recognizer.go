package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-order/internal/config"
)

const EncodingLinear16 = "LINEAR16"

// Request describes the audio handed to a recognizer.
type Request struct {
	Encoding   string
	SampleRate int
	Channels   int
	Language   string
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. An empty Text is a valid result.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, req Request) (TranscriptResult, error)
}

func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(cfg.MockText), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "http":
		return NewHTTPRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// DefaultRequest fills a Request from configuration.
func DefaultRequest(cfg config.STTConfig) Request {
	return Request{
		Encoding:   cfg.Encoding,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Language:   cfg.Language,
	}
}

// EncodingForExt guesses the encoding hint for an uploaded file extension.
func EncodingForExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "wav":
		return "WAV"
	case "mp3", "mpeg":
		return "MP3"
	case "flac":
		return "FLAC"
	case "ogg", "opus":
		return "OGG_OPUS"
	case "webm":
		return "WEBM_OPUS"
	case "m4a", "mp4":
		return "MP4"
	case "pcm", "raw":
		return EncodingLinear16
	default:
		return ""
	}
}

func extForEncoding(encoding string) string {
	switch strings.ToUpper(encoding) {
	case EncodingLinear16, "WAV":
		return ".wav"
	case "MP3":
		return ".mp3"
	case "FLAC":
		return ".flac"
	case "OGG_OPUS":
		return ".ogg"
	case "WEBM_OPUS":
		return ".webm"
	case "MP4":
		return ".m4a"
	default:
		return ".bin"
	}
}

// baseLanguage trims a BCP-47 tag to its primary subtag ("id-ID" -> "id").
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
