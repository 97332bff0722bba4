package stt

import "context"

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns text for any non-empty audio.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, audio []byte, _ Request) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if len(audio) == 0 || m.text == "" {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{Text: m.text, Confidence: 1}, nil
}
