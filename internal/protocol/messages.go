package protocol

import (
	"time"

	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/recognition"
)

// AudioFrame carries a chunk of recorded audio from a kiosk. Frames for one
// utterance share a session id; the last one has Final set.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language,omitempty"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is speech-to-text output.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// DraftReady announces a draft session opened from a transcript.
type DraftReady struct {
	SessionID  string                  `json:"session_id"`
	Source     string                  `json:"source,omitempty"`
	Status     string                  `json:"status"`
	Strategy   string                  `json:"strategy"`
	Candidates []recognition.Candidate `json:"candidates"`
	Timestamp  time.Time               `json:"timestamp"`
}

// OrderCommitted announces a persisted order.
type OrderCommitted struct {
	OrderID   int64        `json:"order_id"`
	SessionID string       `json:"session_id"`
	Lines     []draft.Line `json:"lines"`
	Note      string       `json:"note,omitempty"`
	Total     float64      `json:"total"`
	Timestamp time.Time    `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectDraftReady       = "order.draft.ready"
	SubjectOrderCommitted   = "order.committed"

	StreamOrders = "ORDERS"
)

func AudioFrameSubject(sessionID string) string {
	return SubjectAudioFramePrefix + "." + sessionID
}
