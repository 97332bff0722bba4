package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-order/internal/bus"
	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/protocol"
)

const (
	maxBufferedBytes = 25 << 20
	staleAfter       = 2 * time.Minute
)

// Service buffers audio frames per session from the bus and publishes one
// final transcript when the last frame arrives.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	log        *slog.Logger
	sessions   map[string]*sessionState
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	now        func() time.Time
}

type sessionState struct {
	Buffer    []byte
	Request   Request
	LastFrame time.Time
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		log:        busClient.Logger().With(slog.String("component", "stt")),
		sessions:   make(map[string]*sessionState),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.log.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	now := s.now()
	s.mu.Lock()
	s.sweepLocked(now)
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{Request: s.requestFor(frame)}
		s.sessions[frame.SessionID] = state
	}
	state.LastFrame = now
	if len(state.Buffer)+len(frame.PCM) > maxBufferedBytes {
		delete(s.sessions, frame.SessionID)
		s.mu.Unlock()
		s.log.Warn("audio buffer limit exceeded, dropping session", slog.String("session_id", frame.SessionID))
		return
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	if !frame.Final {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, frame.SessionID)
	s.mu.Unlock()

	s.transcribe(frame.SessionID, state.Buffer, state.Request)
}

func (s *Service) requestFor(frame protocol.AudioFrame) Request {
	req := DefaultRequest(s.cfg)
	if frame.Encoding != "" {
		req.Encoding = frame.Encoding
	}
	if frame.SampleRate > 0 {
		req.SampleRate = frame.SampleRate
	}
	if frame.Channels > 0 {
		req.Channels = frame.Channels
	}
	if frame.Language != "" {
		req.Language = frame.Language
	}
	return req
}

// sweepLocked drops sessions whose final frame never arrived.
func (s *Service) sweepLocked(now time.Time) {
	for id, st := range s.sessions {
		if now.Sub(st.LastFrame) > staleAfter {
			delete(s.sessions, id)
			s.log.Debug("dropped stale audio session", slog.String("session_id", id))
		}
	}
}

func (s *Service) transcribe(sessionID string, audio []byte, req Request) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()

		result, err := s.recognizer.Transcribe(ctx, audio, req)
		if err != nil {
			s.log.Warn("stt transcription failed", slog.String("session_id", sessionID), slogError(err))
			return
		}
		msg := protocol.Transcript{
			SessionID:  sessionID,
			Text:       result.Text,
			Timestamp:  s.now().UTC(),
			Confidence: result.Confidence,
		}
		if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, msg); err != nil {
			s.log.Warn("failed to publish transcript", slogError(err))
		}
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
