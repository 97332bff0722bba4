// Package voiceorder ties transcription, recognition and draft sessions into
// the order pipeline served over HTTP and the bus.
package voiceorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-order/internal/archive"
	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/protocol"
	"github.com/loqalabs/loqa-order/internal/recognition"
	"github.com/loqalabs/loqa-order/internal/session"
	"github.com/loqalabs/loqa-order/internal/store"
	"github.com/loqalabs/loqa-order/internal/stt"
)

const (
	EventOpened    = "opened"
	EventSeeded    = "seeded"
	EventCommitted = "committed"
	EventDiscarded = "discarded"

	SourceText  = "text"
	SourceAudio = "audio"
)

// Publisher announces pipeline events. *bus.Client satisfies it.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Options carries the collaborators of a Service. Archive, Publisher and
// MeterProvider are optional.
type Options struct {
	Strategy      recognition.Strategy
	Recognizer    stt.Recognizer
	Archive       archive.Archiver
	Store         store.Store
	Sessions      *session.Manager
	Publisher     Publisher
	MeterProvider metric.MeterProvider
	Logger        *slog.Logger
}

// Draft is a session view plus what produced it.
type Draft struct {
	session.View
	Candidates    []recognition.Candidate `json:"candidates,omitempty"`
	AudioURL      string                  `json:"audio_url,omitempty"`
	TranscriptURL string                  `json:"transcript_url,omitempty"`
}

type Service struct {
	cfg        config.Config
	strategy   recognition.Strategy
	recognizer stt.Recognizer
	archive    archive.Archiver
	store      store.Store
	sessions   *session.Manager
	publisher  Publisher
	metrics    *Metrics
	tracer     trace.Tracer
	log        *slog.Logger
	clock      func() time.Time
}

func NewService(cfg config.Config, opts Options) (*Service, error) {
	if opts.Strategy == nil || opts.Store == nil || opts.Sessions == nil {
		return nil, errors.New("voiceorder: strategy, store and sessions are required")
	}
	if opts.Recognizer == nil {
		opts.Recognizer = stt.NewMockRecognizer("")
	}
	if opts.Archive == nil {
		opts.Archive = archive.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	metrics, err := NewMetrics(opts.MeterProvider, opts.Sessions.Len)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return &Service{
		cfg:        cfg,
		strategy:   opts.Strategy,
		recognizer: opts.Recognizer,
		archive:    opts.Archive,
		store:      opts.Store,
		sessions:   opts.Sessions,
		publisher:  opts.Publisher,
		metrics:    metrics,
		tracer:     otel.Tracer(instrumentationName),
		log:        opts.Logger.With(slog.String("component", "voiceorder")),
		clock:      time.Now,
	}, nil
}

func (s *Service) Strategy() string { return s.strategy.Name() }

// Recognize runs the configured strategy over transcript against the current
// catalog. A classifier timeout degrades to no items; other backend failures
// are returned as *recognition.BackendError.
func (s *Service) Recognize(ctx context.Context, transcript string) ([]recognition.Candidate, session.Status, error) {
	ctx, span := s.tracer.Start(ctx, "voiceorder.recognize",
		trace.WithAttributes(attribute.String("strategy", s.strategy.Name())))
	defer span.End()

	catalog, err := s.store.ListItems(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load catalog")
		return nil, session.StatusFailed, fmt.Errorf("load catalog: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Classifier.TimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	candidates, err := s.strategy.Recognize(rctx, transcript, catalog)
	elapsed := time.Since(start).Seconds()

	var status session.Status
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.log.Warn("recognition timed out, treating as no items", slogError(err))
		candidates, err = nil, nil
		status = session.StatusNoItems
	case err != nil:
		status = session.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognize")
	case len(candidates) == 0:
		status = session.StatusNoItems
	default:
		status = session.StatusRecognized
	}

	attrs := metric.WithAttributes(
		attribute.String("strategy", s.strategy.Name()),
		attribute.String("status", string(status)),
	)
	s.metrics.Recognitions.Add(ctx, 1, attrs)
	s.metrics.RecognitionDuration.Record(ctx, elapsed, attrs)
	span.SetAttributes(attribute.Int("candidates", len(candidates)), attribute.String("status", string(status)))
	return candidates, status, err
}

// OpenDraft recognizes transcript and opens a draft session seeded with the
// result. An empty result still opens a session, with status no_items.
func (s *Service) OpenDraft(ctx context.Context, transcript, source string) (Draft, error) {
	candidates, status, err := s.Recognize(ctx, transcript)
	if err != nil {
		return Draft{}, err
	}

	sess := s.sessions.Create(transcript, s.strategy.Name(), status)
	if err := sess.With(func(o *draft.Order) error { return o.Seed(candidates) }); err != nil {
		_ = s.sessions.Remove(sess.ID)
		return Draft{}, fmt.Errorf("seed draft: %w", err)
	}
	if candidates == nil {
		candidates = []recognition.Candidate{}
	}
	s.appendEvent(ctx, sess.ID, EventSeeded, map[string]any{
		"source":     source,
		"status":     status,
		"transcript": transcript,
		"candidates": candidates,
	})
	s.publish(protocol.SubjectDraftReady, protocol.DraftReady{
		SessionID:  sess.ID,
		Source:     source,
		Status:     string(status),
		Strategy:   s.strategy.Name(),
		Candidates: candidates,
		Timestamp:  s.clock().UTC(),
	})
	s.log.Info("draft opened",
		slog.String("session_id", sess.ID),
		slog.String("status", string(status)),
		slog.Int("candidates", len(candidates)))
	return Draft{View: sess.View(), Candidates: candidates}, nil
}

// NewDraft opens an empty session for manual entry.
func (s *Service) NewDraft(ctx context.Context) Draft {
	sess := s.sessions.Create("", "", session.StatusManual)
	s.appendEvent(ctx, sess.ID, EventOpened, map[string]any{"status": session.StatusManual})
	return Draft{View: sess.View()}
}

// ProcessAudio archives an uploaded recording, transcribes it and opens a
// draft from the transcript. A transcription timeout yields an empty
// transcript; other transcription failures are returned as
// *recognition.BackendError.
func (s *Service) ProcessAudio(ctx context.Context, audio []byte, filename string) (Draft, error) {
	ctx, span := s.tracer.Start(ctx, "voiceorder.process_audio",
		trace.WithAttributes(attribute.Int("audio.bytes", len(audio))))
	defer span.End()

	ext := strings.ToLower(filepath.Ext(filename))
	var audioURL string
	if len(audio) > 0 {
		audioURL = s.archiveBlob(ctx, archive.AudioKey(s.clock(), ext), bytes.NewReader(audio), contentTypeFor(ext))
	}

	req := stt.DefaultRequest(s.cfg.STT)
	if enc := stt.EncodingForExt(ext); enc != "" {
		req.Encoding = enc
	}
	text, err := s.transcribe(ctx, audio, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcribe")
		return Draft{}, err
	}

	d, err := s.OpenDraft(ctx, text, SourceAudio)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognize")
		return Draft{}, err
	}
	d.AudioURL = audioURL
	if text != "" {
		d.TranscriptURL = s.archiveBlob(ctx, archive.TranscriptKey(d.ID), strings.NewReader(text), "text/plain; charset=utf-8")
	}
	return d, nil
}

func (s *Service) transcribe(ctx context.Context, audio []byte, req stt.Request) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	tctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.STT.TimeoutMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := s.recognizer.Transcribe(tctx, audio, req)
	s.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stt.mode", s.cfg.STT.Mode)))
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.log.Warn("transcription timed out, treating as empty transcript", slogError(err))
		return "", nil
	case err != nil:
		return "", &recognition.BackendError{Backend: "stt", Op: "transcribe", Err: err}
	}
	return strings.TrimSpace(res.Text), nil
}

// Draft returns the current view of a session.
func (s *Service) Draft(id string) (Draft, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return Draft{}, err
	}
	return Draft{View: sess.View()}, nil
}

func (s *Service) SetQuantity(id string, itemID int64, n int) (Draft, error) {
	return s.edit(id, func(o *draft.Order) error { return o.SetQuantity(itemID, n) })
}

func (s *Service) RemoveLine(id string, itemID int64) (Draft, error) {
	return s.edit(id, func(o *draft.Order) error { return o.Remove(itemID) })
}

// AddItem adds n of a catalog item, merging into an existing line.
func (s *Service) AddItem(ctx context.Context, id string, itemID int64, n int) (Draft, error) {
	if _, err := s.sessions.Get(id); err != nil {
		return Draft{}, err
	}
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return Draft{}, fmt.Errorf("menu item %d: %w", itemID, err)
	}
	return s.edit(id, func(o *draft.Order) error { return o.AddOrIncrement(item, n) })
}

func (s *Service) SetNote(id, note string) (Draft, error) {
	return s.edit(id, func(o *draft.Order) error { return o.SetNote(note) })
}

func (s *Service) Revert(id string) (Draft, error) {
	return s.edit(id, func(o *draft.Order) error { return o.Revert() })
}

func (s *Service) edit(id string, op func(o *draft.Order) error) (Draft, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return Draft{}, err
	}
	if err := sess.With(op); err != nil {
		return Draft{}, err
	}
	return Draft{View: sess.View()}, nil
}

// Commit persists the draft and freezes it. The draft only becomes committed
// once the store accepted the order, so a failed save can be retried. The
// session stays addressable until it expires so later edits report a state
// error rather than a missing session.
func (s *Service) Commit(ctx context.Context, id string) (store.Order, error) {
	ctx, span := s.tracer.Start(ctx, "voiceorder.commit", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	sess, err := s.sessions.Get(id)
	if err != nil {
		return store.Order{}, err
	}
	var order store.Order
	err = sess.With(func(o *draft.Order) error {
		snap, err := o.Preview()
		if err != nil {
			return err
		}
		if order, err = s.store.SaveOrder(ctx, id, snap); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		_, err = o.Commit()
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		return store.Order{}, err
	}

	s.metrics.Commits.Add(ctx, 1)
	s.metrics.Sales.Add(ctx, order.Total)
	s.appendEvent(ctx, id, EventCommitted, map[string]any{"order_id": order.ID, "total": order.Total})
	s.publish(protocol.SubjectOrderCommitted, protocol.OrderCommitted{
		OrderID:   order.ID,
		SessionID: id,
		Lines:     order.Lines,
		Note:      order.Note,
		Total:     order.Total,
		Timestamp: order.CreatedAt,
	})
	s.log.Info("order committed",
		slog.String("session_id", id),
		slog.Int64("order_id", order.ID),
		slog.Float64("total", order.Total))
	return order, nil
}

// Discard drops a session without persisting anything.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.sessions.Remove(id); err != nil {
		return err
	}
	s.appendEvent(ctx, id, EventDiscarded, nil)
	s.log.Info("draft discarded", slog.String("session_id", id))
	return nil
}

// Events returns the stored timeline of a session, oldest first.
func (s *Service) Events(ctx context.Context, id string, limit int) ([]store.Event, error) {
	return s.store.ListSessionEvents(ctx, id, limit)
}

func (s *Service) appendEvent(ctx context.Context, id, typ string, payload any) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			s.log.Warn("failed to encode session event", slog.String("type", typ), slogError(err))
			return
		}
	}
	if err := s.store.AppendEvent(ctx, store.Event{SessionID: id, Type: typ, Payload: data}); err != nil {
		s.log.Warn("failed to record session event", slog.String("type", typ), slogError(err))
	}
}

func (s *Service) publish(subject string, v any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

// archiveBlob stores body and returns its location. Archive failures are
// logged and never fail the request.
func (s *Service) archiveBlob(ctx context.Context, key string, body io.Reader, contentType string) string {
	loc, err := s.archive.Put(ctx, key, body, contentType)
	if err != nil {
		s.log.Warn("archive upload failed", slog.String("key", key), slogError(err))
		return ""
	}
	return loc
}

func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
