package voiceorder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/loqalabs/loqa-order/internal/archive"
	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/protocol"
	"github.com/loqalabs/loqa-order/internal/recognition"
	"github.com/loqalabs/loqa-order/internal/session"
	"github.com/loqalabs/loqa-order/internal/store"
	"github.com/loqalabs/loqa-order/internal/stt"
)

const orderTranscript = "tolong buatkan dua cappuccino dan satu latte"

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	subject string
	data    []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.subject
	}
	return out
}

type failingStrategy struct{ err error }

func (f failingStrategy) Name() string { return "failing" }

func (f failingStrategy) Recognize(context.Context, string, []menu.Item) ([]recognition.Candidate, error) {
	return nil, f.err
}

type recognizerFunc func(ctx context.Context, audio []byte, req stt.Request) (stt.TranscriptResult, error)

func (f recognizerFunc) Transcribe(ctx context.Context, audio []byte, req stt.Request) (stt.TranscriptResult, error) {
	return f(ctx, audio, req)
}

type fixture struct {
	svc       *Service
	store     *store.SQLite
	sessions  *session.Manager
	publisher *recordingPublisher
	reader    *sdkmetric.ManualReader
	archive   string
	catalog   map[string]menu.Item
}

func newFixture(t *testing.T, cfg config.Config, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	log := newLogger()

	st, err := store.OpenSQLite(ctx, config.StoreConfig{Path: filepath.Join(t.TempDir(), "orders.db")}, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	seed := []menu.Item{
		{Name: "Cappuccino", Price: 30000},
		{Name: "Latte", Price: 32000},
		{Name: "Espresso", Price: 25000},
	}
	if _, err := store.SeedMenu(ctx, st, seed); err != nil {
		t.Fatalf("seed menu: %v", err)
	}
	items, err := st.ListItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	catalog := make(map[string]menu.Item, len(items))
	for _, it := range items {
		catalog[it.Name] = it
	}

	archiveDir := t.TempDir()
	arch, err := archive.NewDir(archiveDir)
	if err != nil {
		t.Fatal(err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	sessions := session.NewManager(cfg.Sessions, log)
	pub := &recordingPublisher{}
	if opts.Strategy == nil {
		opts.Strategy, err = BuildStrategy(cfg, nil)
		if err != nil {
			t.Fatalf("BuildStrategy: %v", err)
		}
	}
	opts.Store = st
	opts.Sessions = sessions
	opts.Archive = arch
	opts.Publisher = pub
	opts.MeterProvider = mp
	opts.Logger = log

	svc, err := NewService(cfg, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: st, sessions: sessions, publisher: pub, reader: reader, archive: archiveDir, catalog: catalog}
}

func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total float64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					total += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					total += float64(dp.Value)
				}
			}
		}
	}
	return total
}

func TestAudioToCommittedOrder(t *testing.T) {
	cfg := config.Default()
	f := newFixture(t, cfg, Options{Recognizer: stt.NewMockRecognizer(orderTranscript)})
	ctx := context.Background()

	d, err := f.svc.ProcessAudio(ctx, []byte("RIFF....WAVE"), "order.wav")
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if d.Status != session.StatusRecognized || d.State != draft.StateSeeded {
		t.Fatalf("unexpected draft %+v", d.View)
	}
	if len(d.Candidates) != 2 || d.Candidates[0].Item.Name != "Cappuccino" || d.Candidates[0].Quantity != 2 ||
		d.Candidates[1].Item.Name != "Latte" || d.Candidates[1].Quantity != 1 {
		t.Fatalf("candidates = %+v", d.Candidates)
	}
	if d.AudioURL == "" || d.TranscriptURL == "" {
		t.Fatalf("expected archived audio and transcript, got %q %q", d.AudioURL, d.TranscriptURL)
	}
	if text, err := os.ReadFile(d.TranscriptURL); err != nil || string(text) != orderTranscript {
		t.Fatalf("archived transcript = %q, %v", text, err)
	}

	if _, err := f.svc.AddItem(ctx, d.ID, f.catalog["Espresso"].ID, 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	order, err := f.svc.Commit(ctx, d.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if order.ID == 0 || order.Total != 117000 {
		t.Fatalf("order = %+v", order)
	}
	if last := order.Lines[len(order.Lines)-1]; last.Item.Name != "Espresso" || last.Provenance != draft.Added {
		t.Fatalf("espresso line = %+v", last)
	}

	if _, err := f.svc.SetQuantity(d.ID, f.catalog["Latte"].ID, 5); !errors.Is(err, draft.ErrState) {
		t.Fatalf("expected state error after commit, got %v", err)
	}
	if _, err := f.svc.Commit(ctx, d.ID); !errors.Is(err, draft.ErrState) {
		t.Fatalf("expected state error on second commit, got %v", err)
	}

	subjects := f.publisher.subjects()
	if len(subjects) != 2 || subjects[0] != protocol.SubjectDraftReady || subjects[1] != protocol.SubjectOrderCommitted {
		t.Fatalf("published = %v", subjects)
	}
	events, err := f.svc.Events(ctx, d.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != EventSeeded || events[1].Type != EventCommitted {
		t.Fatalf("events = %+v", events)
	}
	if got := sumCounter(t, f.reader, "loqa_order.commits"); got != 1 {
		t.Fatalf("commits metric = %v", got)
	}
	if got := sumCounter(t, f.reader, "loqa_order.sales"); got != 117000 {
		t.Fatalf("sales metric = %v", got)
	}
	if got := sumCounter(t, f.reader, "loqa_order.sessions.active"); got != 1 {
		t.Fatalf("active sessions metric = %v", got)
	}
}

func TestNoItemsOpensEmptyDraft(t *testing.T) {
	f := newFixture(t, config.Default(), Options{})
	d, err := f.svc.OpenDraft(context.Background(), "halo selamat pagi", SourceText)
	if err != nil {
		t.Fatalf("OpenDraft: %v", err)
	}
	if d.Status != session.StatusNoItems || len(d.Lines) != 0 {
		t.Fatalf("unexpected draft %+v", d.View)
	}
	if d.Candidates == nil {
		t.Fatal("candidates should render as an empty list")
	}
	if _, err := f.svc.AddItem(context.Background(), d.ID, f.catalog["Latte"].ID, 2); err != nil {
		t.Fatalf("manual add on empty draft: %v", err)
	}
}

func TestBackendFailureIsDistinct(t *testing.T) {
	boom := &recognition.BackendError{Backend: "http", Op: "predict", Err: errors.New("503")}
	f := newFixture(t, config.Default(), Options{Strategy: failingStrategy{err: boom}})

	_, err := f.svc.OpenDraft(context.Background(), orderTranscript, SourceText)
	var be *recognition.BackendError
	if !errors.As(err, &be) || be.Op != "predict" {
		t.Fatalf("expected backend error, got %v", err)
	}
	if f.sessions.Len() != 0 {
		t.Fatalf("failed recognition must not leave a session, have %d", f.sessions.Len())
	}
	if got := sumCounter(t, f.reader, "loqa_order.recognitions"); got != 1 {
		t.Fatalf("recognitions metric = %v", got)
	}
}

func TestTranscriptionTimeoutDegradesToNoItems(t *testing.T) {
	cfg := config.Default()
	cfg.STT.TimeoutMS = 20
	slow := recognizerFunc(func(ctx context.Context, _ []byte, _ stt.Request) (stt.TranscriptResult, error) {
		<-ctx.Done()
		return stt.TranscriptResult{}, ctx.Err()
	})
	f := newFixture(t, cfg, Options{Recognizer: slow})

	d, err := f.svc.ProcessAudio(context.Background(), []byte{1, 2, 3, 4}, "clip.mp3")
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if d.Status != session.StatusNoItems || d.Transcript != "" {
		t.Fatalf("unexpected draft %+v", d.View)
	}
}

func TestSpeechCommandTimeoutDegradesToNoItems(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	script := filepath.Join(t.TempDir(), "stall.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.STT.Mode = "exec"
	cfg.STT.Command = script
	cfg.STT.TimeoutMS = 100
	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, cfg, Options{Recognizer: recognizer})

	start := time.Now()
	d, err := f.svc.ProcessAudio(context.Background(), []byte{1, 2, 3, 4}, "clip.mp3")
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if d.Status != session.StatusNoItems || d.Transcript != "" {
		t.Fatalf("unexpected draft %+v", d.View)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("ProcessAudio returned after %s", elapsed)
	}
}

func TestClassifierCommandTimeoutDegradesToNoItems(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cfg := config.Default()
	cfg.Recognition.Strategy = recognition.StrategyClassifier
	cfg.Classifier.Mode = "exec"
	cfg.Classifier.Command = "sleep 5"
	cfg.Classifier.TimeoutMS = 100
	f := newFixture(t, cfg, Options{})

	candidates, status, err := f.svc.Recognize(context.Background(), orderTranscript)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if status != session.StatusNoItems || len(candidates) != 0 {
		t.Fatalf("status %s candidates %+v", status, candidates)
	}
}

func TestTranscriptionFailureIsBackendError(t *testing.T) {
	broken := recognizerFunc(func(context.Context, []byte, stt.Request) (stt.TranscriptResult, error) {
		return stt.TranscriptResult{}, errors.New("connection refused")
	})
	f := newFixture(t, config.Default(), Options{Recognizer: broken})

	_, err := f.svc.ProcessAudio(context.Background(), []byte{1, 2}, "clip.webm")
	var be *recognition.BackendError
	if !errors.As(err, &be) || be.Backend != "stt" {
		t.Fatalf("expected stt backend error, got %v", err)
	}
}

func TestEncodingHintFromFilename(t *testing.T) {
	var got stt.Request
	capture := recognizerFunc(func(_ context.Context, _ []byte, req stt.Request) (stt.TranscriptResult, error) {
		got = req
		return stt.TranscriptResult{Text: "satu espresso"}, nil
	})
	f := newFixture(t, config.Default(), Options{Recognizer: capture})
	if _, err := f.svc.ProcessAudio(context.Background(), []byte{1}, "voice.MP3"); err != nil {
		t.Fatal(err)
	}
	if got.Encoding != "MP3" || got.SampleRate != 16000 || got.Language != "id-ID" {
		t.Fatalf("request = %+v", got)
	}
}

func TestFailedSaveKeepsDraftEditable(t *testing.T) {
	f := newFixture(t, config.Default(), Options{})
	ctx := context.Background()
	d, err := f.svc.OpenDraft(ctx, orderTranscript, SourceText)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.store.Close()

	if _, err := f.svc.Commit(ctx, d.ID); err == nil {
		t.Fatal("expected commit to fail with a closed store")
	}
	view, err := f.svc.Draft(d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.State != draft.StateSeeded {
		t.Fatalf("draft should stay editable, state %s", view.State)
	}
}

func TestEditsAndDiscard(t *testing.T) {
	f := newFixture(t, config.Default(), Options{})
	ctx := context.Background()
	d, err := f.svc.OpenDraft(ctx, orderTranscript, SourceText)
	if err != nil {
		t.Fatal(err)
	}
	latte := f.catalog["Latte"]

	if _, err := f.svc.SetQuantity(d.ID, latte.ID, 0); !errors.Is(err, draft.ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	v, err := f.svc.SetQuantity(d.ID, latte.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v.Total != 2*30000+3*32000 || v.State != draft.StateEditing {
		t.Fatalf("after set: %+v", v.View)
	}
	if v, err = f.svc.SetNote(d.ID, "less ice"); err != nil || v.Note != "less ice" {
		t.Fatalf("SetNote = %+v, %v", v.View, err)
	}
	if v, err = f.svc.RemoveLine(d.ID, latte.ID); err != nil || len(v.Lines) != 1 {
		t.Fatalf("RemoveLine = %+v, %v", v.View, err)
	}
	if v, err = f.svc.Revert(d.ID); err != nil || len(v.Lines) != 2 || v.State != draft.StateSeeded {
		t.Fatalf("Revert = %+v, %v", v.View, err)
	}
	if _, err := f.svc.AddItem(ctx, d.ID, 999, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown menu item, got %v", err)
	}

	if err := f.svc.Discard(ctx, d.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := f.svc.Draft(d.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after discard, got %v", err)
	}
	if err := f.svc.Discard(ctx, d.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second discard, got %v", err)
	}
}

func TestManualDraft(t *testing.T) {
	f := newFixture(t, config.Default(), Options{})
	d := f.svc.NewDraft(context.Background())
	if d.Status != session.StatusManual || d.State != draft.StateEmpty {
		t.Fatalf("unexpected manual draft %+v", d.View)
	}
	if _, err := f.svc.Commit(context.Background(), d.ID); !errors.Is(err, draft.ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestBuildStrategy(t *testing.T) {
	cfg := config.Default()
	s, err := BuildStrategy(cfg, nil)
	if err != nil || s.Name() != recognition.StrategyMatcher {
		t.Fatalf("default strategy = %v, %v", s, err)
	}

	vocabPath := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(vocabPath, []byte(`{"cappuccino":1,"latte":2,"dua":3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Recognition.Strategy = recognition.StrategyClassifier
	cfg.Classifier.VocabPath = vocabPath
	cfg.Classifier.MockScores = []float64{0.9, 0.1, 0.7}
	cfg.Classifier.ExtractQuantities = true
	s, err = BuildStrategy(cfg, nil)
	if err != nil {
		t.Fatalf("classifier strategy: %v", err)
	}
	if s.Name() != recognition.StrategyClassifier {
		t.Fatalf("name = %s", s.Name())
	}
	catalog := []menu.Item{{ID: 1, Name: "Cappuccino", Price: 30000}, {ID: 2, Name: "Latte", Price: 32000}, {ID: 3, Name: "Espresso", Price: 25000}}
	got, err := s.Recognize(context.Background(), "dua cappuccino", catalog)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Item.ID != 1 || got[0].Quantity != 2 || got[1].Item.ID != 3 || got[1].Quantity != 1 {
		t.Fatalf("classifier candidates = %+v", got)
	}

	cfg.Classifier.VocabPath = filepath.Join(t.TempDir(), "missing.json")
	if _, err := BuildStrategy(cfg, nil); err == nil {
		t.Fatal("expected missing vocabulary to fail")
	}
}
