package voiceorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-order/internal/bus"
	"github.com/loqalabs/loqa-order/internal/protocol"
	"github.com/loqalabs/loqa-order/internal/session"
)

const listenerTimeout = 30 * time.Second

// Listener opens a draft for every final transcript published on the bus.
// Results are announced by the Service on order.draft.ready.
type Listener struct {
	svc    *Service
	bus    *bus.Client
	log    *slog.Logger
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewListener(parent context.Context, svc *Service, busClient *bus.Client) *Listener {
	ctx, cancel := context.WithCancel(parent)
	return &Listener{
		svc:    svc,
		bus:    busClient,
		log:    busClient.Logger().With(slog.String("component", "order-listener")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Listener) Start() error {
	sub, err := l.bus.Conn().Subscribe(protocol.SubjectTranscriptFinal, l.handleTranscript)
	if err != nil {
		return fmt.Errorf("subscribe transcripts: %w", err)
	}
	l.sub = sub
	return nil
}

func (l *Listener) Close() {
	l.cancel()
	if l.sub != nil {
		_ = l.sub.Drain()
	}
	l.wg.Wait()
}

func (l *Listener) Healthy() bool {
	return l.sub != nil && l.sub.IsValid()
}

func (l *Listener) handleTranscript(msg *nats.Msg) {
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		l.log.Warn("failed to decode transcript", slogError(err))
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(l.ctx, listenerTimeout)
		defer cancel()

		source := "bus"
		if tr.SessionID != "" {
			source = "bus:" + tr.SessionID
		}
		if _, err := l.svc.OpenDraft(ctx, tr.Text, source); err != nil {
			l.log.Warn("failed to open draft from transcript",
				slog.String("source_session", tr.SessionID), slogError(err))
			l.svc.publish(protocol.SubjectDraftReady, protocol.DraftReady{
				Source:    source,
				Status:    string(session.StatusFailed),
				Strategy:  l.svc.Strategy(),
				Timestamp: time.Now().UTC(),
			})
		}
	}()
}
