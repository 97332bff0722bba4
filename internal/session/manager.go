// Package session keys draft orders by opaque identifiers so a review can
// span several requests.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
)

var ErrNotFound = errors.New("session not found")

type Status string

const (
	StatusRecognized Status = "recognized"
	StatusNoItems    Status = "no_items"
	StatusFailed     Status = "failed"
	StatusManual     Status = "manual"
)

// Session owns one draft order for the duration of a review.
type Session struct {
	ID         string
	Transcript string
	Strategy   string
	Status     Status
	CreatedAt  time.Time

	mu     sync.Mutex
	order  *draft.Order
	closed bool
}

// With runs fn while holding the session lock. It fails with ErrNotFound once
// the session has been removed.
func (s *Session) With(fn func(o *draft.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotFound
	}
	return fn(s.order)
}

type View struct {
	ID         string       `json:"id"`
	State      draft.State  `json:"state"`
	Status     Status       `json:"status"`
	Strategy   string       `json:"strategy,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Lines      []draft.Line `json:"lines"`
	Note       string       `json:"note"`
	Total      float64      `json:"total"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.order.Lines()
	if lines == nil {
		lines = []draft.Line{}
	}
	return View{
		ID:         s.ID,
		State:      s.order.State(),
		Status:     s.Status,
		Strategy:   s.Strategy,
		Transcript: s.Transcript,
		Lines:      lines,
		Note:       s.order.Note(),
		Total:      s.order.Total(),
		CreatedAt:  s.CreatedAt,
	}
}

// Manager keeps in-progress sessions in a bounded LRU. Idle sessions expire
// after the configured TTL; every Get refreshes the deadline.
type Manager struct {
	cache     *expirable.LRU[string, *Session]
	noteLimit int
	log       *slog.Logger
	clock     func() time.Time
}

func NewManager(cfg config.SessionsConfig, log *slog.Logger) *Manager {
	m := &Manager{
		noteLimit: cfg.NoteLimit,
		log:       log,
		clock:     time.Now,
	}
	ttl := time.Duration(cfg.TTL) * time.Millisecond
	m.cache = expirable.NewLRU[string, *Session](cfg.MaxSessions, m.onEvict, ttl)
	return m
}

// Create opens an empty session. Callers seed its draft through With.
func (m *Manager) Create(transcript, strategy string, status Status) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		Transcript: transcript,
		Strategy:   strategy,
		Status:     status,
		CreatedAt:  m.clock().UTC(),
		order:      draft.New(draft.WithNoteLimit(m.noteLimit)),
	}
	m.cache.Add(s.ID, s)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	m.cache.Add(id, s)
	return s, nil
}

// Remove drops the session without treating it as an eviction.
func (m *Manager) Remove(id string) error {
	s, ok := m.cache.Peek(id)
	if !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	m.cache.Remove(id)
	return nil
}

func (m *Manager) Len() int { return m.cache.Len() }

func (m *Manager) onEvict(id string, s *Session) {
	s.mu.Lock()
	removed := s.closed
	s.closed = true
	s.mu.Unlock()
	if removed {
		return
	}
	m.log.Info("draft session evicted", slog.String("session_id", id))
}
