package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
)

// SQLite stores everything in a single database file. Timestamps are kept as
// unix milliseconds.
type SQLite struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func OpenSQLite(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS menu_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL COLLATE NOCASE UNIQUE,
    price REAL NOT NULL CHECK (price >= 0),
    description TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'coffee'
);
CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    total REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'completed',
    note TEXT NOT NULL DEFAULT '',
    items TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ListItems(ctx context.Context) ([]menu.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, description, image_url, category FROM menu_items ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []menu.Item
	for rows.Next() {
		var it menu.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.Description, &it.ImageURL, &it.Category); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLite) GetItem(ctx context.Context, id int64) (menu.Item, error) {
	var it menu.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price, description, image_url, category FROM menu_items WHERE id = ?`, id).
		Scan(&it.ID, &it.Name, &it.Price, &it.Description, &it.ImageURL, &it.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return menu.Item{}, ErrNotFound
	}
	return it, err
}

func (s *SQLite) CreateItem(ctx context.Context, item menu.Item) (menu.Item, error) {
	item, err := prepareItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	if err := s.checkName(ctx, item.Name, 0); err != nil {
		return menu.Item{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO menu_items(name, price, description, image_url, category) VALUES(?, ?, ?, ?, ?)`,
		item.Name, item.Price, item.Description, item.ImageURL, item.Category)
	if err != nil {
		return menu.Item{}, err
	}
	item.ID, err = res.LastInsertId()
	return item, err
}

func (s *SQLite) UpdateItem(ctx context.Context, item menu.Item) (menu.Item, error) {
	item, err := prepareItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	if err := s.checkName(ctx, item.Name, item.ID); err != nil {
		return menu.Item{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE menu_items SET name = ?, price = ?, description = ?, image_url = ?, category = ? WHERE id = ?`,
		item.Name, item.Price, item.Description, item.ImageURL, item.Category, item.ID)
	if err != nil {
		return menu.Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return menu.Item{}, ErrNotFound
	}
	return item, nil
}

func (s *SQLite) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM menu_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) checkName(ctx context.Context, name string, selfID int64) error {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM menu_items WHERE name = ? COLLATE NOCASE AND id != ?`, name, selfID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	return fmt.Errorf("%w: %q", ErrDuplicateName, name)
}

func (s *SQLite) SaveOrder(ctx context.Context, sessionID string, snap draft.Snapshot) (Order, error) {
	items, err := json.Marshal(snap.Lines)
	if err != nil {
		return Order{}, fmt.Errorf("encode order lines: %w", err)
	}
	created := s.clock().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(session_id, created_at, total, status, note, items) VALUES(?, ?, ?, ?, ?, ?)`,
		sessionID, created.UnixMilli(), snap.Total, OrderStatusCompleted, snap.Note, string(items))
	if err != nil {
		return Order{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Order{}, err
	}
	return Order{
		ID:        id,
		SessionID: sessionID,
		Lines:     append([]draft.Line(nil), snap.Lines...),
		Note:      snap.Note,
		Total:     snap.Total,
		Status:    OrderStatusCompleted,
		CreatedAt: created,
	}, nil
}

func (s *SQLite) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, created_at, total, status, note, items
		 FROM orders ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			o       Order
			created int64
			items   string
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &created, &o.Total, &o.Status, &o.Note, &items); err != nil {
			return nil, err
		}
		o.CreatedAt = time.UnixMilli(created).UTC()
		if err := json.Unmarshal([]byte(items), &o.Lines); err != nil {
			return nil, fmt.Errorf("decode order %d lines: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total), 0), COALESCE(SUM(CASE WHEN created_at >= ? THEN total ELSE 0 END), 0) FROM orders`,
		startOfDay(now).UnixMilli()).Scan(&st.TotalSales, &st.TodaySales)
	if err != nil {
		return Stats{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT items FROM orders`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	pop := popularity{}
	for rows.Next() {
		var items string
		if err := rows.Scan(&items); err != nil {
			return Stats{}, err
		}
		var lines []draft.Line
		if err := json.Unmarshal([]byte(items), &lines); err != nil {
			s.log.Warn("skipping undecodable order lines", slog.String("error", err.Error()))
			continue
		}
		pop.add(lines)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	st.Popular = pop.top(PopularLimit)
	return st, nil
}

func (s *SQLite) AppendEvent(ctx context.Context, evt Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.Payload, evt.CreatedAt.UnixMilli())
	return err
}

// ListSessionEvents returns up to limit events for a session, oldest first.
func (s *SQLite) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM session_events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the event retention window and cap. Orders and menu items
// are never pruned.
func (s *SQLite) Prune(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM session_events WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEvents > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM session_events WHERE id IN (
			SELECT id FROM session_events ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEvents)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
