package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
)

const uniqueViolation = "23505"

// DB is the subset of pgx used by Postgres. *pgxpool.Pool and *pgx.Conn both
// satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db    DB
	pool  *pgxpool.Pool
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

func OpenPostgres(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = 10
	pcfg.MinConns = 1
	pcfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := NewPostgres(pool, cfg, log)
	p.pool = pool
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	if err := p.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}
	return p, nil
}

// NewPostgres wraps an existing connection. Call Migrate before use.
func NewPostgres(db DB, cfg config.StoreConfig, log *slog.Logger) *Postgres {
	return &Postgres{db: db, cfg: cfg, log: log, clock: time.Now}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS menu_items (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    price DOUBLE PRECISION NOT NULL CHECK (price >= 0),
    description TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'coffee'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_menu_items_name ON menu_items (lower(name));
CREATE TABLE IF NOT EXISTS orders (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    total DOUBLE PRECISION NOT NULL,
    status TEXT NOT NULL DEFAULT 'completed',
    note TEXT NOT NULL DEFAULT '',
    items JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders (created_at);
CREATE TABLE IF NOT EXISTS session_events (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BYTEA,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events (session_id, created_at);
`
	_, err := p.db.Exec(ctx, ddl)
	return err
}

func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) ListItems(ctx context.Context) ([]menu.Item, error) {
	rows, err := p.db.Query(ctx,
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

func (p *Postgres) GetItem(ctx context.Context, id int64) (menu.Item, error) {
	var it menu.Item
	err := p.db.QueryRow(ctx,
		`SELECT id, name, price, description, image_url, category FROM menu_items WHERE id = $1`, id).
		Scan(&it.ID, &it.Name, &it.Price, &it.Description, &it.ImageURL, &it.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return menu.Item{}, ErrNotFound
	}
	return it, err
}

func (p *Postgres) CreateItem(ctx context.Context, item menu.Item) (menu.Item, error) {
	item, err := prepareItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	err = p.db.QueryRow(ctx,
		`INSERT INTO menu_items (name, price, description, image_url, category)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		item.Name, item.Price, item.Description, item.ImageURL, item.Category).Scan(&item.ID)
	if err != nil {
		return menu.Item{}, mapPgError(err, item.Name)
	}
	return item, nil
}

func (p *Postgres) UpdateItem(ctx context.Context, item menu.Item) (menu.Item, error) {
	item, err := prepareItem(item)
	if err != nil {
		return menu.Item{}, err
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE menu_items SET name = $1, price = $2, description = $3, image_url = $4, category = $5
		 WHERE id = $6`,
		item.Name, item.Price, item.Description, item.ImageURL, item.Category, item.ID)
	if err != nil {
		return menu.Item{}, mapPgError(err, item.Name)
	}
	if tag.RowsAffected() == 0 {
		return menu.Item{}, ErrNotFound
	}
	return item, nil
}

func (p *Postgres) DeleteItem(ctx context.Context, id int64) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveOrder(ctx context.Context, sessionID string, snap draft.Snapshot) (Order, error) {
	items, err := json.Marshal(snap.Lines)
	if err != nil {
		return Order{}, fmt.Errorf("encode order lines: %w", err)
	}
	o := Order{
		SessionID: sessionID,
		Lines:     append([]draft.Line(nil), snap.Lines...),
		Note:      snap.Note,
		Total:     snap.Total,
		Status:    OrderStatusCompleted,
		CreatedAt: p.clock().UTC().Truncate(time.Microsecond),
	}
	err = p.db.QueryRow(ctx,
		`INSERT INTO orders (session_id, created_at, total, status, note, items)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		o.SessionID, o.CreatedAt, o.Total, o.Status, o.Note, items).Scan(&o.ID)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (p *Postgres) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, session_id, created_at, total, status, note, items
		 FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			o     Order
			items []byte
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &o.CreatedAt, &o.Total, &o.Status, &o.Note, &items); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &o.Lines); err != nil {
			return nil, fmt.Errorf("decode order %d lines: %w", o.ID, err)
		}
		o.CreatedAt = o.CreatedAt.UTC()
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (p *Postgres) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	err := p.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0), COALESCE(SUM(total) FILTER (WHERE created_at >= $1), 0) FROM orders`,
		startOfDay(now)).Scan(&st.TotalSales, &st.TodaySales)
	if err != nil {
		return Stats{}, err
	}

	rows, err := p.db.Query(ctx,
		`SELECT line->'item'->>'name', SUM((line->>'quantity')::int)
		 FROM orders, jsonb_array_elements(items) AS line
		 GROUP BY 1`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	pop := popularity{}
	for rows.Next() {
		var (
			name string
			qty  int64
		)
		if err := rows.Scan(&name, &qty); err != nil {
			return Stats{}, err
		}
		pop[name] += int(qty)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	st.Popular = pop.top(PopularLimit)
	return st, nil
}

func (p *Postgres) AppendEvent(ctx context.Context, evt Event) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = p.clock().UTC()
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO session_events (session_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
		evt.SessionID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

func (p *Postgres) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM session_events WHERE session_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) Prune(ctx context.Context) error {
	if p.cfg.RetentionDays > 0 {
		cutoff := p.clock().Add(-time.Duration(p.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := p.db.Exec(ctx, `DELETE FROM session_events WHERE created_at < $1`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if p.cfg.MaxEvents > 0 {
		_, err := p.db.Exec(ctx, `DELETE FROM session_events WHERE id IN (
			SELECT id FROM session_events ORDER BY created_at DESC, id DESC OFFSET $1
		)`, p.cfg.MaxEvents)
		if err != nil {
			return err
		}
	}
	return nil
}

func mapPgError(err error, name string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
