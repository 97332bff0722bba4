// Package store persists the menu catalog, committed orders and the draft
// session timeline. SQLite serves single-node deployments; PostgreSQL backs
// shared ones. Both satisfy Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
)

const (
	OrderStatusCompleted = "completed"
	PopularLimit         = 5
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("menu item name already exists")
)

// Order is a committed draft with the identity assigned by the store.
type Order struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id,omitempty"`
	Lines     []draft.Line `json:"items"`
	Note      string       `json:"note"`
	Total     float64      `json:"total"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"date"`
}

type PopularItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type Stats struct {
	TodaySales float64       `json:"today_sales"`
	TotalSales float64       `json:"total_sales"`
	Popular    []PopularItem `json:"popular_items"`
}

// Event is a timeline entry for a draft session.
type Event struct {
	ID        int64
	SessionID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type MenuRepository interface {
	ListItems(ctx context.Context) ([]menu.Item, error)
	GetItem(ctx context.Context, id int64) (menu.Item, error)
	CreateItem(ctx context.Context, item menu.Item) (menu.Item, error)
	UpdateItem(ctx context.Context, item menu.Item) (menu.Item, error)
	DeleteItem(ctx context.Context, id int64) error
}

type OrderRepository interface {
	SaveOrder(ctx context.Context, sessionID string, snap draft.Snapshot) (Order, error)
	ListOrders(ctx context.Context, limit int) ([]Order, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

type EventLog interface {
	AppendEvent(ctx context.Context, evt Event) error
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error)
	Prune(ctx context.Context) error
}

type Store interface {
	MenuRepository
	OrderRepository
	EventLog
	Close() error
}

// Open connects to the configured driver and ensures the schema exists.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg, log)
	case "postgres":
		return OpenPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// SeedMenu inserts items when the catalog is empty. It returns the number of
// items written.
func SeedMenu(ctx context.Context, repo MenuRepository, items []menu.Item) (int, error) {
	existing, err := repo.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, it := range items {
		if _, err := repo.CreateItem(ctx, it); err != nil {
			return i, fmt.Errorf("seed %q: %w", it.Name, err)
		}
	}
	return len(items), nil
}

func prepareItem(item menu.Item) (menu.Item, error) {
	item = menu.Normalize(item)
	if err := menu.Validate(item); err != nil {
		return item, err
	}
	return item, nil
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// popularity accumulates quantities per item name across orders.
type popularity map[string]int

func (p popularity) add(lines []draft.Line) {
	for _, l := range lines {
		p[l.Item.Name] += l.Quantity
	}
}

// top returns the n best sellers, ties broken by name.
func (p popularity) top(n int) []PopularItem {
	out := make([]PopularItem, 0, len(p))
	for name, q := range p {
		out = append(out, PopularItem{Name: name, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
