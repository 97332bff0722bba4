package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
)

func TestMapPgError(t *testing.T) {
	err := mapPgError(fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation}), "Latte")
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	other := errors.New("boom")
	if got := mapPgError(other, "Latte"); got != other {
		t.Fatalf("unexpected mapping %v", got)
	}
}

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("LOQA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LOQA_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, config.StoreConfig{Driver: "postgres", DSN: dsn}, newLogger())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		_, _ = p.db.Exec(context.Background(), `TRUNCATE menu_items, orders, session_events RESTART IDENTITY`)
		_ = p.Close()
	})
	if _, err := p.db.Exec(ctx, `TRUNCATE menu_items, orders, session_events RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return p
}

func TestPostgresMenuAndOrders(t *testing.T) {
	ctx := context.Background()
	p := openTestPostgres(t)

	latte, err := p.CreateItem(ctx, menu.Item{Name: "Latte", Price: 32000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := p.CreateItem(ctx, menu.Item{Name: "latte", Price: 1}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}

	now := time.Now()
	if _, err := p.SaveOrder(ctx, "s1", draft.Snapshot{
		Lines: []draft.Line{{Item: latte, Quantity: 2, Provenance: draft.Detected}},
		Total: 64000,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	orders, err := p.ListOrders(ctx, 5)
	if err != nil || len(orders) != 1 || orders[0].Lines[0].Quantity != 2 {
		t.Fatalf("list = %+v, %v", orders, err)
	}
	st, err := p.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalSales != 64000 || len(st.Popular) != 1 || st.Popular[0].Quantity != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPostgresEvents(t *testing.T) {
	ctx := context.Background()
	p := openTestPostgres(t)
	if err := p.AppendEvent(ctx, Event{SessionID: "s1", Type: "seeded"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err := p.ListSessionEvents(ctx, "s1", 10)
	if err != nil || len(events) != 1 || events[0].Type != "seeded" {
		t.Fatalf("events = %+v, %v", events, err)
	}
}
