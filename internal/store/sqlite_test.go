package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/draft"
	"github.com/loqalabs/loqa-order/internal/menu"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestSQLite(t *testing.T, cfg config.StoreConfig) *SQLite {
	t.Helper()
	cfg.Driver = "sqlite"
	cfg.Path = filepath.Join(t.TempDir(), "orders.db")
	s, err := OpenSQLite(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMenuCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, config.StoreConfig{})

	latte, err := s.CreateItem(ctx, menu.Item{Name: " Latte ", Price: 32000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if latte.ID == 0 || latte.Name != "Latte" || latte.Category != menu.DefaultCategory {
		t.Fatalf("unexpected created item %+v", latte)
	}
	if _, err := s.CreateItem(ctx, menu.Item{Name: "LATTE", Price: 1}); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
	if _, err := s.CreateItem(ctx, menu.Item{Name: "Tea", Price: -5}); !errors.Is(err, menu.ErrInvalidItem) {
		t.Fatalf("expected invalid item error, got %v", err)
	}

	latte.Price = 33000
	latte.Description = "Steamed milk"
	if _, err := s.UpdateItem(ctx, latte); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetItem(ctx, latte.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price != 33000 || got.Description != "Steamed milk" {
		t.Fatalf("update not persisted: %+v", got)
	}
	if _, err := s.UpdateItem(ctx, menu.Item{ID: 999, Name: "Ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.CreateItem(ctx, menu.Item{Name: "Espresso", Price: 25000}); err != nil {
		t.Fatal(err)
	}
	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Name != "Latte" {
		t.Fatalf("list = %+v", items)
	}

	if err := s.DeleteItem(ctx, latte.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetItem(ctx, latte.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteItem(ctx, latte.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSeedMenuOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, config.StoreConfig{})
	seed := []menu.Item{{Name: "Cappuccino", Price: 30000}, {Name: "Latte", Price: 32000}}
	n, err := SeedMenu(ctx, s, seed)
	if err != nil || n != 2 {
		t.Fatalf("SeedMenu = %d, %v", n, err)
	}
	n, err = SeedMenu(ctx, s, seed)
	if err != nil || n != 0 {
		t.Fatalf("second SeedMenu = %d, %v", n, err)
	}
}

func snapshot(lines ...draft.Line) draft.Snapshot {
	var total float64
	for _, l := range lines {
		total += l.Item.Price * float64(l.Quantity)
	}
	return draft.Snapshot{Lines: lines, Total: total}
}

func TestOrdersAndStats(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, config.StoreConfig{})
	cappuccino := menu.Item{ID: 1, Name: "Cappuccino", Price: 30000}
	latte := menu.Item{ID: 2, Name: "Latte", Price: 32000}
	espresso := menu.Item{ID: 3, Name: "Espresso", Price: 25000}

	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now.Add(-48 * time.Hour) }
	if _, err := s.SaveOrder(ctx, "old", snapshot(draft.Line{Item: latte, Quantity: 3})); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.clock = func() time.Time { return now.Add(-time.Hour) }
	snap := snapshot(
		draft.Line{Item: cappuccino, Quantity: 2, Provenance: draft.Detected},
		draft.Line{Item: espresso, Quantity: 1, Provenance: draft.Added},
	)
	snap.Note = "less sugar"
	saved, err := s.SaveOrder(ctx, "today", snap)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == 0 || saved.Status != OrderStatusCompleted {
		t.Fatalf("unexpected saved order %+v", saved)
	}

	orders, err := s.ListOrders(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 || orders[0].SessionID != "today" {
		t.Fatalf("orders should be newest first: %+v", orders)
	}
	if orders[0].Note != "less sugar" || len(orders[0].Lines) != 2 || orders[0].Lines[1].Provenance != draft.Added {
		t.Fatalf("order round trip lost data: %+v", orders[0])
	}

	st, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TodaySales != 85000 || st.TotalSales != 181000 {
		t.Fatalf("unexpected sales %+v", st)
	}
	want := []PopularItem{{"Latte", 3}, {"Cappuccino", 2}, {"Espresso", 1}}
	if len(st.Popular) != len(want) {
		t.Fatalf("popular = %+v", st.Popular)
	}
	for i := range want {
		if st.Popular[i] != want[i] {
			t.Fatalf("popular[%d] = %+v, want %+v", i, st.Popular[i], want[i])
		}
	}
}

func TestPopularityTopBreaksTiesByName(t *testing.T) {
	p := popularity{"b": 2, "a": 2, "c": 5, "d": 1, "e": 1, "f": 1}
	got := p.top(5)
	if len(got) != 5 || got[0].Name != "c" || got[1].Name != "a" || got[2].Name != "b" || got[3].Name != "d" {
		t.Fatalf("top = %+v", got)
	}
}

func TestEventsAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, config.StoreConfig{RetentionDays: 1, MaxEvents: 2})

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendEvent(ctx, Event{SessionID: "old", Type: "seeded"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, typ := range []string{"seeded", "committed", "discarded"} {
		if err := s.AppendEvent(ctx, Event{SessionID: "new", Type: typ, Payload: []byte(typ)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := s.ListSessionEvents(ctx, "old", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old events pruned, got %d", len(old))
	}
	recent, err := s.ListSessionEvents(ctx, "new", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Type != "committed" || string(recent[1].Payload) != "discarded" {
		t.Fatalf("expected newest two events kept, got %+v", recent)
	}
}
