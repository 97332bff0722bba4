package draft

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/recognition"
)

var (
	cappuccino = menu.Item{ID: 1, Name: "Cappuccino", Price: 30000}
	latte      = menu.Item{ID: 2, Name: "Latte", Price: 32000}
	espresso   = menu.Item{ID: 3, Name: "Espresso", Price: 25000}
)

func seeded(t *testing.T) *Order {
	t.Helper()
	o := New()
	err := o.Seed([]recognition.Candidate{
		{Item: cappuccino, Quantity: 2},
		{Item: latte, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return o
}

func TestEndToEndCommit(t *testing.T) {
	o := seeded(t)
	if err := o.AddOrIncrement(espresso, 1); err != nil {
		t.Fatalf("AddOrIncrement: %v", err)
	}
	snap, err := o.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if snap.Total != 117000 {
		t.Fatalf("total = %v, want 117000", snap.Total)
	}
	if len(snap.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %+v", snap.Lines)
	}
	if snap.Lines[2].Item.ID != espresso.ID || snap.Lines[2].Provenance != Added {
		t.Fatalf("espresso line = %+v", snap.Lines[2])
	}
	if snap.Lines[0].Provenance != Detected || snap.Lines[1].Provenance != Detected {
		t.Fatalf("seeded lines should stay detected, got %+v", snap.Lines)
	}
}

func TestSeedTwiceFails(t *testing.T) {
	o := seeded(t)
	before := o.Lines()
	err := o.Seed([]recognition.Candidate{{Item: espresso, Quantity: 1}})
	if !errors.Is(err, ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	var se *StateError
	if !errors.As(err, &se) || se.Op != "seed" || se.State != StateSeeded {
		t.Fatalf("unexpected state error %+v", err)
	}
	if got := o.Lines(); len(got) != len(before) {
		t.Fatalf("lines changed after rejected seed: %+v", got)
	}
}

func TestSeedRejectsInvalidCandidatesAtomically(t *testing.T) {
	o := New()
	err := o.Seed([]recognition.Candidate{
		{Item: cappuccino, Quantity: 2},
		{Item: latte, Quantity: 0},
	})
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if o.State() != StateEmpty || len(o.Lines()) != 0 {
		t.Fatalf("no partial seeding expected, state=%s lines=%+v", o.State(), o.Lines())
	}
	if err := o.Seed([]recognition.Candidate{{Item: latte, Quantity: 1}}); err != nil {
		t.Fatalf("draft should still accept a valid seed: %v", err)
	}
}

func TestSeedMergesDuplicateItems(t *testing.T) {
	o := New()
	err := o.Seed([]recognition.Candidate{
		{Item: latte, Quantity: 1},
		{Item: latte, Quantity: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := o.Lines()
	if len(lines) != 1 || lines[0].Quantity != 3 {
		t.Fatalf("expected one merged line, got %+v", lines)
	}
}

func TestSetQuantityProvenance(t *testing.T) {
	o := seeded(t)
	if err := o.SetQuantity(latte.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := o.SetQuantity(latte.ID, 4); err != nil {
		t.Fatal(err)
	}
	if err := o.AddOrIncrement(espresso, 1); err != nil {
		t.Fatal(err)
	}
	if err := o.SetQuantity(espresso.ID, 2); err != nil {
		t.Fatal(err)
	}
	lines := o.Lines()
	if lines[1].Provenance != Modified || lines[1].Quantity != 4 {
		t.Fatalf("latte line = %+v", lines[1])
	}
	if lines[2].Provenance != Added || lines[2].Quantity != 2 {
		t.Fatalf("espresso line = %+v", lines[2])
	}
	if err := o.SetQuantity(99, 1); !errors.Is(err, ErrUnknownLine) {
		t.Fatalf("expected ErrUnknownLine, got %v", err)
	}
	if o.State() != StateEditing {
		t.Fatalf("state = %s, want editing", o.State())
	}
}

func TestAddOrIncrementMergesIntoExistingLine(t *testing.T) {
	o := seeded(t)
	if err := o.AddOrIncrement(cappuccino, 3); err != nil {
		t.Fatal(err)
	}
	lines := o.Lines()
	if len(lines) != 2 {
		t.Fatalf("duplicate line created: %+v", lines)
	}
	if lines[0].Quantity != 5 || lines[0].Provenance != Modified {
		t.Fatalf("cappuccino line = %+v", lines[0])
	}
	if err := o.AddOrIncrement(espresso, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := o.AddOrIncrement(menu.Item{ID: 7, Price: -1}, 1); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	o := seeded(t)
	if err := o.Remove(99); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
	if o.State() != StateSeeded {
		t.Fatalf("no-op remove should not change state, got %s", o.State())
	}
	if err := o.Remove(latte.ID); err != nil {
		t.Fatal(err)
	}
	if len(o.Lines()) != 1 || o.Total() != 60000 {
		t.Fatalf("lines=%+v total=%v", o.Lines(), o.Total())
	}
}

func TestSetNoteLimit(t *testing.T) {
	o := New(WithNoteLimit(5))
	if err := o.SetNote("héllo"); err != nil {
		t.Fatalf("5 characters should fit: %v", err)
	}
	if err := o.SetNote("hello!"); !errors.Is(err, ErrNoteTooLong) {
		t.Fatalf("expected ErrNoteTooLong, got %v", err)
	}
	if o.Note() != "héllo" {
		t.Fatalf("rejected note must not replace the old one, got %q", o.Note())
	}
	if err := New().SetNote(strings.Repeat("a", DefaultNoteLimit)); err != nil {
		t.Fatalf("default limit: %v", err)
	}
}

func TestRevertRestoresSeed(t *testing.T) {
	o := seeded(t)
	_ = o.Remove(cappuccino.ID)
	_ = o.AddOrIncrement(espresso, 2)
	if err := o.Revert(); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateSeeded {
		t.Fatalf("state = %s", o.State())
	}
	lines := o.Lines()
	if len(lines) != 2 || lines[0].Item.ID != cappuccino.ID || lines[0].Provenance != Detected {
		t.Fatalf("lines = %+v", lines)
	}
	if err := New().Revert(); !errors.Is(err, ErrState) {
		t.Fatalf("revert without seed should fail, got %v", err)
	}
}

func TestCommitEmptyFails(t *testing.T) {
	o := New()
	if _, err := o.Commit(); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
	if o.State() != StateEmpty {
		t.Fatalf("state = %s", o.State())
	}
}

func TestPreviewDoesNotFreeze(t *testing.T) {
	o := seeded(t)
	snap, err := o.Preview()
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if snap.Total != o.Total() || o.State() != StateSeeded {
		t.Fatalf("preview = %+v, state %s", snap, o.State())
	}
	if err := o.SetQuantity(latte.ID, 3); err != nil {
		t.Fatalf("draft should stay editable after preview: %v", err)
	}
	if _, err := New().Preview(); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
}

func TestMutationAfterCommitFails(t *testing.T) {
	o := seeded(t)
	snap, err := o.Commit()
	if err != nil {
		t.Fatal(err)
	}
	ops := map[string]func() error{
		"seed":   func() error { return o.Seed(nil) },
		"set":    func() error { return o.SetQuantity(latte.ID, 2) },
		"remove": func() error { return o.Remove(latte.ID) },
		"add":    func() error { return o.AddOrIncrement(espresso, 1) },
		"note":   func() error { return o.SetNote("x") },
		"revert": func() error { return o.Revert() },
		"commit": func() error { _, err := o.Commit(); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrState) {
			t.Errorf("%s after commit: expected state error, got %v", name, err)
		}
	}
	snap.Lines[0].Quantity = 100
	again, ok := o.Committed()
	if !ok {
		t.Fatal("expected committed snapshot")
	}
	if again.Total != 92000 || again.Lines[0].Quantity != 2 {
		t.Fatalf("committed snapshot changed: %+v", again)
	}
}

func TestTotalMatchesLinesUnderRandomEdits(t *testing.T) {
	items := []menu.Item{cappuccino, latte, espresso, {ID: 4, Name: "Water", Price: 0}, {ID: 5, Name: "Cake", Price: 18500.5}}
	for seed := uint64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		o := New()
		if rng.IntN(2) == 0 {
			_ = o.Seed([]recognition.Candidate{{Item: items[rng.IntN(len(items))], Quantity: 1 + rng.IntN(3)}})
		}
		for step := 0; step < 50; step++ {
			it := items[rng.IntN(len(items))]
			var err error
			switch rng.IntN(3) {
			case 0:
				err = o.SetQuantity(it.ID, rng.IntN(6)-1)
			case 1:
				err = o.AddOrIncrement(it, rng.IntN(5)-1)
			default:
				err = o.Remove(it.ID)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuantity) && !errors.Is(err, ErrUnknownLine) {
				t.Fatalf("seed %d step %d: unexpected error %v", seed, step, err)
			}
			assertConsistent(t, o)
		}
	}
}

func assertConsistent(t *testing.T, o *Order) {
	t.Helper()
	var want float64
	seen := map[int64]bool{}
	for _, l := range o.Lines() {
		if seen[l.Item.ID] {
			t.Fatalf("duplicate line for item %d", l.Item.ID)
		}
		seen[l.Item.ID] = true
		if l.Quantity < 1 {
			t.Fatalf("line with quantity %d", l.Quantity)
		}
		want += l.Item.Price * float64(l.Quantity)
	}
	if got := o.Total(); got != want || got < 0 {
		t.Fatalf("total = %v, want %v", got, want)
	}
}
