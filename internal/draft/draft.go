// Package draft holds the reviewable order built from recognition results
// and user edits.
package draft

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/recognition"
)

const DefaultNoteLimit = 1000

var (
	ErrState           = errors.New("invalid draft state")
	ErrInvalidQuantity = errors.New("quantity must be >= 1")
	ErrInvalidItem     = errors.New("invalid item")
	ErrUnknownLine     = errors.New("item not in draft")
	ErrNoteTooLong     = errors.New("note exceeds length limit")
	ErrEmptyOrder      = errors.New("order has no lines")
)

type Provenance string

const (
	Detected Provenance = "detected"
	Added    Provenance = "added"
	Modified Provenance = "modified"
)

type State string

const (
	StateEmpty     State = "empty"
	StateSeeded    State = "seeded"
	StateEditing   State = "editing"
	StateCommitted State = "committed"
)

// StateError reports an operation attempted in a state that forbids it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("draft %s not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

type Line struct {
	Item       menu.Item  `json:"item"`
	Quantity   int        `json:"quantity"`
	Provenance Provenance `json:"provenance"`
}

// Snapshot is the immutable result of Commit.
type Snapshot struct {
	Lines []Line  `json:"lines"`
	Note  string  `json:"note"`
	Total float64 `json:"total"`
}

type Option func(*Order)

// WithNoteLimit caps the note length in characters.
func WithNoteLimit(n int) Option {
	return func(o *Order) {
		if n > 0 {
			o.noteLimit = n
		}
	}
}

// Order is a single draft. It has one writer; callers that share an Order
// across goroutines must serialize access.
type Order struct {
	lines     []Line
	seed      []Line
	seeded    bool
	note      string
	state     State
	noteLimit int
	snapshot  *Snapshot
}

func New(opts ...Option) *Order {
	o := &Order{state: StateEmpty, noteLimit: DefaultNoteLimit}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Order) State() State { return o.state }

func (o *Order) Note() string { return o.note }

// Lines returns a copy of the current lines in insertion order.
func (o *Order) Lines() []Line {
	return append([]Line(nil), o.lines...)
}

// Total is recomputed from the current lines on every call.
func (o *Order) Total() float64 {
	return total(o.lines)
}

// Seed fills an empty draft from detection results. Candidates naming the
// same item are merged by summing their quantities. Validation runs over the
// whole list first so a rejected seed leaves the draft untouched.
func (o *Order) Seed(candidates []recognition.Candidate) error {
	if o.state != StateEmpty {
		return &StateError{Op: "seed", State: o.state}
	}
	lines := make([]Line, 0, len(candidates))
	index := make(map[int64]int, len(candidates))
	for _, c := range candidates {
		if c.Quantity < 1 {
			return fmt.Errorf("seed %q: %w", c.Item.Name, ErrInvalidQuantity)
		}
		if c.Item.Price < 0 {
			return fmt.Errorf("seed %q: %w: negative price", c.Item.Name, ErrInvalidItem)
		}
		if i, ok := index[c.Item.ID]; ok {
			lines[i].Quantity += c.Quantity
			continue
		}
		index[c.Item.ID] = len(lines)
		lines = append(lines, Line{Item: c.Item, Quantity: c.Quantity, Provenance: Detected})
	}
	o.lines = lines
	o.seed = append([]Line(nil), lines...)
	o.seeded = true
	o.state = StateSeeded
	return nil
}

// SetQuantity replaces a line's quantity. Use Remove to delete a line.
func (o *Order) SetQuantity(itemID int64, n int) error {
	if err := o.mutable("set_quantity"); err != nil {
		return err
	}
	if n < 1 {
		return ErrInvalidQuantity
	}
	i := o.find(itemID)
	if i < 0 {
		return fmt.Errorf("set quantity for item %d: %w", itemID, ErrUnknownLine)
	}
	o.lines[i].Quantity = n
	if o.lines[i].Provenance == Detected {
		o.lines[i].Provenance = Modified
	}
	o.touch()
	return nil
}

// Remove deletes the line for itemID. Removing an absent item is a no-op.
func (o *Order) Remove(itemID int64) error {
	if err := o.mutable("remove"); err != nil {
		return err
	}
	i := o.find(itemID)
	if i < 0 {
		return nil
	}
	o.lines = append(o.lines[:i], o.lines[i+1:]...)
	o.touch()
	return nil
}

// AddOrIncrement adds n of item, merging into an existing line when present.
func (o *Order) AddOrIncrement(item menu.Item, n int) error {
	if err := o.mutable("add"); err != nil {
		return err
	}
	if n < 1 {
		return ErrInvalidQuantity
	}
	if item.Price < 0 {
		return fmt.Errorf("add %q: %w: negative price", item.Name, ErrInvalidItem)
	}
	if i := o.find(item.ID); i >= 0 {
		o.lines[i].Quantity += n
		if o.lines[i].Provenance == Detected {
			o.lines[i].Provenance = Modified
		}
	} else {
		o.lines = append(o.lines, Line{Item: item, Quantity: n, Provenance: Added})
	}
	o.touch()
	return nil
}

func (o *Order) SetNote(text string) error {
	if err := o.mutable("set_note"); err != nil {
		return err
	}
	if utf8.RuneCountInString(text) > o.noteLimit {
		return fmt.Errorf("%w (%d characters)", ErrNoteTooLong, o.noteLimit)
	}
	o.note = text
	return nil
}

// Revert drops every edit and restores the seeded lines.
func (o *Order) Revert() error {
	if err := o.mutable("revert"); err != nil {
		return err
	}
	if !o.seeded {
		return &StateError{Op: "revert", State: o.state}
	}
	o.lines = append([]Line(nil), o.seed...)
	o.state = StateSeeded
	return nil
}

// Preview returns the snapshot Commit would produce without freezing the
// draft.
func (o *Order) Preview() (Snapshot, error) {
	if err := o.mutable("commit"); err != nil {
		return Snapshot{}, err
	}
	if len(o.lines) == 0 {
		return Snapshot{}, ErrEmptyOrder
	}
	return Snapshot{
		Lines: append([]Line(nil), o.lines...),
		Note:  o.note,
		Total: total(o.lines),
	}, nil
}

// Commit freezes the draft. An order without lines cannot be committed and
// the draft stays editable in that case.
func (o *Order) Commit() (Snapshot, error) {
	snap, err := o.Preview()
	if err != nil {
		return Snapshot{}, err
	}
	o.snapshot = &snap
	o.state = StateCommitted
	return copySnapshot(snap), nil
}

// Committed returns the snapshot taken by Commit.
func (o *Order) Committed() (Snapshot, bool) {
	if o.snapshot == nil {
		return Snapshot{}, false
	}
	return copySnapshot(*o.snapshot), true
}

func (o *Order) mutable(op string) error {
	if o.state == StateCommitted {
		return &StateError{Op: op, State: o.state}
	}
	return nil
}

// touch records a line edit. A draft edited before any seed counts as
// non-empty and can no longer be seeded.
func (o *Order) touch() {
	if o.state == StateSeeded || o.state == StateEmpty {
		o.state = StateEditing
	}
}

func (o *Order) find(itemID int64) int {
	for i, l := range o.lines {
		if l.Item.ID == itemID {
			return i
		}
	}
	return -1
}

func total(lines []Line) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Item.Price * float64(l.Quantity)
	}
	return sum
}

func copySnapshot(s Snapshot) Snapshot {
	s.Lines = append([]Line(nil), s.Lines...)
	return s
}
