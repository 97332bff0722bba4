// Package menu defines the purchasable items the recognizer matches against.
package menu

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultCategory = "coffee"

var ErrInvalidItem = errors.New("invalid menu item")

// Item is a single catalog entry. Names are unique case-insensitively.
type Item struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Price       float64 `json:"price" yaml:"price"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Category    string  `json:"category" yaml:"category"`
}

// Validate checks the fields a catalog store requires before persisting.
func Validate(item Item) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if item.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidItem)
	}
	return nil
}

// Normalize trims the name and applies the default category.
func Normalize(item Item) Item {
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)
	if item.Category == "" {
		item.Category = DefaultCategory
	}
	return item
}

// Catalog is an ordered, read-only view of the menu. Iteration order is the
// order recognition results are reported in.
type Catalog []Item

// Find returns the item with the given id.
func (c Catalog) Find(id int64) (Item, bool) {
	for _, it := range c {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// FindByName looks an item up case-insensitively.
func (c Catalog) FindByName(name string) (Item, bool) {
	name = strings.TrimSpace(name)
	for _, it := range c {
		if strings.EqualFold(strings.TrimSpace(it.Name), name) {
			return it, true
		}
	}
	return Item{}, false
}

// Seed is the on-disk format used to populate an empty catalog.
type Seed struct {
	Items []Item `yaml:"items"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse menu seed: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Items))
	items := make([]Item, 0, len(s.Items))
	for i, it := range s.Items {
		it = Normalize(it)
		if err := Validate(it); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		key := strings.ToLower(it.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("items[%d]: %w: duplicate name %q", i, ErrInvalidItem, it.Name)
		}
		seen[key] = struct{}{}
		items = append(items, it)
	}
	return items, nil
}
