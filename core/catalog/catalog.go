package catalog

import (
	"strings"

	"github.com/m3rciful/bookbot/core/config"
)

// Item is one purchasable entry. Items are built once at startup and never
// mutated afterwards.
type Item struct {
	ID    int
	Name  string
	File  string
	Price int
}

// Catalog is the immutable list of items offered by the bot.
type Catalog struct {
	items []Item
}

// FromConfig builds a catalog from validated configuration entries,
// preserving their order.
func FromConfig(entries []config.ItemConfig) *Catalog {
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{
			ID:    e.ID,
			Name:  strings.TrimSpace(e.Name),
			File:  e.File,
			Price: e.Price,
		})
	}
	return &Catalog{items: items}
}

// List returns all items in catalog order.
func (c *Catalog) List() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Match returns, in catalog order, every item whose display name occurs as a
// case-insensitive substring of the given text.
func (c *Catalog) Match(text string) []Item {
	lower := strings.ToLower(text)
	var matched []Item
	for _, item := range c.items {
		if strings.Contains(lower, strings.ToLower(item.Name)) {
			matched = append(matched, item)
		}
	}
	return matched
}

// ByID resolves an item by its identifier.
func (c *Catalog) ByID(id int) (Item, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// ByName resolves an item by exact display name.
func (c *Catalog) ByName(name string) (Item, bool) {
	for _, item := range c.items {
		if item.Name == name {
			return item, true
		}
	}
	return Item{}, false
}

// Listing renders the bullet list of item names sent to customers.
func (c *Catalog) Listing() string {
	var b strings.Builder
	for i, item := range c.items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• ")
		b.WriteString(item.Name)
	}
	return b.String()
}
