// Package session holds the per-customer ordering state and its store.
// The store owns all mutation: callers read snapshots and apply changes
// under a per-customer lock so an engine turn and an asynchronous proof
// continuation for the same customer never interleave.
package session

import "time"

// Stage identifies the customer's position in the ordering flow.
type Stage string

const (
	// StageStart means the customer is browsing the catalog.
	StageStart Stage = "start"
	// StageAwaitingGift means the customer qualified for a bonus item and
	// must pick one.
	StageAwaitingGift Stage = "awaiting_gift"
	// StageAwaitingPayment means the bot is waiting for a payment proof image.
	StageAwaitingPayment Stage = "awaiting_payment"
)

// SelectedItem records one chosen catalog item with explicit multiplicity.
// Matching the same item again bumps Qty instead of appending a duplicate.
type SelectedItem struct {
	ID   int
	Name string
	Qty  int
}

// Session is the mutable per-customer conversation state.
type Session struct {
	Stage Stage
	Items []SelectedItem
	// Bonus is the display name of the free item, set only when the session
	// leaves StageAwaitingGift.
	Bonus string
	// Version increases on every store mutation; asynchronous continuations
	// compare it before applying results.
	Version   uint64
	UpdatedAt time.Time
}

// Add merges a chosen item into the selection, bumping quantity on repeat.
func (s *Session) Add(id int, name string) {
	for i := range s.Items {
		if s.Items[i].ID == id {
			s.Items[i].Qty++
			return
		}
	}
	s.Items = append(s.Items, SelectedItem{ID: id, Name: name, Qty: 1})
}

// Has reports whether the named item is already part of the selection.
func (s *Session) Has(name string) bool {
	for _, it := range s.Items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// Units returns the total number of paid units across the selection.
func (s *Session) Units() int {
	n := 0
	for _, it := range s.Items {
		n += it.Qty
	}
	return n
}

// Names returns the selected display names in selection order, repeated per
// unit for quantity-aware rendering.
func (s *Session) Names() []string {
	var out []string
	for _, it := range s.Items {
		for i := 0; i < it.Qty; i++ {
			out = append(out, it.Name)
		}
	}
	return out
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Items = make([]SelectedItem, len(s.Items))
	copy(cp.Items, s.Items)
	return &cp
}
