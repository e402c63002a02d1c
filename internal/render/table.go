// Package render holds rendering layers for chat views: an in-memory element
// table and a websocket feed that mirrors it to connected clients.
package render

import (
	"sort"
	"sync"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// Fold is a run of consecutive collapsed elements, by display ID.
type Fold struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Table is an in-memory rendering layer. Like a lazily loaded chat view it
// only holds the elements that were loaded into it.
type Table struct {
	mu    sync.Mutex
	els   []schema.Element
	folds []Fold
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// Load renders the host messages in [start, end] with their current index as
// display ID, replacing elements with the same key.
func (t *Table) Load(host schema.Host, start, end int) int {
	msgs := host.Messages(start, end)
	if start < 0 {
		start = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range msgs {
		el := schema.Element{Key: m.ID, DisplayID: start + i, Hidden: m.IsSystem}
		if j := t.indexLocked(m.ID); j >= 0 {
			t.els[j] = el
		} else {
			t.els = append(t.els, el)
		}
	}
	return len(msgs)
}

// Reset drops every element.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.els = nil
	t.folds = nil
}

// Elements returns a copy of the elements ordered by display ID.
func (t *Table) Elements() []schema.Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]schema.Element, len(t.els))
	copy(out, t.els)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayID < out[j].DisplayID })
	return out
}

// Element returns the element shown as displayID.
func (t *Table) Element(displayID int) (schema.Element, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.els {
		if e.DisplayID == displayID {
			return e, true
		}
	}
	return schema.Element{}, false
}

func (t *Table) SetState(displayID int, hidden, collapsed bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.els {
		if t.els[i].DisplayID == displayID {
			t.els[i].Hidden = hidden
			t.els[i].Collapsed = collapsed
			return true
		}
	}
	return false
}

func (t *Table) SetDisplayID(key string, displayID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexLocked(key); i >= 0 {
		t.els[i].DisplayID = displayID
	}
}

func (t *Table) InsertElement(key string, displayID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el := schema.Element{Key: key, DisplayID: displayID, Inserted: true}
	if i := t.indexLocked(key); i >= 0 {
		t.els[i] = el
		return
	}
	t.els = append(t.els, el)
}

// RefreshFolds recomputes the fold groups from the collapsed elements.
func (t *Table) RefreshFolds() {
	els := t.Elements()

	var folds []Fold
	for _, e := range els {
		if !e.Collapsed {
			continue
		}
		if n := len(folds); n > 0 && folds[n-1].To+1 == e.DisplayID {
			folds[n-1].To = e.DisplayID
			continue
		}
		folds = append(folds, Fold{From: e.DisplayID, To: e.DisplayID})
	}

	t.mu.Lock()
	t.folds = folds
	t.mu.Unlock()
}

// Folds returns the fold groups computed by the last RefreshFolds.
func (t *Table) Folds() []Fold {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Fold(nil), t.folds...)
}

func (t *Table) indexLocked(key string) int {
	for i, e := range t.els {
		if e.Key == key {
			return i
		}
	}
	return -1
}
