package ranges

import (
	"fmt"
	"sync"
)

// Persistence loads and saves the ranges of one chat. Implementations are
// expected to be local and synchronous.
type Persistence interface {
	Ranges() ([]Range, error)
	SaveRanges(rs []Range) error
}

// Store is the persisted range collection of one chat. Every mutating call
// loads the current ranges, applies a pure operation and saves the result
// only when it differs.
type Store struct {
	persist Persistence
	mu      sync.Mutex
}

// NewStore returns a Store backed by p.
func NewStore(p Persistence) *Store {
	return &Store{persist: p}
}

// Ranges returns the stored ranges as persisted.
func (s *Store) Ranges() ([]Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Normalized returns the stored ranges normalized against length without
// writing them back.
func (s *Store) Normalized(length int) ([]Range, error) {
	rs, err := s.Ranges()
	if err != nil {
		return nil, err
	}
	return Normalize(rs, length), nil
}

// Hide adds [start, end] with opts.
func (s *Store) Hide(start, end int, opts Options, length int) ([]Range, error) {
	return s.update(func(rs []Range) ([]Range, bool) {
		next := Add(rs, start, end, opts, length)
		return next, true
	})
}

// Unhide subtracts [start, end] from every stored range.
func (s *Store) Unhide(start, end, length int) ([]Range, error) {
	return s.update(func(rs []Range) ([]Range, bool) {
		return Normalize(Subtract(rs, start, end), length), true
	})
}

// OnInsert shifts stored ranges for count elements inserted at index at.
func (s *Store) OnInsert(at, count int) ([]Range, error) {
	return s.update(func(rs []Range) ([]Range, bool) {
		return ShiftOnInsert(rs, at, count)
	})
}

// OnDelete shifts stored ranges for the deleted window [start, end]. length
// is the sequence length after the deletion.
func (s *Store) OnDelete(start, end, length int) ([]Range, error) {
	return s.update(func(rs []Range) ([]Range, bool) {
		return ShiftOnDelete(rs, start, end, length)
	})
}

// Normalize rewrites the stored ranges in normalized form.
func (s *Store) Normalize(length int) ([]Range, error) {
	return s.update(func(rs []Range) ([]Range, bool) {
		return Normalize(rs, length), true
	})
}

// Clear removes every stored range.
func (s *Store) Clear() error {
	_, err := s.update(func(rs []Range) ([]Range, bool) {
		return nil, len(rs) > 0
	})
	return err
}

func (s *Store) update(fn func([]Range) ([]Range, bool)) ([]Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load()
	if err != nil {
		return nil, err
	}
	next, changed := fn(rs)
	if !changed || equal(rs, next) {
		return next, nil
	}
	if err := s.persist.SaveRanges(next); err != nil {
		return nil, fmt.Errorf("save ranges: %w", err)
	}
	return next, nil
}

func (s *Store) load() ([]Range, error) {
	rs, err := s.persist.Ranges()
	if err != nil {
		return nil, fmt.Errorf("load ranges: %w", err)
	}
	return rs, nil
}

// equal compares two range lists field by field.
func equal(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Start != y.Start || x.End != y.End || x.IgnoreCollapse != y.IgnoreCollapse {
			return false
		}
		if (x.Hidden == nil) != (y.Hidden == nil) || (x.Hidden != nil && *x.Hidden != *y.Hidden) {
			return false
		}
		if len(x.IgnoreNames) != len(y.IgnoreNames) {
			return false
		}
		for k := range x.IgnoreNames {
			if x.IgnoreNames[k] != y.IgnoreNames[k] {
				return false
			}
		}
	}
	return true
}

// MemoryPersistence keeps ranges in memory. Useful for tests and for chats
// that should not outlive the process.
type MemoryPersistence struct {
	mu     sync.Mutex
	ranges []Range
	Saves  int
}

func (m *MemoryPersistence) Ranges() ([]Range, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Clone(m.ranges), nil
}

func (m *MemoryPersistence) SaveRanges(rs []Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = Clone(rs)
	m.Saves++
	return nil
}

// Covered reports whether index i lies inside a stored range.
func (s *Store) Covered(i int) (bool, error) {
	rs, err := s.Ranges()
	if err != nil {
		return false, err
	}
	return Covers(rs, i), nil
}
