// Package tracker locates structural deletions in a host sequence by
// comparing its stable message IDs with a cached snapshot.
//
// Insertions are never diffed: callers that insert know where and signal it
// explicitly. Only deletions, which hosts report without a position, are
// inferred here.
//
// The tracker can only locate one contiguous deletion between two calls to
// Cache. Several separate deletions between refreshes are not told apart and
// would be attributed to the first mismatch, so callers must re-cache after
// every change they accept.
package tracker

import "sync"

// NoDeletion is returned by FindDeletedIndex when the sequence did not shrink.
const NoDeletion = -1

// Tracker caches one ordered snapshot of stable identifiers. Its lifetime is
// one chat session; Reset drops the snapshot.
type Tracker struct {
	mu     sync.Mutex
	cached []string
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Cache replaces the snapshot with a copy of ids.
func (t *Tracker) Cache(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cached = append(t.cached[:0:0], ids...)
}

// Len returns the length of the cached snapshot.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cached)
}

// Reset drops the snapshot.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cached = nil
}

// FindDeletedIndex returns the index at which current first diverges from
// the snapshot, or NoDeletion when current is not shorter. When current is a
// prefix of the snapshot the deletion is taken to be at the tail, which is
// reported as len(snapshot)-1.
func (t *Tracker) FindDeletedIndex(current []string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(current) >= len(t.cached) {
		return NoDeletion
	}
	for i := range current {
		if t.cached[i] != current[i] {
			return i
		}
	}
	return len(t.cached) - 1
}

// Deleted returns where the deletion starts and how many elements it
// removed, assuming one contiguous deletion since the last Cache.
func (t *Tracker) Deleted(current []string) (index, count int) {
	index = t.FindDeletedIndex(current)
	if index == NoDeletion {
		return NoDeletion, 0
	}
	count = t.Len() - len(current)
	if index+count > t.Len() {
		// tail mismatch, the removed block ends at the old tail
		index = t.Len() - count
	}
	return index, count
}
