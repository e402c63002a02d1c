package batch

import (
	"sort"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// MaxReconcilePasses bounds the duplicate resolution loop.
const MaxReconcilePasses = 6

// originalPositions maps insertion positions given in final coordinates back
// to the positions they had before any insertion of the batch. An insertion's
// rank is the number of insertions at a strictly smaller final position, so
// insertions sharing a final position share an original one.
func originalPositions(insertions []int) []int {
	sorted := append([]int(nil), insertions...)
	sort.Ints(sorted)
	out := make([]int, len(sorted))
	for k, p := range sorted {
		out[k] = p - sort.SearchInts(sorted, p)
	}
	sort.Ints(out)
	return out
}

// ReconcileDisplayIDs bumps the displayed identifier of every element that
// was rendered before the batch's insertions but now sits after them.
// Elements marked Inserted are already in final coordinates and stay fixed.
//
// Bumping can make an element collide with an inserted one. Each pass moves
// every non-inserted member of a duplicate bucket up by one; at most
// MaxReconcilePasses passes run. The number of passes that moved something
// is returned alongside the updated copy of els.
func ReconcileDisplayIDs(els []schema.Element, insertions []int) ([]schema.Element, int) {
	out := make([]schema.Element, len(els))
	copy(out, els)
	if len(insertions) == 0 {
		return out, 0
	}

	orig := originalPositions(insertions)
	for i := range out {
		if out[i].Inserted {
			continue
		}
		// number of original positions <= id
		out[i].DisplayID += sort.SearchInts(orig, out[i].DisplayID+1)
	}

	passes := 0
	for passes < MaxReconcilePasses {
		if !dedupePass(out) {
			break
		}
		passes++
	}
	return out, passes
}

// dedupePass resolves each duplicate bucket once and reports whether any
// element moved.
func dedupePass(els []schema.Element) bool {
	buckets := make(map[int][]int)
	for i, e := range els {
		buckets[e.DisplayID] = append(buckets[e.DisplayID], i)
	}
	ids := make([]int, 0, len(buckets))
	for id, members := range buckets {
		if len(members) > 1 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	moved := false
	for _, id := range ids {
		members := buckets[id]
		keep := members[0]
		for _, i := range members {
			if els[i].Inserted {
				keep = i
				break
			}
		}
		for _, i := range members {
			if i == keep || els[i].Inserted {
				continue
			}
			els[i].DisplayID++
			moved = true
		}
	}
	return moved
}

// HasDuplicateIDs reports whether two elements share a displayed identifier.
func HasDuplicateIDs(els []schema.Element) bool {
	seen := make(map[int]bool, len(els))
	for _, e := range els {
		if seen[e.DisplayID] {
			return true
		}
		seen[e.DisplayID] = true
	}
	return false
}
