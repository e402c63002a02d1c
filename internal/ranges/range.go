// Package ranges implements the visibility range store: a set of inclusive
// index intervals over a chat that mark which messages are hidden.
//
// Every function in this file is pure. Inputs are never modified; results
// are fresh slices. Malformed ranges are dropped during normalization rather
// than reported.
//
// Normalized invariants:
//
//	sorted by Start
//	0 <= Start <= End < length
//	no two ranges overlap or touch (next.Start > prev.End+1)
package ranges

import "sort"

// Range is an inclusive interval [Start, End] of message indices.
//
// Hidden is tri-state: nil defers to the global hide default.
type Range struct {
	Start          int      `json:"start"`
	End            int      `json:"end"`
	Hidden         *bool    `json:"hidden,omitempty"`
	IgnoreCollapse bool     `json:"ignoreCollapse,omitempty"`
	IgnoreNames    []string `json:"ignoreNames,omitempty"`
}

// Options are the per-range flags accepted by Add.
type Options struct {
	Hidden         *bool
	IgnoreCollapse bool
	IgnoreNames    []string
}

// Bool returns a pointer to b, for Range.Hidden literals.
func Bool(b bool) *bool { return &b }

// Len returns the number of indices the range covers.
func (r Range) Len() int { return r.End - r.Start + 1 }

// Contains reports whether index i lies in the range.
func (r Range) Contains(i int) bool { return i >= r.Start && i <= r.End }

// EffectiveHidden resolves the tri-state Hidden flag against def.
func (r Range) EffectiveHidden(def bool) bool {
	if r.Hidden == nil {
		return def
	}
	return *r.Hidden
}

func (r Range) clone() Range {
	out := r
	if r.Hidden != nil {
		out.Hidden = Bool(*r.Hidden)
	}
	if r.IgnoreNames != nil {
		out.IgnoreNames = append([]string(nil), r.IgnoreNames...)
	}
	return out
}

// Clone returns a deep copy of rs.
func Clone(rs []Range) []Range {
	if rs == nil {
		return nil
	}
	out := make([]Range, len(rs))
	for i, r := range rs {
		out[i] = r.clone()
	}
	return out
}

// Normalize drops ranges with Start < 0, End < Start or Start >= length,
// clamps End to length-1, sorts by Start and merges overlapping or adjacent
// ranges. Merging only strengthens flags: booleans are OR-ed and name lists
// are unioned.
func Normalize(rs []Range, length int) []Range {
	valid := make([]Range, 0, len(rs))
	for _, r := range rs {
		if r.Start < 0 || r.End < r.Start || r.Start >= length {
			continue
		}
		c := r.clone()
		if c.End > length-1 {
			c.End = length - 1
		}
		valid = append(valid, c)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })

	out := make([]Range, 0, len(valid))
	for _, cur := range valid {
		if len(out) == 0 {
			out = append(out, cur)
			continue
		}
		last := &out[len(out)-1]
		if cur.Start > last.End+1 {
			out = append(out, cur)
			continue
		}
		if cur.End > last.End {
			last.End = cur.End
		}
		last.Hidden = orHidden(last.Hidden, cur.Hidden)
		last.IgnoreCollapse = last.IgnoreCollapse || cur.IgnoreCollapse
		last.IgnoreNames = MergeNames(last.IgnoreNames, cur.IgnoreNames)
	}
	return out
}

// orHidden merges two tri-state flags. An unset flag never overrides a set one.
func orHidden(a, b *bool) *bool {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return Bool(*b)
	case b == nil:
		return Bool(*a)
	default:
		return Bool(*a || *b)
	}
}

// Add appends [start, end] with opts and normalizes the result.
func Add(rs []Range, start, end int, opts Options, length int) []Range {
	r := Range{
		Start:          start,
		End:            end,
		Hidden:         opts.Hidden,
		IgnoreCollapse: opts.IgnoreCollapse,
		IgnoreNames:    MergeNames(nil, opts.IgnoreNames),
	}
	next := append(Clone(rs), r)
	return Normalize(next, length)
}

// Subtract removes the window [start, end] from every range. A range
// straddling the whole window is split in two; remainders keep the original
// flags. Empty remainders are dropped.
func Subtract(rs []Range, start, end int) []Range {
	out := make([]Range, 0, len(rs))
	for _, r := range rs {
		switch {
		case r.End < start || r.Start > end:
			// disjoint
			out = append(out, r.clone())
		case r.Start >= start && r.End <= end:
			// fully covered
		case r.Start >= start:
			// window overlaps the head of r
			c := r.clone()
			c.Start = end + 1
			out = append(out, c)
		case r.End <= end:
			// window overlaps the tail of r
			c := r.clone()
			c.End = start - 1
			out = append(out, c)
		default:
			left, right := r.clone(), r.clone()
			left.End = start - 1
			right.Start = end + 1
			out = append(out, left, right)
		}
	}

	filtered := out[:0]
	for _, r := range out {
		if r.Start <= r.End {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Overlaps reports whether any two ranges of rs overlap or touch. It is the
// negation of the normalized no-overlap invariant and assumes rs is sorted.
func Overlaps(rs []Range) bool {
	for i := 1; i < len(rs); i++ {
		if rs[i].Start <= rs[i-1].End+1 {
			return true
		}
	}
	return false
}

// Covers reports whether index i lies in any range of rs.
func Covers(rs []Range, i int) bool {
	for _, r := range rs {
		if r.Contains(i) {
			return true
		}
	}
	return false
}
