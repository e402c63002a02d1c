package ranges

// ShiftOnInsert moves ranges to account for count elements inserted at
// index at. Bounds at or after the insertion point move by count, so a range
// that contains the insertion point grows. It reports whether anything moved.
func ShiftOnInsert(rs []Range, at, count int) ([]Range, bool) {
	out := Clone(rs)
	if count <= 0 {
		return out, false
	}
	changed := false
	for i := range out {
		if out[i].Start >= at {
			out[i].Start += count
			changed = true
		}
		if out[i].End >= at {
			out[i].End += count
			changed = true
		}
	}
	return out, changed
}

// ShiftOnDelete removes the window [delStart, delEnd] from the index space
// and moves ranges to match. length is the sequence length after the
// deletion. Results that are empty or out of bounds are dropped and the
// survivors re-merged.
//
// Cases, for a range r and n = delEnd-delStart+1:
//
//	r before the window        unchanged
//	r after the window         both bounds move down by n
//	r inside the window        dropped
//	window covers r's head     Start = delStart, End -= n
//	window covers r's tail     End = delStart-1
//	window inside r            End -= n
func ShiftOnDelete(rs []Range, delStart, delEnd, length int) ([]Range, bool) {
	if delEnd < delStart {
		return Clone(rs), false
	}
	n := delEnd - delStart + 1
	changed := false
	shifted := make([]Range, 0, len(rs))
	for _, r := range rs {
		c := r.clone()
		switch {
		case r.End < delStart:
		case r.Start > delEnd:
			c.Start -= n
			c.End -= n
			changed = true
		case r.Start >= delStart && r.End <= delEnd:
			changed = true
			continue
		case r.Start >= delStart:
			c.Start = delStart
			c.End -= n
			changed = true
		case r.End <= delEnd:
			c.End = delStart - 1
			changed = true
		default:
			c.End -= n
			changed = true
		}
		if c.Start > c.End || c.Start < 0 || c.Start >= length {
			changed = true
			continue
		}
		shifted = append(shifted, c)
	}
	return Normalize(shifted, length), changed
}
