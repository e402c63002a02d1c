package batch

import (
	"fmt"
	"strings"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
)

// Span is a requested range [Start, End] of host indices.
type Span struct {
	Start int
	End   int
}

func (s Span) String() string { return ranges.FormatSpan(s.Start, s.End) }

// item is one queued span with anchors captured at enqueue time.
type item struct {
	index   int
	span    Span
	startID string
	endID   string
}

// capture anchors every span to the IDs currently at its bounds. Spans out
// of bounds get empty anchors and fail on resolve.
func capture(host schema.Host, spans []Span) []item {
	ids := host.IDs()
	items := make([]item, len(spans))
	for i, sp := range spans {
		it := item{index: i, span: sp}
		if sp.Start >= 0 && sp.Start <= sp.End && sp.End < len(ids) {
			it.startID = ids[sp.Start]
			it.endID = ids[sp.End]
		}
		items[i] = it
	}
	return items
}

// resolve returns the live positions of the item's anchors.
func (it item) resolve(host schema.Host) (start, end int, err error) {
	if it.startID == "" || it.endID == "" {
		return 0, 0, fmt.Errorf("%w: %s out of bounds at enqueue", ErrInvalidRange, it.span)
	}
	start = host.IndexOf(it.startID)
	end = host.IndexOf(it.endID)
	if start < 0 || end < 0 {
		return 0, 0, fmt.Errorf("%w: anchor of %s was deleted", ErrInvalidRange, it.span)
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: %s resolved to %d-%d", ErrInvalidRange, it.span, start, end)
	}
	return start, end, nil
}

// transcript renders msgs as generator input; start is the index of msgs[0].
func transcript(msgs []schema.Message, start int) string {
	var b strings.Builder
	for i, m := range msgs {
		who := m.Name
		if who == "" {
			who = m.Role
		}
		fmt.Fprintf(&b, "#%d %s: %s\n", start+i, who, strings.TrimSpace(m.Content))
	}
	return b.String()
}
