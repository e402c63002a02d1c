package ranges

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSpan is returned by ParseSpan for malformed input.
var ErrInvalidSpan = errors.New("invalid span")

// ParseSpan parses "start-end" or a single "index" into inclusive bounds.
// Unlike the store operations it rejects bad input instead of dropping it:
// it is the entry point for user-typed spans.
func ParseSpan(s string) (start, end int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("%w: empty", ErrInvalidSpan)
	}

	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo == "" || hi == "" {
		return 0, 0, fmt.Errorf("%w: %q is missing a bound", ErrInvalidSpan, s)
	}

	start, err = strconv.Atoi(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start %q is not an integer", ErrInvalidSpan, lo)
	}
	end, err = strconv.Atoi(hi)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end %q is not an integer", ErrInvalidSpan, hi)
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: start %d is negative", ErrInvalidSpan, start)
	}
	if end < start {
		return 0, 0, fmt.Errorf("%w: end %d before start %d", ErrInvalidSpan, end, start)
	}
	return start, end, nil
}

// FormatSpan is the inverse of ParseSpan.
func FormatSpan(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}
