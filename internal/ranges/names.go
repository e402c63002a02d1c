package ranges

import "strings"

// ParseNames splits a comma-delimited name list. Entries are trimmed, empty
// entries dropped and duplicates removed case-insensitively.
func ParseNames(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	return MergeNames(nil, strings.Split(csv, ","))
}

// MergeNames returns the case-insensitive union of a and b, keeping the
// first spelling seen. The result is nil when both are empty.
func MergeNames(a, b []string) []string {
	var out []string
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			k := strings.ToLower(n)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, n)
		}
	}
	return out
}

// NameSet is a case-insensitive set of speaker names.
type NameSet map[string]struct{}

// NewNameSet builds a set from any number of name lists.
func NewNameSet(lists ...[]string) NameSet {
	s := NameSet{}
	for _, l := range lists {
		for _, n := range l {
			if n = strings.TrimSpace(n); n != "" {
				s[strings.ToLower(n)] = struct{}{}
			}
		}
	}
	return s
}

// Has reports whether name is in the set, ignoring case and surrounding space.
func (s NameSet) Has(name string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
