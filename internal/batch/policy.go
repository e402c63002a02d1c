package batch

import (
	"fmt"
	"strings"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// Policy decides which generated shards go through the reviewer.
type Policy string

const (
	PolicyNever    Policy = "never"
	PolicyErrors   Policy = "errors"
	PolicyWarnings Policy = "warnings"
	PolicyAlways   Policy = "always"
)

// ParsePolicy parses a policy name. The empty string means PolicyNever.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyNever, nil
	case PolicyNever, PolicyErrors, PolicyWarnings, PolicyAlways:
		return p, nil
	default:
		return "", fmt.Errorf("unknown review policy %q", s)
	}
}

// NeedsReview reports whether res must be shown to the reviewer.
func (p Policy) NeedsReview(res schema.GenerateResult) bool {
	switch p {
	case PolicyAlways:
		return true
	case PolicyWarnings:
		return res.Has(schema.LevelError) || res.Has(schema.LevelWarning)
	case PolicyErrors:
		return res.Has(schema.LevelError)
	default:
		return false
	}
}
