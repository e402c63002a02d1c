package cmdutils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
)

func TestPrintMessages(t *testing.T) {
	var buf bytes.Buffer
	PrintMessages(&buf, []schema.Message{
		{Role: "user", Name: "Alice", Content: "hello\nthere"},
		{Role: "assistant", Content: "hi", IsSystem: true},
	}, 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "4") || !strings.Contains(lines[0], "user/Alice") || !strings.Contains(lines[0], "hello there") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], " h ") {
		t.Errorf("expected hidden mark in %q", lines[1])
	}
}

func TestPrintRanges(t *testing.T) {
	var buf bytes.Buffer
	PrintRanges(&buf, nil)
	if strings.TrimSpace(buf.String()) != "no ranges" {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	PrintRanges(&buf, []ranges.Range{{Start: 2, End: 5, Hidden: ranges.Bool(false), IgnoreCollapse: true}})
	if !strings.Contains(buf.String(), "2-5") || !strings.Contains(buf.String(), "false") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
