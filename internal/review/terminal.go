// Package review implements the interactive side of a batch: a terminal
// Reviewer that approves, edits or skips generated shards, and a Decider
// that asks whether to keep going after an item fails.
package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/stringutils"
)

// editTerminator ends a multi-line edit.
const editTerminator = "."

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	errorColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	infoColor  = color.New(color.FgWhite)
	askColor   = color.New(color.FgGreen)
)

// Terminal reads answers line by line from in and writes prompts to out.
// One Terminal serves as both Reviewer and Decider for a batch.
type Terminal struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string
}

// NewTerminal returns a Terminal over in and out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// readLine returns the next input line. Reading happens on a single
// goroutine so a cancelled prompt does not lose the line it was waiting for.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.once.Do(func() {
		t.lines = make(chan string)
		go func() {
			defer close(t.lines)
			sc := bufio.NewScanner(t.in)
			for sc.Scan() {
				t.lines <- sc.Text()
			}
		}()
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", schema.ErrCancelled, ctx.Err())
	case line, ok := <-t.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// Review implements schema.Reviewer.
func (t *Terminal) Review(ctx context.Context, res schema.GenerateResult) (schema.ReviewDecision, error) {
	titleColor.Fprintln(t.out, "\n── generated shard ──")
	fmt.Fprintln(t.out, res.ReconstructedText)
	if len(res.Keywords) > 0 {
		fmt.Fprintf(t.out, "keywords: %s\n", strings.Join(res.Keywords, ", "))
	}
	for _, d := range res.Diagnostics {
		levelColor(d.Level).Fprintf(t.out, "[%s] %s\n", d.Level, d.Message)
	}

	for {
		askColor.Fprint(t.out, "[a]pprove, [e]dit, [s]kip? ")
		line, err := t.readLine(ctx)
		if err != nil {
			return schema.ReviewDecision{}, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "a", "approve", "y", "yes":
			return schema.ReviewDecision{Confirmed: true, FinalOutput: res.ReconstructedText, Keywords: res.Keywords}, nil
		case "s", "skip", "n", "no":
			return schema.ReviewDecision{}, nil
		case "e", "edit":
			text, err := t.edit(ctx)
			if err != nil {
				return schema.ReviewDecision{}, err
			}
			if text == "" {
				warnColor.Fprintln(t.out, "empty edit, shard skipped")
				return schema.ReviewDecision{}, nil
			}
			return schema.ReviewDecision{Confirmed: true, FinalOutput: text, Keywords: res.Keywords}, nil
		default:
			warnColor.Fprintf(t.out, "unknown answer %q\n", line)
		}
	}
}

func (t *Terminal) edit(ctx context.Context) (string, error) {
	fmt.Fprintf(t.out, "enter the replacement shard, end with a line containing only %q\n", editTerminator)
	var b strings.Builder
	for {
		line, err := t.readLine(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == editTerminator {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

// Decide implements batch.Decider. End of input stops the batch.
func (t *Terminal) Decide(ctx context.Context, failure *batch.ItemError) batch.Decision {
	errorColor.Fprintf(t.out, "item %d (%s) failed: %s\n", failure.Index+1, failure.Span,
		stringutils.Truncate(stringutils.OneLine(failure.Err.Error()), 200))
	for {
		askColor.Fprint(t.out, "[c]ontinue or [s]top? ")
		line, err := t.readLine(ctx)
		if err != nil {
			return batch.Stop
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "c", "continue":
			return batch.Continue
		case "s", "stop", "q":
			return batch.Stop
		}
	}
}

func levelColor(l schema.DiagnosticLevel) *color.Color {
	switch l {
	case schema.LevelError:
		return errorColor
	case schema.LevelWarning:
		return warnColor
	default:
		return infoColor
	}
}
