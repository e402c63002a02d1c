package schema

import (
	"context"
	"errors"
)

// ErrCancelled is returned by collaborators that were interrupted by a
// user-requested stop. Callers also treat context.Canceled the same way.
var ErrCancelled = errors.New("generation cancelled")

// DiagnosticLevel is the severity of a generator diagnostic.
type DiagnosticLevel string

const (
	LevelError   DiagnosticLevel = "error"
	LevelWarning DiagnosticLevel = "warning"
	LevelInfo    DiagnosticLevel = "info"
)

// Diagnostic is one finding the generator reports about its own output.
type Diagnostic struct {
	Level   DiagnosticLevel
	Message string
}

// Section is one titled part of a structured memory shard.
type Section struct {
	Title string
	Body  string
}

// GenerateContext describes where the content being summarised came from.
type GenerateContext struct {
	StartIndex      int
	EndIndex        int
	ExtractKeywords bool
	ExistingShards  []string
}

// GenerateResult is the structured shard produced for one range.
type GenerateResult struct {
	ReconstructedText string
	Sections          []Section
	Diagnostics       []Diagnostic
	Keywords          []string
}

// Has reports whether any diagnostic has the given level.
func (r GenerateResult) Has(level DiagnosticLevel) bool {
	for _, d := range r.Diagnostics {
		if d.Level == level {
			return true
		}
	}
	return false
}

// Generator turns the transcript of one range into a memory shard.
type Generator interface {
	Generate(ctx context.Context, content string, gctx GenerateContext) (GenerateResult, error)
}

// ReviewDecision is the outcome of an interactive review. Confirmed=false
// means the user declined the shard; that is not an error.
type ReviewDecision struct {
	Confirmed   bool
	FinalOutput string
	Keywords    []string
}

// Reviewer lets a user approve or edit a generated shard before it is saved.
type Reviewer interface {
	Review(ctx context.Context, res GenerateResult) (ReviewDecision, error)
}

// SaveRequest is a shard ready to persist for the range [Start, End].
type SaveRequest struct {
	Start    int
	End      int
	Content  string
	Keywords []string
	Result   GenerateResult
}

// SaveResult reports what a save did to the host sequence. When Inserted is
// true, exactly one element was inserted at InsertionIndex. RangesShifted
// means the saver already shifted the range store for that insertion.
type SaveResult struct {
	InjectedToContext bool
	Mode              string // "system" | "archive"
	Inserted          bool
	InsertionIndex    int
	RangesShifted     bool
	OutputID          string
}

// Saver persists a shard and may insert a new element into the host.
type Saver interface {
	Save(ctx context.Context, req SaveRequest) (SaveResult, error)
}
