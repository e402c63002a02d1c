package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/crystaldolphin/memshard/internal/schema"
)

var (
	// ErrCancelled is returned when a run is stopped by the cancellation
	// signal. It is never counted as an item failure.
	ErrCancelled = errors.New("batch cancelled")

	// ErrChatChanged is returned when the host changed structurally outside
	// the run's own saves. The run is aborted.
	ErrChatChanged = errors.New("chat changed externally")

	// ErrInvalidRange is returned for an item whose anchors no longer resolve
	// or resolve to start > end.
	ErrInvalidRange = errors.New("range no longer resolves")

	// ErrBusy is returned by Run while another run is in progress.
	ErrBusy = errors.New("batch already running")
)

// InstabilityError describes a failed stability check. It unwraps to
// ErrChatChanged.
type InstabilityError struct {
	ExpectedIdentity string
	ActualIdentity   string
	ExpectedVersion  uint64
	ActualVersion    uint64
	ExpectedLength   int
	ActualLength     int
}

func (e *InstabilityError) Error() string {
	if e.ExpectedIdentity != e.ActualIdentity {
		return fmt.Sprintf("%s: identity %q, expected %q", ErrChatChanged, e.ActualIdentity, e.ExpectedIdentity)
	}
	return fmt.Sprintf("%s: version %d length %d, expected version %d length %d",
		ErrChatChanged, e.ActualVersion, e.ActualLength, e.ExpectedVersion, e.ExpectedLength)
}

func (e *InstabilityError) Unwrap() error { return ErrChatChanged }

// ItemError is a recoverable failure of one item. Span is the range as it
// was originally requested.
type ItemError struct {
	Index int
	Span  Span
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Span, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// isCancel reports whether err stems from a cancellation.
func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, schema.ErrCancelled) ||
		errors.Is(err, ErrCancelled)
}

// isFatal reports whether err must abort the whole run.
func isFatal(err error) bool {
	return isCancel(err) || errors.Is(err, ErrChatChanged)
}

func cancelled(err error) error {
	if errors.Is(err, ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
