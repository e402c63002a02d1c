package review

import (
	"errors"
	"fmt"
	"io"

	"github.com/crystaldolphin/memshard/internal/batch"
)

// PrintReport writes the outcome of a batch. err is the error Run returned.
func PrintReport(w io.Writer, rep batch.Report, err error) {
	var inst *batch.InstabilityError
	switch {
	case errors.As(err, &inst):
		errorColor.Fprintf(w, "batch aborted: the chat changed while it ran (version %d, expected %d)\n",
			inst.ActualVersion, inst.ExpectedVersion)
	case errors.Is(err, batch.ErrCancelled):
		warnColor.Fprintln(w, "batch cancelled")
	case err != nil:
		errorColor.Fprintf(w, "batch failed: %v\n", err)
	case rep.Stopped:
		warnColor.Fprintln(w, "batch stopped after a failure")
	}

	fmt.Fprintf(w, "%d/%d summarized", rep.Completed, rep.Total)
	if rep.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", rep.Skipped)
	}
	if rep.Failed > 0 {
		errorColor.Fprintf(w, ", %d failed", rep.Failed)
	}
	if len(rep.Insertions) > 0 {
		fmt.Fprintf(w, ", shards at %v", rep.Insertions)
	}
	fmt.Fprintln(w)
	for _, f := range rep.Failures {
		errorColor.Fprintf(w, "  %s\n", f.Error())
	}
}
