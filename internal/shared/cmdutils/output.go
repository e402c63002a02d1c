package cmdutils

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/stringutils"
)

// PrintMessages writes one line per message, numbered from start. Messages
// hidden from context are marked with "h".
func PrintMessages(w io.Writer, msgs []schema.Message, start int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, m := range msgs {
		flag := " "
		if m.IsSystem {
			flag = "h"
		}
		who := m.Role
		if m.Name != "" {
			who += "/" + m.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", start+i, flag, who, stringutils.Truncate(stringutils.OneLine(m.Content), 80))
	}
	tw.Flush()
}

// PrintRanges writes one line per range with its flags.
func PrintRanges(w io.Writer, rs []ranges.Range) {
	if len(rs) == 0 {
		fmt.Fprintln(w, "no ranges")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPAN\tHIDDEN\tCOLLAPSE\tIGNORE NAMES")
	for _, r := range rs {
		hidden := "default"
		if r.Hidden != nil {
			hidden = fmt.Sprint(*r.Hidden)
		}
		collapse := "yes"
		if r.IgnoreCollapse {
			collapse = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", ranges.FormatSpan(r.Start, r.End), hidden, collapse, r.IgnoreNames)
	}
	tw.Flush()
}
