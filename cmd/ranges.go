package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/shared/cmdutils"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges CHAT",
	Short: "List the hidden ranges of a chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runRanges,
}

var (
	hideIgnoreCollapse bool
	hideIgnoreNames    string
	hideVisible        bool
)

var hideCmd = &cobra.Command{
	Use:   "hide CHAT SPAN",
	Short: "Hide a span of messages, e.g. 3-7 or 5",
	Args:  cobra.ExactArgs(2),
	RunE:  runHide,
}

var unhideCmd = &cobra.Command{
	Use:   "unhide CHAT SPAN",
	Short: "Remove a span from the hidden ranges",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnhide,
}

func init() {
	hideCmd.Flags().BoolVar(&hideIgnoreCollapse, "ignore-collapse", false, "Never collapse this range in the rendering layer")
	hideCmd.Flags().StringVar(&hideIgnoreNames, "ignore-names", "", "Comma-separated speaker names this range never hides")
	hideCmd.Flags().BoolVar(&hideVisible, "visible", false, "Track the range but keep it visible")
}

func runRanges(_ *cobra.Command, args []string) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	k, err := c.Chats().Keeper(args[0])
	if err != nil {
		return err
	}
	rs, err := k.Ranges()
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d messages)\n", args[0], k.Host().Len())
	cmdutils.PrintRanges(os.Stdout, rs)
	return nil
}

func runHide(cmd *cobra.Command, args []string) error {
	start, end, err := ranges.ParseSpan(args[1])
	if err != nil {
		return err
	}
	opts := ranges.Options{
		IgnoreCollapse: hideIgnoreCollapse,
		IgnoreNames:    ranges.ParseNames(hideIgnoreNames),
	}
	if cmd.Flags().Changed("visible") {
		opts.Hidden = ranges.Bool(!hideVisible)
	}
	return mutateRanges(args[0], func(apply rangeMutation) ([]ranges.Range, error) {
		return apply.Hide(start, end, opts)
	})
}

func runUnhide(_ *cobra.Command, args []string) error {
	start, end, err := ranges.ParseSpan(args[1])
	if err != nil {
		return err
	}
	return mutateRanges(args[0], func(apply rangeMutation) ([]ranges.Range, error) {
		return apply.Unhide(start, end)
	})
}

type rangeMutation interface {
	Hide(start, end int, opts ranges.Options) ([]ranges.Range, error)
	Unhide(start, end int) ([]ranges.Range, error)
}

// mutateRanges applies fn to the chat's keeper and saves the resulting
// visibility flags.
func mutateRanges(chat string, fn func(rangeMutation) ([]ranges.Range, error)) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.Sessions().Exists(chat) {
		return fmt.Errorf("no session %q", chat)
	}
	k, err := c.Chats().Keeper(chat)
	if err != nil {
		return err
	}
	rs, err := fn(k)
	if err != nil {
		return err
	}
	if err := c.Chats().Persist(chat); err != nil {
		return err
	}
	cmdutils.PrintRanges(os.Stdout, rs)
	return nil
}
