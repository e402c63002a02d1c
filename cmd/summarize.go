package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/review"
)

var (
	summarizeReview   string
	summarizeNoInject bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize CHAT SPAN...",
	Short: "Summarize spans of a chat into memory shards",
	Long: "Summarize each SPAN (e.g. 0-19 20-39) into a memory shard, in order.\n" +
		"Each shard is inserted after its span and the span is hidden.",
	Args: cobra.MinimumNArgs(2),
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVarP(&summarizeReview, "review", "r", "", "Review policy: never, errors, warnings or always (default from config)")
	summarizeCmd.Flags().BoolVar(&summarizeNoInject, "no-inject", false, "Only archive shards, do not insert them into the chat")
}

func runSummarize(cmd *cobra.Command, args []string) error {
	chat := args[0]
	spans := make([]batch.Span, 0, len(args)-1)
	for _, a := range args[1:] {
		start, end, err := ranges.ParseSpan(a)
		if err != nil {
			return err
		}
		spans = append(spans, batch.Span{Start: start, End: end})
	}

	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Flags().Changed("no-inject") {
		c.Config().Memory.InjectShards = !summarizeNoInject
	}
	if !c.Sessions().Exists(chat) {
		return fmt.Errorf("no session %q", chat)
	}
	k, err := c.Chats().Keeper(chat)
	if err != nil {
		return err
	}
	opts, err := c.Chats().BatchOptions(chat)
	if err != nil {
		return err
	}
	if summarizeReview != "" {
		if opts.Policy, err = batch.ParsePolicy(summarizeReview); err != nil {
			return err
		}
	}

	term := review.NewTerminal(os.Stdin, os.Stdout)
	opts.Reviewer = term
	opts.Decider = term
	opts.Progress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "  %d/%d\n", done, total)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s summarizing %d span(s) of %s\n", logo, len(spans), chat)
	rep, runErr := k.Summarize(ctx, spans, opts)
	review.PrintReport(os.Stdout, rep, runErr)

	if rep.Completed > 0 {
		if err := c.Chats().Persist(chat); err != nil {
			return err
		}
	}
	return runErr
}
