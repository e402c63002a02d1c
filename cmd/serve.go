package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled summarization and the websocket render feed",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Feed listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, err := openContainer()
	if err != nil {
		return err
	}
	defer c.Close()
	cfg := c.Config()

	if cmd.Flags().Changed("addr") {
		cfg.Feed.Enabled = true
		cfg.Feed.Addr = serveAddr
	}
	sched := c.Scheduler()
	if sched == nil && !cfg.Feed.Enabled {
		return errors.New("nothing to serve: enable schedule or feed in the config")
	}

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if sched != nil {
		for _, key := range cfg.Schedule.Sessions {
			if _, err := c.Chats().Keeper(key); err != nil {
				return err
			}
		}
		g.Go(func() error { return sched.Start(gctx) })
		fmt.Printf("✓ Schedule %q for %d session(s)\n", cfg.Schedule.Expr, len(cfg.Schedule.Sessions))
	}

	if cfg.Feed.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/feed/", c.Chats().FeedHandler())
		srv := &http.Server{Addr: cfg.Feed.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("feed server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		fmt.Printf("✓ Feed at ws://%s/feed/<chat>\n", cfg.Feed.Addr)
	}

	fmt.Printf("%s memshard running. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		return err
	}
	for _, key := range c.Chats().Keys() {
		if err := c.Chats().Persist(key); err != nil {
			slog.Warn("serve: persist failed", "chat", key, "err", err)
		}
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
