// Package scheduler summarizes configured chats on a cron schedule.
//
// Each tick plans the part of a chat that is old enough to summarize (every
// message before the keepRecent tail that no hidden range or shard already
// covers), cuts it into chunkSize spans and runs an unreviewed batch over
// them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/keeper"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shard"
)

// Per-chat run states used by Trigger.
const (
	runRunning uint8 = 1 // goroutine is summarizing
	runQueued  uint8 = 2 // goroutine is running AND another run is pending
)

// DefaultChunkSize is used when Config.ChunkSize is unset.
const DefaultChunkSize = 20

// Chats resolves chat keys for the scheduler.
type Chats interface {
	Keeper(key string) (*keeper.Keeper, error)
	// BatchOptions returns the generator and saver for key.
	BatchOptions(key string) (batch.Options, error)
	// Persist writes key back to disk after a run changed it.
	Persist(key string) error
}

// Config selects what and when to summarize.
type Config struct {
	// Expr is a 5-field cron expression or a descriptor such as "@every 1h".
	Expr       string
	Sessions   []string
	ChunkSize  int
	KeepRecent int
}

// Service runs scheduled summarization.
type Service struct {
	cfg      Config
	chats    Chats
	schedule robfigcron.Schedule
	robfig   *robfigcron.Cron

	// Per-chat run state (idle=absent, running=1, queued=2).
	state map[string]uint8
	mu    sync.Mutex
	wg    sync.WaitGroup
}

var parser = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow | robfigcron.Descriptor,
)

// New validates cfg.Expr and returns a stopped Service.
func New(cfg Config, chats Chats) (*Service, error) {
	sched, err := parser.Parse(cfg.Expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Expr, err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.KeepRecent < 0 {
		cfg.KeepRecent = 0
	}
	return &Service{
		cfg:      cfg,
		chats:    chats,
		schedule: sched,
		robfig:   robfigcron.New(),
		state:    make(map[string]uint8),
	}, nil
}

// Start arms the schedule and blocks until ctx is cancelled. Runs in flight
// are waited for before it returns.
func (s *Service) Start(ctx context.Context) error {
	s.robfig.Schedule(s.schedule, robfigcron.FuncJob(func() { s.TriggerAll(ctx) }))
	s.robfig.Start()
	slog.Info("scheduler: started", "expr", s.cfg.Expr, "sessions", len(s.cfg.Sessions))

	<-ctx.Done()

	<-s.robfig.Stop().Done()
	s.wg.Wait()
	return ctx.Err()
}

// TriggerAll triggers every configured chat.
func (s *Service) TriggerAll(ctx context.Context) {
	for _, key := range s.cfg.Sessions {
		s.Trigger(ctx, key)
	}
}

// Trigger summarizes key in the background. It keeps at most one active
// goroutine per key with one pending slot.
//
// State machine per key:
//
//	absent     → runRunning  launch goroutine
//	runRunning → runQueued   mark pending, goroutine will re-run
//	runQueued  → runQueued   already queued, nothing to do
func (s *Service) Trigger(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state[key] {
	case runRunning:
		s.state[key] = runQueued
		return
	case runQueued:
		return
	}

	s.state[key] = runRunning
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			if _, err := s.RunOnce(ctx, key); err != nil {
				slog.Error("scheduler: run failed", "chat", key, "err", err)
			}

			s.mu.Lock()
			if s.state[key] == runQueued && ctx.Err() == nil {
				s.state[key] = runRunning
				s.mu.Unlock()
				continue
			}
			delete(s.state, key)
			s.mu.Unlock()
			return
		}
	}()
}

// State returns "idle", "running" or "queued" for key.
func (s *Service) State(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state[key] {
	case runRunning:
		return "running"
	case runQueued:
		return "queued"
	default:
		return "idle"
	}
}

// Wait blocks until no run is in flight.
func (s *Service) Wait() { s.wg.Wait() }

// RunOnce plans and summarizes key synchronously. A chat with nothing to
// summarize returns an empty report.
func (s *Service) RunOnce(ctx context.Context, key string) (batch.Report, error) {
	k, err := s.chats.Keeper(key)
	if err != nil {
		return batch.Report{}, fmt.Errorf("open chat %s: %w", key, err)
	}
	rs, err := k.Ranges()
	if err != nil {
		return batch.Report{}, fmt.Errorf("load ranges: %w", err)
	}

	spans := Plan(k.Host().Messages(0, k.Host().Len()-1), rs, k.Settings().HideByDefault,
		s.cfg.KeepRecent, s.cfg.ChunkSize)
	if len(spans) == 0 {
		slog.Debug("scheduler: nothing to summarize", "chat", key)
		return batch.Report{}, nil
	}

	opts, err := s.chats.BatchOptions(key)
	if err != nil {
		return batch.Report{}, err
	}
	opts.Policy = batch.PolicyNever
	opts.Reviewer = nil

	slog.Info("scheduler: summarizing", "chat", key, "spans", len(spans))
	rep, runErr := k.Summarize(ctx, spans, opts)
	if rep.Completed > 0 {
		if err := s.chats.Persist(key); err != nil {
			slog.Warn("scheduler: persist failed", "chat", key, "err", err)
		}
	}
	return rep, runErr
}

// Plan returns the spans worth summarizing in msgs: maximal runs of messages
// before the keepRecent tail that are neither shards nor inside a hidden
// range, cut into chunk-sized spans. The last run only yields full chunks
// so the tail keeps growing until it fills one.
func Plan(msgs []schema.Message, rs []ranges.Range, hideByDefault bool, keepRecent, chunk int) []batch.Span {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	limit := len(msgs) - keepRecent

	var hidden []ranges.Range
	for _, r := range rs {
		if r.EffectiveHidden(hideByDefault) {
			hidden = append(hidden, r)
		}
	}

	var spans []batch.Span
	runStart := -1
	flush := func(end int, last bool) {
		for start := runStart; start <= end; start += chunk {
			stop := min(start+chunk-1, end)
			if last && stop-start+1 < chunk {
				break
			}
			spans = append(spans, batch.Span{Start: start, End: stop})
		}
		runStart = -1
	}

	for i := 0; i < limit; i++ {
		if shard.IsShard(msgs[i]) || ranges.Covers(hidden, i) {
			if runStart >= 0 {
				flush(i-1, false)
			}
			continue
		}
		if runStart < 0 {
			runStart = i
		}
	}
	if runStart >= 0 {
		flush(limit-1, true)
	}
	return spans
}
