package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/keeper"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/session"
	"github.com/crystaldolphin/memshard/internal/shard"
	"github.com/crystaldolphin/memshard/internal/visibility"
)

// blockingGen blocks every call until release is closed.
type blockingGen struct {
	release chan struct{}
	calls   atomic.Int32
}

func (g *blockingGen) Generate(ctx context.Context, content string, gctx schema.GenerateContext) (schema.GenerateResult, error) {
	g.calls.Add(1)
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return schema.GenerateResult{}, ctx.Err()
		}
	}
	return shard.Parse(fmt.Sprintf("## Events\nmessages %d-%d", gctx.StartIndex, gctx.EndIndex), false), nil
}

type fakeChats struct {
	k        *keeper.Keeper
	sess     *session.Session
	gen      schema.Generator
	opened   atomic.Int32
	mu       sync.Mutex
	persists int
}

func (c *fakeChats) Keeper(string) (*keeper.Keeper, error) {
	c.opened.Add(1)
	return c.k, nil
}

func (c *fakeChats) BatchOptions(key string) (batch.Options, error) {
	return batch.Options{
		Generator: c.gen,
		Saver:     shard.NewSaver(key, c.sess, c.k.Store(), nil, true),
	}, nil
}

func (c *fakeChats) Persist(string) error {
	c.mu.Lock()
	c.persists++
	c.mu.Unlock()
	return nil
}

func newChats(t *testing.T, n int, gen schema.Generator) *fakeChats {
	t.Helper()
	s := session.New("test:sched")
	for i := 0; i < n; i++ {
		s.Append("user", "Alice", fmt.Sprintf("m%d", i))
	}
	k := keeper.New(s.Key, s, ranges.NewStore(&ranges.MemoryPersistence{}), nil, visibility.Settings{HideByDefault: true})
	t.Cleanup(k.Close)
	return &fakeChats{k: k, sess: s, gen: gen}
}

func msgs(n int, shards ...int) []schema.Message {
	out := make([]schema.Message, n)
	for i := range out {
		out[i] = schema.Message{Role: "user"}
	}
	for _, i := range shards {
		out[i] = schema.Message{Role: "system", Name: shard.MessageName}
	}
	return out
}

func TestPlan(t *testing.T) {
	yes, no := true, false
	cases := []struct {
		name  string
		msgs  []schema.Message
		rs    []ranges.Range
		keep  int
		chunk int
		want  []batch.Span
	}{
		{"empty", nil, nil, 2, 4, nil},
		{"tail only yields full chunks", msgs(11), nil, 2, 4, []batch.Span{{Start: 0, End: 3}, {Start: 4, End: 7}}},
		{"keep covers everything", msgs(3), nil, 5, 4, nil},
		{"hidden and shard split runs", msgs(14, 4),
			[]ranges.Range{{Start: 0, End: 3}}, 2, 4, []batch.Span{{Start: 5, End: 8}}},
		{"gap between shards is flushed", msgs(12, 3, 7),
			[]ranges.Range{{Start: 0, End: 2}, {Start: 8, End: 9}}, 0, 4, []batch.Span{{Start: 4, End: 6}}},
		{"visible range does not count", msgs(8),
			[]ranges.Range{{Start: 0, End: 3, Hidden: &no}}, 0, 4, []batch.Span{{Start: 0, End: 3}, {Start: 4, End: 7}}},
		{"explicit hidden", msgs(8),
			[]ranges.Range{{Start: 0, End: 3, Hidden: &yes}}, 0, 4, []batch.Span{{Start: 4, End: 7}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(tc.msgs, tc.rs, true, tc.keep, tc.chunk)
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("Plan = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlan_DefaultHiddenOff(t *testing.T) {
	got := Plan(msgs(4), []ranges.Range{{Start: 0, End: 3}}, false, 0, 4)
	if len(got) != 1 || got[0] != (batch.Span{Start: 0, End: 3}) {
		t.Fatalf("unexpected plan %v", got)
	}

	yes := true
	got = Plan(msgs(4), []ranges.Range{{Start: 0, End: 3, Hidden: &yes}}, false, 0, 4)
	if len(got) != 0 {
		t.Fatalf("explicitly hidden range planned: %v", got)
	}
}

func TestNew_RejectsBadExpr(t *testing.T) {
	if _, err := New(Config{Expr: "not a schedule"}, nil); err == nil {
		t.Fatal("expected parse error")
	}
	s, err := New(Config{Expr: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.cfg.ChunkSize != DefaultChunkSize {
		t.Errorf("expected default chunk size, got %d", s.cfg.ChunkSize)
	}
}

func TestRunOnce_SummarizesThenSettles(t *testing.T) {
	chats := newChats(t, 10, &blockingGen{})
	s, err := New(Config{Expr: "@every 1h", Sessions: []string{"test:sched"}, ChunkSize: 4, KeepRecent: 2}, chats)
	if err != nil {
		t.Fatal(err)
	}

	rep, err := s.RunOnce(context.Background(), "test:sched")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Completed != 2 {
		t.Fatalf("expected 2 completed, got %+v", rep)
	}
	if chats.sess.Len() != 12 {
		t.Fatalf("expected 12 messages, got %d", chats.sess.Len())
	}
	if chats.persists != 1 {
		t.Errorf("expected 1 persist, got %d", chats.persists)
	}

	rep, err = s.RunOnce(context.Background(), "test:sched")
	if err != nil || rep.Total != 0 {
		t.Fatalf("second run should be empty: %+v %v", rep, err)
	}
}

func TestTrigger_QueuesOneRerun(t *testing.T) {
	gen := &blockingGen{release: make(chan struct{})}
	chats := newChats(t, 10, gen)
	s, err := New(Config{Expr: "@every 1h", ChunkSize: 4, KeepRecent: 2}, chats)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.Trigger(ctx, "test:sched")
	if got := s.State("test:sched"); got != "running" {
		t.Fatalf("expected running, got %s", got)
	}
	s.Trigger(ctx, "test:sched")
	s.Trigger(ctx, "test:sched")
	if got := s.State("test:sched"); got != "queued" {
		t.Fatalf("expected queued, got %s", got)
	}

	close(gen.release)
	s.Wait()

	if got := chats.opened.Load(); got != 2 {
		t.Errorf("expected 2 runs, got %d", got)
	}
	if got := s.State("test:sched"); got != "idle" {
		t.Errorf("expected idle, got %s", got)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	chats := newChats(t, 2, &blockingGen{})
	s, err := New(Config{Expr: "@every 1h", Sessions: []string{"test:sched"}}, chats)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
