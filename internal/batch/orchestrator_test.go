package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/session"
	"github.com/crystaldolphin/memshard/internal/shared/guard"
	"github.com/crystaldolphin/memshard/internal/tracker"
	"github.com/crystaldolphin/memshard/internal/visibility"
)

// ---------------------------------------------------------------------------
// Fakes

type fakeGen struct {
	mu    sync.Mutex
	calls []schema.GenerateContext
	fn    func(ctx context.Context, n int, gctx schema.GenerateContext) (schema.GenerateResult, error)
}

func (g *fakeGen) Generate(ctx context.Context, content string, gctx schema.GenerateContext) (schema.GenerateResult, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, gctx)
	g.mu.Unlock()
	if g.fn != nil {
		return g.fn(ctx, n, gctx)
	}
	return schema.GenerateResult{ReconstructedText: fmt.Sprintf("shard %d", n)}, nil
}

func (g *fakeGen) Calls() []schema.GenerateContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]schema.GenerateContext(nil), g.calls...)
}

// insertingSaver inserts a shard message after the range and leaves the
// range shift to the orchestrator.
type insertingSaver struct {
	host      *session.Session
	insertFor func(call int) bool
	calls     int
	reqs      []schema.SaveRequest
	err       func(call int) error
}

func (s *insertingSaver) Save(_ context.Context, req schema.SaveRequest) (schema.SaveResult, error) {
	call := s.calls
	s.calls++
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		if err := s.err(call); err != nil {
			return schema.SaveResult{}, err
		}
	}
	if s.insertFor != nil && !s.insertFor(call) {
		return schema.SaveResult{Mode: "archive"}, nil
	}
	added, err := s.host.Insert(req.End+1, schema.Message{Role: "system", Name: "memory", Content: req.Content})
	if err != nil {
		return schema.SaveResult{}, err
	}
	return schema.SaveResult{
		InjectedToContext: true,
		Mode:              "system",
		Inserted:          true,
		InsertionIndex:    req.End + 1,
		OutputID:          added[0].ID,
	}, nil
}

type fakeReviewer struct {
	fn func(ctx context.Context, n int, res schema.GenerateResult) (schema.ReviewDecision, error)
	n  int
}

func (r *fakeReviewer) Review(ctx context.Context, res schema.GenerateResult) (schema.ReviewDecision, error) {
	n := r.n
	r.n++
	if r.fn != nil {
		return r.fn(ctx, n, res)
	}
	return schema.ReviewDecision{Confirmed: true}, nil
}

type fakeLayer struct {
	mu   sync.Mutex
	els  []schema.Element
	sets int
}

func newFakeLayer(host *session.Session) *fakeLayer {
	l := &fakeLayer{}
	for i, id := range host.IDs() {
		l.els = append(l.els, schema.Element{Key: id, DisplayID: i})
	}
	return l
}

func (l *fakeLayer) Elements() []schema.Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]schema.Element(nil), l.els...)
}

func (l *fakeLayer) SetState(id int, hidden, collapsed bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets++
	for i := range l.els {
		if l.els[i].DisplayID == id {
			l.els[i].Hidden, l.els[i].Collapsed = hidden, collapsed
			return true
		}
	}
	return false
}

func (l *fakeLayer) SetDisplayID(key string, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.els {
		if l.els[i].Key == key {
			l.els[i].DisplayID = id
		}
	}
}

func (l *fakeLayer) InsertElement(key string, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.els = append(l.els, schema.Element{Key: key, DisplayID: id, Inserted: true})
}

func (l *fakeLayer) RefreshFolds() {}

func (l *fakeLayer) setCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sets
}

func (l *fakeLayer) element(key string) schema.Element {
	for _, e := range l.Elements() {
		if e.Key == key {
			return e
		}
	}
	return schema.Element{}
}

func (l *fakeLayer) idOf(key string) int {
	for _, e := range l.Elements() {
		if e.Key == key {
			return e.DisplayID
		}
	}
	return -1
}

type fixture struct {
	host  *session.Session
	store *ranges.Store
	orch  *Orchestrator
	layer *fakeLayer
	saver *insertingSaver
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	s := session.New("test:chat")
	for i := 0; i < n; i++ {
		s.Append("user", "Alice", fmt.Sprintf("message %d", i))
	}
	st := ranges.NewStore(&ranges.MemoryPersistence{})
	layer := newFakeLayer(s)
	g := &guard.Guard{}
	proj := visibility.New(s, layer, g, visibility.Settings{HideByDefault: true})
	tr := tracker.New()
	tr.Cache(s.IDs())
	return &fixture{
		host:  s,
		store: st,
		layer: layer,
		saver: &insertingSaver{host: s},
		orch: New(Deps{
			Host: s, Store: st, Tracker: tr, Projector: proj, Render: layer, Guard: g,
		}),
	}
}

func spans(pairs ...int) []Span {
	var out []Span
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Span{Start: pairs[i], End: pairs[i+1]})
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests

func TestRun_AnchorsResolveLazily(t *testing.T) {
	f := newFixture(t, 8)
	f.saver.insertFor = func(call int) bool { return call == 0 }
	gen := &fakeGen{}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3, 4, 5), Options{
		Generator: gen, Saver: f.saver,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Completed)

	calls := gen.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 0, calls[0].StartIndex)
	assert.Equal(t, 3, calls[1].StartIndex, "item 2 moves by the insertion of item 1")
	assert.Equal(t, 4, calls[1].EndIndex)
	assert.Equal(t, 5, calls[2].StartIndex, "item 3 moves by the insertion of item 1")
	assert.Equal(t, []int{2}, rep.Insertions)
	assert.Equal(t, StateCompleted, f.orch.State())
}

func TestRun_ReviewedSavesAtLivePositions(t *testing.T) {
	f := newFixture(t, 8)
	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3, 4, 5), Options{
		Generator: &fakeGen{}, Saver: f.saver, Reviewer: &fakeReviewer{}, Policy: PolicyAlways,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Completed)

	require.Len(t, f.saver.reqs, 3)
	assert.Equal(t, 0, f.saver.reqs[0].Start)
	assert.Equal(t, 3, f.saver.reqs[1].Start)
	assert.Equal(t, 6, f.saver.reqs[2].Start)
	assert.Equal(t, []int{2, 5, 8}, rep.Insertions)
	assert.Equal(t, 11, f.host.Len())
}

func TestRun_OwnInsertionsShiftRanges(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.store.Hide(6, 8, ranges.Options{Hidden: ranges.Bool(true)}, 10)
	require.NoError(t, err)

	_, err = f.orch.Run(context.Background(), spans(0, 2), Options{Generator: &fakeGen{}, Saver: f.saver})
	require.NoError(t, err)

	rs, err := f.store.Ranges()
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, 7, rs[0].Start)
	assert.Equal(t, 9, rs[0].End)

	msgs := f.host.Snapshot()
	assert.True(t, msgs[7].IsSystem)
	assert.False(t, msgs[6].IsSystem)
}

func TestRun_ReconcilesDisplayIDs(t *testing.T) {
	f := newFixture(t, 6)
	ids := f.host.IDs()

	rep, err := f.orch.Run(context.Background(), spans(0, 1), Options{Generator: &fakeGen{}, Saver: f.saver})
	require.NoError(t, err)
	require.Len(t, rep.InsertedIDs, 1)

	assert.Equal(t, 0, f.layer.idOf(ids[0]))
	assert.Equal(t, 1, f.layer.idOf(ids[1]))
	assert.Equal(t, 2, f.layer.idOf(rep.InsertedIDs[0]))
	assert.Equal(t, 3, f.layer.idOf(ids[2]))
	assert.Equal(t, 6, f.layer.idOf(ids[5]))
	assert.False(t, HasDuplicateIDs(f.layer.Elements()))
}

func TestRun_RenderStatesWaitForReconcile(t *testing.T) {
	f := newFixture(t, 6)
	ids := f.host.IDs()
	_, err := f.store.Hide(4, 5, ranges.Options{Hidden: ranges.Bool(true)}, 6)
	require.NoError(t, err)

	midBatch := -1
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		if n == 1 {
			midBatch = f.layer.setCalls()
		}
		return schema.GenerateResult{ReconstructedText: "x"}, nil
	}}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3), Options{Generator: gen, Saver: f.saver})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, rep.Insertions)
	assert.Zero(t, midBatch, "no render writes against stale display ids")

	assert.Equal(t, 6, f.layer.idOf(ids[4]))
	assert.True(t, f.layer.element(ids[4]).Hidden)
	assert.True(t, f.layer.element(ids[5]).Hidden)
	assert.False(t, f.layer.element(ids[3]).Hidden)
	for _, id := range rep.InsertedIDs {
		assert.False(t, f.layer.element(id).Hidden)
	}
}

func TestRun_BackpressureBound(t *testing.T) {
	const maxPending = 2
	f := newFixture(t, 20)

	var generated atomic.Int32
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		generated.Add(1)
		return schema.GenerateResult{ReconstructedText: "x"}, nil
	}}

	var violations []string
	rev := &fakeReviewer{fn: func(_ context.Context, n int, _ schema.GenerateResult) (schema.ReviewDecision, error) {
		time.Sleep(2 * time.Millisecond)
		if g := int(generated.Load()); g > n+1+maxPending {
			violations = append(violations, fmt.Sprintf("review %d saw %d generated", n, g))
		}
		return schema.ReviewDecision{Confirmed: true}, nil
	}}

	f.saver.insertFor = func(int) bool { return false }
	var sp []Span
	for i := 0; i < 10; i++ {
		sp = append(sp, Span{Start: i * 2, End: i*2 + 1})
	}

	rep, err := f.orch.Run(context.Background(), sp, Options{
		Generator: gen, Saver: f.saver, Reviewer: rev, Policy: PolicyAlways, MaxPendingResults: maxPending,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Completed)
	assert.LessOrEqual(t, rep.PeakPending, maxPending)
	assert.Empty(t, violations)
}

func TestRun_CancellationDrainsProducer(t *testing.T) {
	f := newFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active atomic.Int32
	gen := &fakeGen{fn: func(ctx context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		active.Add(1)
		defer active.Add(-1)
		if n == 0 {
			return schema.GenerateResult{ReconstructedText: "first"}, nil
		}
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return schema.GenerateResult{}, ctx.Err()
	}}
	rev := &fakeReviewer{fn: func(context.Context, int, schema.GenerateResult) (schema.ReviewDecision, error) {
		cancel()
		return schema.ReviewDecision{Confirmed: true}, nil
	}}

	_, err := f.orch.Run(ctx, spans(0, 1, 2, 3, 4, 5, 6, 7), Options{
		Generator: gen, Saver: f.saver, Reviewer: rev, Policy: PolicyAlways,
	})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, active.Load(), "producer finished before Run returned")
	assert.Equal(t, StateStopped, f.orch.State())
	assert.False(t, f.orch.Running())
}

func TestRun_CancellationSequential(t *testing.T) {
	f := newFixture(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGen{fn: func(context.Context, int, schema.GenerateContext) (schema.GenerateResult, error) {
		cancel()
		return schema.GenerateResult{}, schema.ErrCancelled
	}}

	rep, err := f.orch.Run(ctx, spans(0, 1, 2, 3), Options{Generator: gen, Saver: f.saver})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, rep.Failed, "cancellation is not a failure")
}

func TestRun_ExternalChangeAborts(t *testing.T) {
	f := newFixture(t, 6)
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		if n == 0 {
			f.host.Append("user", "Bob", "concurrent edit")
		}
		return schema.GenerateResult{ReconstructedText: "x"}, nil
	}}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3), Options{Generator: gen, Saver: f.saver})
	require.ErrorIs(t, err, ErrChatChanged)

	var ie *InstabilityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ie.ExpectedLength+1, ie.ActualLength)
	assert.Zero(t, rep.Completed)
	assert.Empty(t, f.saver.reqs, "nothing saved after the change")
}

func TestRun_DeletedAnchorIsExternalChange(t *testing.T) {
	f := newFixture(t, 6)
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		if n == 1 {
			// removes the anchors of the item being generated
			require.NoError(t, f.host.Delete(3, 4))
		}
		return schema.GenerateResult{ReconstructedText: "x"}, nil
	}}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3), Options{Generator: gen, Saver: f.saver})
	require.ErrorIs(t, err, ErrChatChanged)
	assert.Equal(t, 1, rep.Completed)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, StateStopped, f.orch.State())
}

func TestRun_ExternalChangeAbortsReviewed(t *testing.T) {
	f := newFixture(t, 6)
	rev := &fakeReviewer{fn: func(_ context.Context, n int, _ schema.GenerateResult) (schema.ReviewDecision, error) {
		if n == 0 {
			require.NoError(t, f.host.Delete(5, 5))
		}
		return schema.ReviewDecision{Confirmed: true}, nil
	}}

	_, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3), Options{
		Generator: &fakeGen{}, Saver: f.saver, Reviewer: rev, Policy: PolicyAlways,
	})
	require.ErrorIs(t, err, ErrChatChanged)
}

func TestRun_FailureContinue(t *testing.T) {
	f := newFixture(t, 6)
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		if n == 1 {
			return schema.GenerateResult{}, errors.New("model overloaded")
		}
		return schema.GenerateResult{ReconstructedText: "ok"}, nil
	}}

	var asked []*ItemError
	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3, 4, 5), Options{
		Generator: gen, Saver: f.saver,
		Decider: DeciderFunc(func(_ context.Context, ie *ItemError) Decision {
			asked = append(asked, ie)
			return Continue
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Completed)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, asked, 1)
	assert.Equal(t, Span{Start: 2, End: 3}, asked[0].Span, "failure reports the requested range")
	assert.ErrorContains(t, asked[0], "model overloaded")
}

func TestRun_FailureStop(t *testing.T) {
	f := newFixture(t, 6)
	f.saver.err = func(call int) error {
		if call == 0 {
			return errors.New("disk full")
		}
		return nil
	}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3), Options{
		Generator: &fakeGen{}, Saver: f.saver, Reviewer: &fakeReviewer{}, Policy: PolicyAlways,
		Decider: DeciderFunc(func(context.Context, *ItemError) Decision { return Stop }),
	})
	require.NoError(t, err)
	assert.True(t, rep.Stopped)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Completed)
	assert.Equal(t, StateStopped, f.orch.State())
}

func TestRun_InvalidRangeIsItemFailure(t *testing.T) {
	f := newFixture(t, 4)
	rep, err := f.orch.Run(context.Background(), spans(0, 1, 3, 9), Options{Generator: &fakeGen{}, Saver: f.saver})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)
	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0], ErrInvalidRange)
}

func TestRun_ReviewPolicyAndDecline(t *testing.T) {
	f := newFixture(t, 6)
	gen := &fakeGen{fn: func(_ context.Context, n int, _ schema.GenerateContext) (schema.GenerateResult, error) {
		res := schema.GenerateResult{ReconstructedText: "draft"}
		if n == 1 {
			res.Diagnostics = []schema.Diagnostic{{Level: schema.LevelError, Message: "no sections"}}
		}
		return res, nil
	}}
	rev := &fakeReviewer{fn: func(context.Context, int, schema.GenerateResult) (schema.ReviewDecision, error) {
		return schema.ReviewDecision{Confirmed: false}, nil
	}}

	rep, err := f.orch.Run(context.Background(), spans(0, 1, 2, 3, 4, 5), Options{
		Generator: gen, Saver: f.saver, Reviewer: rev, Policy: PolicyErrors,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rev.n, "only the item with errors is reviewed")
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 2, rep.Completed)
}

func TestRun_ReviewerEditsContent(t *testing.T) {
	f := newFixture(t, 4)
	rev := &fakeReviewer{fn: func(context.Context, int, schema.GenerateResult) (schema.ReviewDecision, error) {
		return schema.ReviewDecision{Confirmed: true, FinalOutput: "edited", Keywords: []string{"k"}}, nil
	}}
	_, err := f.orch.Run(context.Background(), spans(0, 1), Options{
		Generator: &fakeGen{}, Saver: f.saver, Reviewer: rev, Policy: PolicyAlways,
	})
	require.NoError(t, err)
	require.Len(t, f.saver.reqs, 1)
	assert.Equal(t, "edited", f.saver.reqs[0].Content)
	assert.Equal(t, []string{"k"}, f.saver.reqs[0].Keywords)
}

func TestRun_Busy(t *testing.T) {
	f := newFixture(t, 4)
	started := make(chan struct{})
	unblock := make(chan struct{})
	gen := &fakeGen{fn: func(context.Context, int, schema.GenerateContext) (schema.GenerateResult, error) {
		close(started)
		<-unblock
		return schema.GenerateResult{ReconstructedText: "x"}, nil
	}}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), spans(0, 1), Options{Generator: gen, Saver: f.saver})
		done <- err
	}()

	<-started
	_, err := f.orch.Run(context.Background(), spans(2, 3), Options{Generator: gen, Saver: f.saver})
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.orch.Reset(), ErrBusy)

	close(unblock)
	require.NoError(t, <-done)
	require.NoError(t, f.orch.Reset())
	assert.Equal(t, StateIdle, f.orch.State())
	assert.Nil(t, f.orch.Last())
}

func TestRun_RequiresReviewerForReviewedPolicy(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.orch.Run(context.Background(), spans(0, 1), Options{
		Generator: &fakeGen{}, Saver: f.saver, Policy: PolicyWarnings,
	})
	assert.Error(t, err)
}
