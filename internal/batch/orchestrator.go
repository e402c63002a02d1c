// Package batch runs multi-range summarization batches against a live host
// sequence.
//
// Items are processed strictly in the order they were requested. Each item
// captures the IDs of the messages at its bounds when the batch starts and
// resolves them to positions only when it is processed, so insertions made
// by earlier items never misplace later ones.
//
// Before every generation and every save the run checks that the host is
// still the chat it started on and that its version and length match what
// the run's own insertions account for. Any other structural change aborts
// the run with ErrChatChanged.
//
// With a review policy other than PolicyNever, generation runs ahead of
// review in a producer goroutine, bounded by MaxPendingResults.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/guard"
	"github.com/crystaldolphin/memshard/internal/tracker"
	"github.com/crystaldolphin/memshard/internal/visibility"
)

// State is the lifecycle state of an Orchestrator.
type State int32

const (
	StateIdle State = iota
	StateProducing
	StateConsuming
	StateStopped
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProducing:
		return "producing"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Decision is the answer to an item failure.
type Decision int

const (
	Continue Decision = iota
	Stop
)

// Decider is asked what to do after a recoverable item failure.
type Decider interface {
	Decide(ctx context.Context, failure *ItemError) Decision
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, failure *ItemError) Decision

func (f DeciderFunc) Decide(ctx context.Context, failure *ItemError) Decision {
	return f(ctx, failure)
}

// DefaultMaxPendingResults is used when Options.MaxPendingResults is unset.
const DefaultMaxPendingResults = 2

// Options configures one run.
type Options struct {
	Generator schema.Generator
	Saver     schema.Saver
	// Reviewer is required unless Policy is PolicyNever.
	Reviewer          schema.Reviewer
	Policy            Policy
	MaxPendingResults int
	ExtractKeywords   bool
	ExistingShards    []string
	// Decider handles item failures. Nil continues after every failure.
	Decider Decider
	// Progress is called after each item with the number handled so far.
	Progress func(done, total int)
}

// Report summarizes a run.
type Report struct {
	RunID     string
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Failures  []*ItemError
	// Insertions are the positions of inserted elements in final coordinates.
	Insertions []int
	// InsertedIDs are the host IDs of the inserted elements.
	InsertedIDs []string
	Stopped     bool
	PeakPending int
	Passes      int
}

// addInsertion records an insertion at pos and moves earlier recorded
// insertions at or after pos.
func (r *Report) addInsertion(pos int, id string) {
	for i, p := range r.Insertions {
		if p >= pos {
			r.Insertions[i] = p + 1
		}
	}
	r.Insertions = append(r.Insertions, pos)
	if id != "" {
		r.InsertedIDs = append(r.InsertedIDs, id)
	}
}

// Deps are the collaborators an Orchestrator mutates. Host and Store are
// required.
type Deps struct {
	Host      schema.Host
	Store     *ranges.Store
	Tracker   *tracker.Tracker
	Projector *visibility.Projector
	Render    schema.RenderLayer
	Guard     *guard.Guard
}

// Orchestrator runs batches for one host, one at a time.
type Orchestrator struct {
	host      schema.Host
	store     *ranges.Store
	tracker   *tracker.Tracker
	projector *visibility.Projector
	render    schema.RenderLayer
	guard     *guard.Guard

	state atomic.Int32

	mu      sync.Mutex
	running bool
	last    *Report
}

// New returns an idle Orchestrator.
func New(d Deps) *Orchestrator {
	g := d.Guard
	if g == nil {
		g = &guard.Guard{}
	}
	return &Orchestrator{
		host:      d.Host,
		store:     d.Store,
		tracker:   d.Tracker,
		projector: d.Projector,
		render:    d.Render,
		guard:     g,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Last returns the report of the most recent run, or nil.
func (o *Orchestrator) Last() *Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Reset returns a finished Orchestrator to idle and drops the last report.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrBusy
	}
	o.last = nil
	o.setState(StateIdle)
	return nil
}

func (o *Orchestrator) setState(s State) { o.state.Store(int32(s)) }

// Run processes spans in order. The returned error is nil when the run
// completed or was stopped by the Decider; item failures are in the report.
// Cancellation returns ErrCancelled and a failed stability check returns an
// *InstabilityError; the report then covers the items handled so far.
func (o *Orchestrator) Run(ctx context.Context, spans []Span, opts Options) (Report, error) {
	if opts.Generator == nil || opts.Saver == nil {
		return Report{}, errors.New("batch: generator and saver are required")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyNever
	}
	if opts.Policy != PolicyNever && opts.Reviewer == nil {
		return Report{}, fmt.Errorf("batch: review policy %q requires a reviewer", opts.Policy)
	}
	if opts.MaxPendingResults <= 0 {
		opts.MaxPendingResults = DefaultMaxPendingResults
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return Report{}, ErrBusy
	}
	o.running = true
	o.mu.Unlock()

	rep := &Report{RunID: uuid.NewString(), Total: len(spans)}
	defer func() {
		o.mu.Lock()
		o.running = false
		o.last = rep
		o.mu.Unlock()
	}()

	items := capture(o.host, spans)
	r := newRun(o.host)

	slog.Info("batch: start", "run", rep.RunID, "items", len(items), "policy", string(opts.Policy),
		"max_pending", opts.MaxPendingResults)

	var err error
	if opts.Policy == PolicyNever {
		err = o.runSequential(ctx, r, items, opts, rep)
	} else {
		err = o.runReviewed(ctx, r, items, opts, rep)
	}

	o.finish(rep)

	if err != nil || rep.Stopped {
		o.setState(StateStopped)
	} else {
		o.setState(StateCompleted)
	}

	if err != nil {
		slog.Warn("batch: aborted", "run", rep.RunID, "err", err, "completed", rep.Completed)
		return *rep, err
	}
	slog.Info("batch: done", "run", rep.RunID, "completed", rep.Completed, "skipped", rep.Skipped,
		"failed", rep.Failed, "stopped", rep.Stopped, "insertions", len(rep.Insertions))
	return *rep, nil
}

// runSequential generates and saves one item after another.
func (o *Orchestrator) runSequential(ctx context.Context, r *run, items []item, opts Options, rep *Report) error {
	for i, it := range items {
		o.setState(StateProducing)
		oc, err := o.generate(ctx, r, it, opts)
		if err != nil {
			return err
		}

		o.setState(StateConsuming)
		stop, err := o.handle(ctx, r, oc, opts, rep)
		if err != nil {
			return err
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(items))
		}
		if stop {
			return nil
		}
	}
	return nil
}

// runReviewed runs the producer in its own goroutine and consumes in order.
// It always waits for the producer before returning.
func (o *Orchestrator) runReviewed(ctx context.Context, r *run, items []item, opts Options, rep *Report) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(cctx)
	q := newPending(opts.MaxPendingResults)

	o.setState(StateProducing)
	g.Go(func() error {
		defer q.Close()
		for _, it := range items {
			if err := q.Reserve(gctx); err != nil {
				return cancelled(err)
			}
			oc, err := o.generate(gctx, r, it, opts)
			if err != nil {
				q.Release()
				return err
			}
			q.Put(oc)
		}
		return nil
	})

	cerr := o.consume(gctx, r, q, len(items), opts, rep)
	cancel()
	perr := g.Wait()
	rep.PeakPending = q.Peak()

	switch {
	case cerr != nil && !isCancel(cerr):
		return cerr
	case perr != nil && !isCancel(perr):
		return perr
	case ctx.Err() != nil:
		return cancelled(ctx.Err())
	case cerr != nil:
		return cancelled(cerr)
	case perr != nil && !rep.Stopped:
		return cancelled(perr)
	}
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, r *run, q *pending, total int, opts Options, rep *Report) error {
	done := 0
	for {
		oc, ok, err := q.Take(ctx)
		if err != nil {
			return cancelled(err)
		}
		if !ok {
			return nil
		}

		o.setState(StateConsuming)
		stop, err := o.handle(ctx, r, oc, opts, rep)
		if err != nil {
			return err
		}
		done++
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
		if stop {
			return nil
		}
	}
}

// generate resolves, checks and generates one item. Item failures are
// carried in the outcome; the returned error is always fatal.
func (o *Orchestrator) generate(ctx context.Context, r *run, it item, opts Options) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcome{}, cancelled(err)
	}

	if err := r.check(o.host); err != nil {
		return outcome{}, err
	}
	start, end, err := it.resolve(o.host)
	if err != nil {
		return outcome{it: it, err: err}, nil
	}

	msgs := o.host.Messages(start, end)
	res, err := opts.Generator.Generate(ctx, transcript(msgs, start), schema.GenerateContext{
		StartIndex:      start,
		EndIndex:        end,
		ExtractKeywords: opts.ExtractKeywords,
		ExistingShards:  opts.ExistingShards,
	})
	if err != nil {
		if isCancel(err) || ctx.Err() != nil {
			return outcome{}, cancelled(err)
		}
		return outcome{it: it, start: start, end: end, err: fmt.Errorf("generate: %w", err)}, nil
	}
	return outcome{it: it, start: start, end: end, res: res}, nil
}

// handle reviews and saves one outcome. stop is true when the run must end
// without error; a non-nil error is fatal.
func (o *Orchestrator) handle(ctx context.Context, r *run, oc outcome, opts Options, rep *Report) (stop bool, err error) {
	if oc.err != nil {
		return o.fail(ctx, oc.it, oc.err, opts, rep), nil
	}

	content, keywords := oc.res.ReconstructedText, oc.res.Keywords
	if opts.Policy.NeedsReview(oc.res) {
		dec, err := opts.Reviewer.Review(ctx, oc.res)
		if err != nil {
			if isCancel(err) || ctx.Err() != nil {
				return true, cancelled(err)
			}
			return o.fail(ctx, oc.it, fmt.Errorf("review: %w", err), opts, rep), nil
		}
		if !dec.Confirmed {
			rep.Skipped++
			slog.Info("batch: item skipped", "run", rep.RunID, "item", oc.it.index, "span", oc.it.span.String())
			return false, nil
		}
		if dec.FinalOutput != "" {
			content = dec.FinalOutput
		}
		if dec.Keywords != nil {
			keywords = dec.Keywords
		}
	}

	if err := o.save(ctx, r, oc, content, keywords, opts, rep); err != nil {
		if isFatal(err) {
			return true, err
		}
		return o.fail(ctx, oc.it, err, opts, rep), nil
	}
	rep.Completed++
	return false, nil
}

// save persists one shard and folds any insertion into the range store,
// the tracker and the projection. The host checks skip while it runs.
func (o *Orchestrator) save(ctx context.Context, r *run, oc outcome, content string, keywords []string, opts Options, rep *Report) error {
	if err := r.check(o.host); err != nil {
		return err
	}
	start, end, err := oc.it.resolve(o.host)
	if err != nil {
		return err
	}

	r.begin()
	release := o.guard.Hold()
	defer release()

	sr, err := opts.Saver.Save(ctx, schema.SaveRequest{
		Start:    start,
		End:      end,
		Content:  content,
		Keywords: keywords,
		Result:   oc.res,
	})

	inserted := 0
	if sr.Inserted {
		inserted = 1
		if !sr.RangesShifted {
			if _, serr := o.store.OnInsert(sr.InsertionIndex, 1); serr != nil {
				slog.Error("batch: shift ranges failed", "run", rep.RunID, "at", sr.InsertionIndex, "err", serr)
			}
		}
		rep.addInsertion(sr.InsertionIndex, sr.OutputID)
		if o.render != nil && sr.OutputID != "" {
			o.render.InsertElement(sr.OutputID, sr.InsertionIndex)
		}
	}
	r.commit(inserted)

	if o.tracker != nil {
		o.tracker.Cache(o.host.IDs())
	}
	// Rendered ids lag behind the host until finish reconciles them.
	o.reproject(len(rep.Insertions) == 0)

	if err != nil {
		if isCancel(err) || ctx.Err() != nil {
			return cancelled(err)
		}
		return fmt.Errorf("save: %w", err)
	}
	slog.Debug("batch: saved", "run", rep.RunID, "item", oc.it.index, "start", start, "end", end,
		"inserted", sr.Inserted, "at", sr.InsertionIndex, "mode", sr.Mode)
	return nil
}

// fail records an item failure and asks the Decider whether to go on.
func (o *Orchestrator) fail(ctx context.Context, it item, err error, opts Options, rep *Report) (stop bool) {
	ie := &ItemError{Index: it.index, Span: it.span, Err: err}
	rep.Failed++
	rep.Failures = append(rep.Failures, ie)
	slog.Warn("batch: item failed", "run", rep.RunID, "item", it.index, "span", it.span.String(), "err", err)

	if opts.Decider == nil {
		return false
	}
	if opts.Decider.Decide(ctx, ie) == Stop {
		rep.Stopped = true
		return true
	}
	return false
}

// finish reconciles rendered identifiers after insertions and re-applies the
// projection so states land on the renumbered elements.
func (o *Orchestrator) finish(rep *Report) {
	if len(rep.Insertions) == 0 || o.render == nil {
		return
	}

	inserted := make(map[string]bool, len(rep.InsertedIDs))
	for _, id := range rep.InsertedIDs {
		inserted[id] = true
	}
	before := o.render.Elements()
	for i := range before {
		before[i].Inserted = inserted[before[i].Key]
	}

	after, passes := ReconcileDisplayIDs(before, rep.Insertions)
	rep.Passes = passes
	if HasDuplicateIDs(after) {
		slog.Warn("batch: duplicate display ids remain", "run", rep.RunID, "passes", passes)
	}

	release := o.guard.Hold()
	for i := range after {
		if after[i].DisplayID != before[i].DisplayID {
			o.render.SetDisplayID(after[i].Key, after[i].DisplayID)
		}
	}
	release()
	o.reproject(true)
}

func (o *Orchestrator) reproject(withRender bool) {
	if o.projector == nil {
		return
	}
	rs, err := o.store.Normalized(o.host.Len())
	if err != nil {
		slog.Error("batch: load ranges failed", "err", err)
		return
	}
	if withRender {
		o.projector.Apply(rs)
	} else {
		o.projector.ApplyHost(rs)
	}
}

// run is the optimistic-concurrency state of one batch.
type run struct {
	mu       sync.Mutex
	identity string
	version  uint64
	length   int
	internal bool
}

func newRun(h schema.Host) *run {
	return &run{identity: h.Identity(), version: h.Version(), length: h.Len()}
}

// check compares the host against the expected snapshot. It passes while
// the run's own save is in flight.
func (r *run) check(h schema.Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.internal {
		return nil
	}
	id, v, n := h.Identity(), h.Version(), h.Len()
	if id == r.identity && v == r.version && n == r.length {
		return nil
	}
	return &InstabilityError{
		ExpectedIdentity: r.identity,
		ActualIdentity:   id,
		ExpectedVersion:  r.version,
		ActualVersion:    v,
		ExpectedLength:   r.length,
		ActualLength:     n,
	}
}

func (r *run) begin() {
	r.mu.Lock()
	r.internal = true
	r.mu.Unlock()
}

// commit accounts for inserted elements and ends the internal mutation.
func (r *run) commit(inserted int) {
	r.mu.Lock()
	r.version += uint64(inserted)
	r.length += inserted
	r.internal = false
	r.mu.Unlock()
}
