// Package keeper keeps one chat's ranges consistent with its host sequence.
//
// A Keeper subscribes to the host's structural events. Insertions and
// deletions made by anyone other than the keeper's own collaborators shift
// the stored ranges and re-apply the projection. Events raised while the
// shared guard is held come from the projector or a running batch, which
// account for their own effects, and are skipped.
package keeper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/guard"
	"github.com/crystaldolphin/memshard/internal/tracker"
	"github.com/crystaldolphin/memshard/internal/visibility"
)

// Host is a host sequence that reports structural events.
type Host interface {
	schema.Host
	schema.Observable
}

// Keeper coordinates the range store, tracker, projector and batch
// orchestrator of one chat.
type Keeper struct {
	key       string
	host      Host
	store     *ranges.Store
	tracker   *tracker.Tracker
	projector *visibility.Projector
	orch      *batch.Orchestrator
	guard     *guard.Guard

	mu          sync.Mutex
	unsubscribe func()
}

// New builds a Keeper for host and starts listening to it. render may be nil.
func New(key string, host Host, store *ranges.Store, render schema.RenderLayer, s visibility.Settings) *Keeper {
	g := &guard.Guard{}
	tr := tracker.New()
	proj := visibility.New(host, render, g, s)

	k := &Keeper{
		key:       key,
		host:      host,
		store:     store,
		tracker:   tr,
		projector: proj,
		guard:     g,
		orch: batch.New(batch.Deps{
			Host:      host,
			Store:     store,
			Tracker:   tr,
			Projector: proj,
			Render:    render,
			Guard:     g,
		}),
	}
	tr.Cache(host.IDs())
	k.unsubscribe = host.Subscribe(k.onEvent)
	return k
}

// Key returns the chat key.
func (k *Keeper) Key() string { return k.key }

// Host returns the host sequence.
func (k *Keeper) Host() Host { return k.host }

// Store returns the range store.
func (k *Keeper) Store() *ranges.Store { return k.store }

// Settings returns the visibility settings the keeper projects with.
func (k *Keeper) Settings() visibility.Settings { return k.projector.Settings() }

// Orchestrator returns the chat's batch orchestrator.
func (k *Keeper) Orchestrator() *batch.Orchestrator { return k.orch }

func (k *Keeper) onEvent(ev schema.Event) {
	if k.guard.Held() {
		slog.Debug("keeper: skipping internal change", "chat", k.key, "kind", ev.Kind.String(), "count", ev.Count)
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var err error
	switch ev.Kind {
	case schema.EventInserted:
		_, err = k.store.OnInsert(ev.Index, ev.Count)

	case schema.EventDeleted:
		index, count := k.tracker.Deleted(k.host.IDs())
		if index == tracker.NoDeletion {
			slog.Warn("keeper: deletion not located, renormalizing", "chat", k.key)
			_, err = k.store.Normalize(k.host.Len())
			break
		}
		slog.Debug("keeper: deletion detected", "chat", k.key, "index", index, "count", count)
		_, err = k.store.OnDelete(index, index+count-1, k.host.Len())
	}
	if err != nil {
		slog.Error("keeper: update ranges failed", "chat", k.key, "err", err)
	}

	k.tracker.Cache(k.host.IDs())
	k.applyLocked()
}

// Hide adds [start, end] to the stored ranges and re-applies the projection.
func (k *Keeper) Hide(start, end int, opts ranges.Options) ([]ranges.Range, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rs, err := k.store.Hide(start, end, opts, k.host.Len())
	if err != nil {
		return nil, err
	}
	k.applyLocked()
	return rs, nil
}

// Unhide removes [start, end] from the stored ranges.
func (k *Keeper) Unhide(start, end int) ([]ranges.Range, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rs, err := k.store.Unhide(start, end, k.host.Len())
	if err != nil {
		return nil, err
	}
	k.applyLocked()
	return rs, nil
}

// Ranges returns the stored ranges normalized against the host.
func (k *Keeper) Ranges() ([]ranges.Range, error) {
	return k.store.Normalized(k.host.Len())
}

// Refresh renormalizes the stored ranges, re-caches the tracker and
// re-applies the projection. It returns the number of changed messages.
func (k *Keeper) Refresh() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.store.Normalize(k.host.Len()); err != nil {
		return 0, err
	}
	k.tracker.Cache(k.host.IDs())
	return k.applyLocked(), nil
}

// Summarize runs a batch over spans.
func (k *Keeper) Summarize(ctx context.Context, spans []batch.Span, opts batch.Options) (batch.Report, error) {
	return k.orch.Run(ctx, spans, opts)
}

// Close stops listening to the host and drops cached state.
func (k *Keeper) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.unsubscribe != nil {
		k.unsubscribe()
		k.unsubscribe = nil
	}
	k.tracker.Reset()
	_ = k.orch.Reset()
}

func (k *Keeper) applyLocked() int {
	rs, err := k.store.Ranges()
	if err != nil {
		slog.Error("keeper: load ranges failed", "chat", k.key, "err", err)
		return 0
	}
	return k.projector.Apply(rs)
}
