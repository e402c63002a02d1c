// Package visibility projects a range collection onto a host sequence and
// its rendering layer.
//
// Projection runs in two phases. Compute derives the per-index state from
// the ranges without touching the host. Apply then writes that state into
// the host and the rendering layer in a single pass, holding the shared
// re-entrancy guard so change listeners ignore the writes.
package visibility

import (
	"log/slog"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/shared/guard"
)

// Settings are the chat-wide projection defaults.
type Settings struct {
	// HideByDefault is the effective hidden flag of ranges that leave it unset.
	HideByDefault bool
	// CollapseHidden collapses every hidden element not exempted by its range.
	CollapseHidden bool
	// IgnoreNames are speaker names that are never hidden.
	IgnoreNames []string
}

// State is the projected state of one index.
type State struct {
	IsSystem       bool
	Collapsed      bool
	CollapseExempt bool
}

// Compute returns the state of every message index. rs must be normalized
// against len(msgs); overlapping input would make the last range win.
func Compute(rs []ranges.Range, msgs []schema.Message, s Settings) []State {
	states := make([]State, len(msgs))

	for _, r := range rs {
		hidden := r.EffectiveHidden(s.HideByDefault)
		names := ranges.NewNameSet(s.IgnoreNames, r.IgnoreNames)
		for i := max(r.Start, 0); i <= r.End && i < len(msgs); i++ {
			if hidden {
				states[i].IsSystem = !names.Has(msgs[i].Name)
			} else {
				states[i].IsSystem = false
			}
			if r.IgnoreCollapse {
				states[i].Collapsed = false
				states[i].CollapseExempt = true
			}
		}
	}

	if s.CollapseHidden {
		for i := range states {
			if states[i].IsSystem && !states[i].CollapseExempt {
				states[i].Collapsed = true
			}
		}
	}
	return states
}

// Projector applies computed states. A nil render layer is allowed.
type Projector struct {
	host     schema.Host
	render   schema.RenderLayer
	guard    *guard.Guard
	settings Settings
}

// New returns a Projector writing to host and render under g.
func New(host schema.Host, render schema.RenderLayer, g *guard.Guard, s Settings) *Projector {
	if g == nil {
		g = &guard.Guard{}
	}
	return &Projector{host: host, render: render, guard: g, settings: s}
}

// Settings returns the projection defaults.
func (p *Projector) Settings() Settings { return p.settings }

// Apply normalizes rs against the current host length, computes the states
// and writes them out. It returns the number of host elements whose hidden
// flag changed.
func (p *Projector) Apply(rs []ranges.Range) int {
	return p.apply(rs, p.render)
}

// ApplyHost is Apply without the rendering layer. Callers use it while the
// rendered identifiers are known to be stale.
func (p *Projector) ApplyHost(rs []ranges.Range) int {
	return p.apply(rs, nil)
}

func (p *Projector) apply(rs []ranges.Range, render schema.RenderLayer) int {
	n := p.host.Len()
	msgs := p.host.Messages(0, n-1)
	states := Compute(ranges.Normalize(rs, len(msgs)), msgs, p.settings)

	release := p.guard.Hold()
	defer release()

	changed := 0
	for i, st := range states {
		if p.host.SetSystem(i, st.IsSystem) {
			changed++
		}
		if render != nil {
			// Lazily loaded layers may not hold every index.
			render.SetState(i, st.IsSystem, st.Collapsed)
		}
	}
	if render != nil {
		render.RefreshFolds()
	}

	if changed > 0 {
		slog.Debug("visibility: applied", "host", p.host.Identity(), "changed", changed, "length", len(msgs))
	}
	return changed
}
