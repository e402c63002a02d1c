package batch

import (
	"context"
	"sync/atomic"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// outcome is what the producer hands to the consumer for one item. A
// non-nil err is a recoverable item failure.
type outcome struct {
	it    item
	start int
	end   int
	res   schema.GenerateResult
	err   error
}

// pending is the bounded holding area between producer and consumer.
//
// The producer reserves a slot before generating, so at most size results are
// generated ahead of the consumer. Take frees the slot.
type pending struct {
	slots   chan struct{}
	results chan outcome
	peak    atomic.Int64
}

func newPending(size int) *pending {
	if size < 1 {
		size = 1
	}
	return &pending{
		slots:   make(chan struct{}, size),
		results: make(chan outcome, size),
	}
}

// Reserve blocks until a slot is free or ctx is done.
func (p *pending) Reserve(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a reserved slot that was not filled.
func (p *pending) Release() { <-p.slots }

// Put stores an outcome in a reserved slot. It never blocks.
func (p *pending) Put(oc outcome) {
	p.results <- oc
	n := int64(len(p.results))
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Take returns the next outcome in production order. ok is false once the
// producer has closed the queue and everything was taken.
func (p *pending) Take(ctx context.Context) (oc outcome, ok bool, err error) {
	select {
	case oc, ok = <-p.results:
		if ok {
			<-p.slots
		}
		return oc, ok, nil
	case <-ctx.Done():
		return outcome{}, false, ctx.Err()
	}
}

// Close signals that the producer is done.
func (p *pending) Close() { close(p.results) }

// Len is the number of results held.
func (p *pending) Len() int { return len(p.results) }

// Peak is the largest number of results held at once.
func (p *pending) Peak() int { return int(p.peak.Load()) }
