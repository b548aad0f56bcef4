package service

import (
	"context"
	"sync"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
)

// snapshotBook holds the last order snapshot each flow produced. Every flow gets a ticket
// bound to its context and a generation; a ticket whose context is done, or that has been
// superseded by a newer flow, no longer writes.
type snapshotBook struct {
	mu      sync.Mutex
	entries map[string]*bookEntry
}

type bookEntry struct {
	order      *d.Order
	generation uint64
}

type ticket struct {
	ctx        context.Context
	book       *snapshotBook
	orderID    string
	generation uint64
}

func newSnapshotBook() *snapshotBook {
	return &snapshotBook{entries: make(map[string]*bookEntry)}
}

func (b *snapshotBook) begin(ctx context.Context, orderID string) *ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[orderID]
	if !ok {
		e = &bookEntry{}
		b.entries[orderID] = e
	}
	e.generation++
	return &ticket{ctx: ctx, book: b, orderID: orderID, generation: e.generation}
}

// Snapshot returns a copy of the latest order the service has shown for orderID.
func (b *snapshotBook) Snapshot(orderID string) (*d.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[orderID]
	if !ok || e.order == nil {
		return nil, false
	}
	return e.order.Clone(), true
}

// apply records o unless the flow was cancelled or superseded.
func (t *ticket) apply(o *d.Order) bool {
	if t.ctx.Err() != nil {
		return false
	}
	return t.write(o)
}

// restore puts back a known-good snapshot. It ignores cancellation so an optimistic
// snapshot is never left behind by an abandoned flow.
func (t *ticket) restore(o *d.Order) bool {
	return t.write(o)
}

func (t *ticket) write(o *d.Order) bool {
	if o == nil {
		return false
	}
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	e, ok := t.book.entries[t.orderID]
	if !ok || e.generation != t.generation {
		return false
	}
	e.order = o.Clone()
	return true
}
