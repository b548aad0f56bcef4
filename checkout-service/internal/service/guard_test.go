package service

import (
	"context"
	"testing"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInflightGuard(t *testing.T) {
	g := newInflightGuard()

	release, err := g.acquire("order-1")
	require.NoError(t, err)
	assert.True(t, g.busy("order-1"))

	_, err = g.acquire("order-1")
	assert.ErrorIs(t, err, ErrOperationInFlight)

	other, err := g.acquire("order-2")
	require.NoError(t, err)
	other()

	release()
	release()
	assert.False(t, g.busy("order-1"))

	again, err := g.acquire("order-1")
	require.NoError(t, err)
	again()
}

func TestSnapshotBook_SupersededTicketDoesNotWrite(t *testing.T) {
	b := newSnapshotBook()
	first := b.begin(context.Background(), "order-1")
	second := b.begin(context.Background(), "order-1")

	assert.True(t, second.apply(&d.Order{ID: "order-1", State: d.OrderStateLocked}))
	assert.False(t, first.apply(&d.Order{ID: "order-1", State: d.OrderStateDraft}))
	assert.False(t, first.restore(&d.Order{ID: "order-1", State: d.OrderStateDraft}))

	snap, ok := b.Snapshot("order-1")
	require.True(t, ok)
	assert.Equal(t, d.OrderStateLocked, snap.State)
}

func TestSnapshotBook_CancelledTicketOnlyRestores(t *testing.T) {
	b := newSnapshotBook()
	ctx, cancel := context.WithCancel(context.Background())
	tk := b.begin(ctx, "order-1")
	require.True(t, tk.apply(&d.Order{ID: "order-1", State: d.OrderStateDraft}))

	cancel()
	assert.False(t, tk.apply(&d.Order{ID: "order-1", State: d.OrderStatePaid}))
	assert.True(t, tk.restore(&d.Order{ID: "order-1", State: d.OrderStateLocked}))

	snap, _ := b.Snapshot("order-1")
	assert.Equal(t, d.OrderStateLocked, snap.State)
}

func TestSnapshotBook_SnapshotIsACopy(t *testing.T) {
	b := newSnapshotBook()
	tk := b.begin(context.Background(), "order-1")
	tk.apply(&d.Order{ID: "order-1", Items: []d.OrderItem{{ServiceID: "cut", Quantity: 1}}})

	snap, _ := b.Snapshot("order-1")
	snap.Items[0].Quantity = 5

	again, _ := b.Snapshot("order-1")
	assert.Equal(t, 1, again.Items[0].Quantity)

	_, ok := b.Snapshot("unknown")
	assert.False(t, ok)
}

func TestTerminalRegistry_ExpiresStaleEntries(t *testing.T) {
	tr := newTerminalRegistry()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr.put("ref-1", awaitingTerminal{orderID: "order-1", terminalID: "term-1", startedAt: start})

	assert.True(t, tr.pendingFor("order-1", start.Add(time.Minute)))
	assert.False(t, tr.pendingFor("order-2", start))

	ref, a, ok := tr.lookupOrder("order-1", start.Add(2*time.Minute))
	require.True(t, ok)
	assert.Equal(t, "ref-1", ref)
	assert.Equal(t, "term-1", a.terminalID)

	assert.False(t, tr.pendingFor("order-1", start.Add(terminalWindow+time.Second)))
	_, ok = tr.take("ref-1")
	assert.False(t, ok)
}

func TestSequencer_InFlight(t *testing.T) {
	f := newFixture(draftOrder())
	assert.False(t, f.seq.InFlight("order-1"))

	_, err := f.seq.Settle(context.Background(), terminalRequest())
	require.NoError(t, err)

	assert.True(t, f.seq.InFlight("order-1"))
}
