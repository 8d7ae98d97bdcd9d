package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skripsaha/boxkernel/internal/deck"
	"github.com/skripsaha/boxkernel/internal/ring"
	"github.com/skripsaha/boxkernel/internal/wire"
)

type fakePublisher struct {
	got []wire.Response
}

func (f *fakePublisher) Publish(r wire.Response) bool {
	f.got = append(f.got, r)
	return true
}

func fixedClock(t uint64) func() uint64 { return func() uint64 { return t } }

func newTestDeck(pub *fakePublisher, prefix wire.DeckPrefix, fifoDepth uint64, fn deck.ProcessFunc) *deck.Deck {
	return deck.New("test-"+string(rune(prefix)), prefix, fifoDepth, fn, pub, fixedClock(1), nil)
}

func TestRouter_RoutesToRegisteredDeck(t *testing.T) {
	events := ring.New[wire.Event](8)
	pub := &fakePublisher{}

	var handled []uint64
	d := newTestDeck(pub, wire.PrefixStorage, 8, func(ctx *deck.Context, entry *deck.RoutingEntry) {
		handled = append(handled, entry.Event.ID)
		ctx.Complete(nil, 0)
	})

	r := New(events, pub, 3, fixedClock(1), nil)
	r.RegisterDeck(d)

	events.TryPush(wire.Event{ID: 1, Type: wire.EventMemoryAlloc})
	n := r.StepOnce(10)
	require.Equal(t, 1, n)

	d.RunOnce(10)
	require.Equal(t, []uint64{1}, handled)
}

func TestRouter_UnknownPrefixFails(t *testing.T) {
	events := ring.New[wire.Event](8)
	pub := &fakePublisher{}
	r := New(events, pub, 3, fixedClock(1), nil)

	events.TryPush(wire.Event{ID: 2, Type: wire.NewEventType(0x09, 1)})
	r.StepOnce(10)

	require.Len(t, pub.got, 1)
	require.Equal(t, wire.StatusFailure, pub.got[0].Status)
	require.Equal(t, ResultUnknownType, pub.got[0].ResultCode)
}

func TestRouter_InvalidPayloadFails(t *testing.T) {
	events := ring.New[wire.Event](8)
	pub := &fakePublisher{}
	r := New(events, pub, 3, fixedClock(1), nil)

	ev := wire.Event{ID: 3, Type: wire.EventMemoryAlloc, DataLen: wire.EventDataLen + 1}
	events.TryPush(ev)
	r.StepOnce(10)

	require.Equal(t, ResultInvalidPayload, pub.got[0].ResultCode)
}

func TestRouter_ExpiredDeadlineTimesOut(t *testing.T) {
	events := ring.New[wire.Event](8)
	pub := &fakePublisher{}
	r := New(events, pub, 3, fixedClock(1000), nil)

	ev := wire.Event{ID: 4, Type: wire.EventMemoryAlloc, Flags: wire.FlagHasDeadline, Timestamp: 10}
	events.TryPush(ev)
	r.StepOnce(10)

	require.Equal(t, ResultTimeout, pub.got[0].ResultCode)
}

func TestRouter_RetriesThenOverloads(t *testing.T) {
	events := ring.New[wire.Event](8)
	pub := &fakePublisher{}
	// FIFO depth 2, but never drained: third event should exhaust retries.
	d := newTestDeck(pub, wire.PrefixStorage, 2, func(ctx *deck.Context, entry *deck.RoutingEntry) {
		ctx.Complete(nil, 0)
	})

	r := New(events, pub, 2, fixedClock(1), nil)
	r.RegisterDeck(d)

	// Fill the deck's FIFO directly so routing always finds it full.
	d.Enqueue(deck.RoutingEntry{Event: wire.Event{ID: 100}})
	d.Enqueue(deck.RoutingEntry{Event: wire.Event{ID: 101}})

	events.TryPush(wire.Event{ID: 5, Type: wire.EventMemoryAlloc})

	// A requeued event goes back to the front of the event ring, so the
	// first StepOnce(10) pops it again within the same batch: attempts
	// 0 -> 1 and 1 -> 2 each requeue it and publish InProgress, and
	// attempt 2 == maxRetries fails it as overloaded. The later calls
	// find the event ring empty.
	r.StepOnce(10)
	r.StepOnce(10)
	r.StepOnce(10)

	require.Len(t, pub.got, 3)
	require.Equal(t, wire.StatusInProgress, pub.got[0].Status)
	require.Equal(t, ResultBackpressure, pub.got[0].ResultCode)
	require.Equal(t, wire.StatusInProgress, pub.got[1].Status)
	require.Equal(t, ResultBackpressure, pub.got[1].ResultCode)
	require.Equal(t, wire.StatusFailure, pub.got[2].Status)
	require.Equal(t, ResultOverloaded, pub.got[len(pub.got)-1].ResultCode)
}
