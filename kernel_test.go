package boxkernel

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skripsaha/boxkernel/internal/wire"
)

func smallTestConfig() KernelConfig {
	return KernelConfig{
		EventRingCapacity:    16,
		ResponseRingCapacity: 16,
		DeckFIFODepth:        8,
		RouterBatch:          8,
		DeckBatch:            8,
		MaxRouteRetries:      2,
		StorageArenaBytes:    1 << 20,
		StorageNumInodes:     8,
		StorageNumBlocks:     64,
	}
}

// step drives one manual router+deck round, bypassing Run's goroutine
// so tests stay synchronous and deterministic.
func step(k *Kernel) {
	k.router.StepOnce(k.cfg.RouterBatch)
	for _, d := range k.decks {
		d.RunOnce(k.cfg.DeckBatch)
	}
}

func TestKernel_SubmitPollMemoryAlloc(t *testing.T) {
	k := NewKernel(smallTestConfig())

	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], 4096)
	ev := wire.Event{Type: wire.EventMemoryAlloc}
	require.NoError(t, ev.SetPayload(payload[:]))

	id, err := k.Submit(ev)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	_, ok := k.Poll(id)
	require.False(t, ok, "response shouldn't exist before the loop steps")

	step(k)

	resp, ok := k.Poll(id)
	require.True(t, ok)
	require.Equal(t, wire.StatusComplete, resp.Status)
	require.Equal(t, id, resp.EventID)
}

func TestKernel_PollOutOfOrder(t *testing.T) {
	k := NewKernel(smallTestConfig())

	var p1, p2 [8]byte
	binary.LittleEndian.PutUint64(p1[:], 64)
	binary.LittleEndian.PutUint64(p2[:], 128)

	ev1 := wire.Event{Type: wire.EventMemoryAlloc}
	require.NoError(t, ev1.SetPayload(p1[:]))
	ev2 := wire.Event{Type: wire.EventMemoryAlloc}
	require.NoError(t, ev2.SetPayload(p2[:]))

	id1, err := k.Submit(ev1)
	require.NoError(t, err)
	id2, err := k.Submit(ev2)
	require.NoError(t, err)

	step(k)

	// Poll for the second event first; the first event's response must
	// be parked in the correlation buffer rather than lost.
	resp2, ok := k.Poll(id2)
	require.True(t, ok)
	require.Equal(t, id2, resp2.EventID)

	resp1, ok := k.Poll(id1)
	require.True(t, ok)
	require.Equal(t, id1, resp1.EventID)
}

func TestKernel_SubmitBackpressure(t *testing.T) {
	cfg := smallTestConfig()
	cfg.EventRingCapacity = 2
	k := NewKernel(cfg)

	ev := wire.Event{Type: wire.EventMemoryAlloc}
	_, err := k.Submit(ev)
	require.NoError(t, err)
	_, err = k.Submit(ev)
	require.NoError(t, err)

	_, err = k.Submit(ev)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrBackpressure))
}

func TestKernel_UnknownEventTypeRoutesToFailure(t *testing.T) {
	k := NewKernel(smallTestConfig())

	ev := wire.Event{Type: wire.NewEventType(wire.DeckPrefix(0x7F), 0)}
	id, err := k.Submit(ev)
	require.NoError(t, err)

	step(k)

	resp, ok := k.Poll(id)
	require.True(t, ok)
	require.Equal(t, wire.StatusFailure, resp.Status)
}

func TestKernel_RunStopsOnContextCancel(t *testing.T) {
	k := NewKernel(smallTestConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestKernel_ShutdownDrainsDecks(t *testing.T) {
	k := NewKernel(smallTestConfig())
	ctx := context.Background()
	require.NoError(t, k.Shutdown(ctx))

	stats, ok := k.DeckStats("storage")
	require.True(t, ok)
	require.Equal(t, 0, int(stats.InFlight))
}

func TestKernel_StorageAndOperationsAccessors(t *testing.T) {
	k := NewKernel(smallTestConfig())
	require.NotNil(t, k.Storage())
	require.NotNil(t, k.Operations())
}
