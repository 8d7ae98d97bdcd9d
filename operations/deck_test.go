package operations

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skripsaha/boxkernel/internal/deck"
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

func submitAndRun(t *testing.T, d *deck.Deck, pub *fakePublisher, ev wire.Event) wire.Response {
	t.Helper()
	require.True(t, d.Enqueue(deck.RoutingEntry{Event: ev}))
	d.RunOnce(10)
	require.NotEmpty(t, pub.got)
	return pub.got[len(pub.got)-1]
}

func TestOperationsDeck_CreateAssignsMonotonicPIDs(t *testing.T) {
	pub := &fakePublisher{}
	d := Deck(Config{FIFODepth: 8}, pub, fixedClock(1), nil)

	var payload [8]byte
	n, err := (wire.ProcCreatePayload{Name: "init"}).Encode(payload[:])
	require.NoError(t, err)
	ev := wire.Event{ID: 1, Type: wire.EventProcCreate, Submitter: 0}
	require.NoError(t, ev.SetPayload(payload[:n]))

	resp1 := submitAndRun(t, d, pub, ev)
	require.Equal(t, wire.StatusComplete, resp1.Status)
	pid1 := binary.LittleEndian.Uint64(resp1.ResultBytes())
	require.Equal(t, uint64(1), pid1)

	ev2 := wire.Event{ID: 2, Type: wire.EventProcCreate}
	require.NoError(t, ev2.SetPayload(payload[:n]))
	resp2 := submitAndRun(t, d, pub, ev2)
	pid2 := binary.LittleEndian.Uint64(resp2.ResultBytes())
	require.Equal(t, uint64(2), pid2)
	require.Greater(t, pid2, pid1)
}

func TestOperationsDeck_ExitUnknownPIDFails(t *testing.T) {
	pub := &fakePublisher{}
	d := Deck(Config{FIFODepth: 8}, pub, fixedClock(1), nil)

	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], 999)
	ev := wire.Event{ID: 1, Type: wire.EventProcExit}
	require.NoError(t, ev.SetPayload(payload[:]))

	resp := submitAndRun(t, d, pub, ev)
	require.Equal(t, wire.StatusFailure, resp.Status)
	require.Equal(t, CodeUnknownPID, resp.ResultCode)
}

func TestOperationsDeck_IPCChannelCreateDestroy(t *testing.T) {
	pub := &fakePublisher{}
	d := Deck(Config{FIFODepth: 8}, pub, fixedClock(1), nil)

	ev := wire.Event{ID: 1, Type: wire.EventIPCCreateChannel}
	resp := submitAndRun(t, d, pub, ev)
	require.Equal(t, wire.StatusComplete, resp.Status)
	chanID := binary.LittleEndian.Uint64(resp.ResultBytes())
	require.Equal(t, uint64(1), chanID)

	var destroyPayload [8]byte
	binary.LittleEndian.PutUint64(destroyPayload[:], chanID)
	destroyEv := wire.Event{ID: 2, Type: wire.EventIPCDestroyChannel}
	require.NoError(t, destroyEv.SetPayload(destroyPayload[:]))
	destroyResp := submitAndRun(t, d, pub, destroyEv)
	require.Equal(t, wire.StatusComplete, destroyResp.Status)

	// Destroying the same channel twice fails the second time.
	destroyEv2 := wire.Event{ID: 3, Type: wire.EventIPCDestroyChannel}
	require.NoError(t, destroyEv2.SetPayload(destroyPayload[:]))
	destroyResp2 := submitAndRun(t, d, pub, destroyEv2)
	require.Equal(t, wire.StatusFailure, destroyResp2.Status)
}

func TestOperationsDeck_UnknownEventTypeFails(t *testing.T) {
	pub := &fakePublisher{}
	d := Deck(Config{FIFODepth: 8}, pub, fixedClock(1), nil)

	ev := wire.Event{ID: 1, Type: wire.NewEventType(wire.PrefixOperations, 0xFFFFFF)}
	resp := submitAndRun(t, d, pub, ev)
	require.Equal(t, wire.StatusFailure, resp.Status)
	require.Equal(t, CodeUnknownType, resp.ResultCode)
}

func TestTable_CreateAndGet(t *testing.T) {
	tbl := NewTable()
	pid := tbl.Create("shell", 1)
	pcb, ok := tbl.Get(pid)
	require.True(t, ok)
	require.Equal(t, "shell", pcb.NameString())
	require.Equal(t, ProcCreated, pcb.State)
	require.Equal(t, 1, tbl.Count())
}
