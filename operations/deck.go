package operations

import (
	"encoding/binary"

	"github.com/skripsaha/boxkernel/internal/deck"
	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/wire"
)

// Stable result codes published on the Operations deck's Failure
// responses.
const (
	CodeUnknownPID  uint32 = 20
	CodeUnknownType uint32 = 21
)

// Config configures the Operations deck.
type Config struct {
	FIFODepth uint64
}

// State holds the deck's process and channel tables.
type State struct {
	procs    *Table
	channels *channelTable
}

// NewState constructs empty process/channel tables.
func NewState() *State {
	return &State{procs: NewTable(), channels: newChannelTable()}
}

// Procs exposes the process table for diagnostics and the demo
// harness.
func (s *State) Procs() *Table { return s.procs }

// Deck builds the Operations deck's *deck.Deck.
func Deck(cfg Config, responses deck.ResponsePublisher, now func() uint64, logger *logging.Logger) *deck.Deck {
	d, _ := NewDeck(cfg, responses, now, logger)
	return d
}

// NewDeck is Deck plus the backing State, for callers (the Kernel)
// that need to reach the process/channel tables directly for
// diagnostics.
func NewDeck(cfg Config, responses deck.ResponsePublisher, now func() uint64, logger *logging.Logger) (*deck.Deck, *State) {
	st := NewState()
	d := deck.New("operations", wire.PrefixOperations, cfg.FIFODepth, st.process, responses, now, logger)
	return d, st
}

func (s *State) process(ctx *deck.Context, entry *deck.RoutingEntry) {
	ev := &entry.Event
	switch ev.Type {
	case wire.EventProcCreate:
		s.handleProcCreate(ctx, ev)
	case wire.EventProcExit:
		s.handleProcTransition(ctx, ev, ProcExited)
	case wire.EventProcKill:
		s.handleProcTransition(ctx, ev, ProcKilled)
	case wire.EventProcWait, wire.EventProcGetPID, wire.EventProcSignal:
		s.handleProcAck(ctx, ev)
	case wire.EventIPCSend, wire.EventIPCRecv:
		s.handleIPCAck(ctx, ev)
	case wire.EventIPCCreateChannel:
		s.handleIPCCreateChannel(ctx)
	case wire.EventIPCDestroyChannel:
		s.handleIPCDestroyChannel(ctx, ev)
	case wire.EventIPCSubscribe:
		s.handleIPCAck(ctx, ev)
	default:
		ctx.Error(CodeUnknownType)
	}
}

func (s *State) handleProcCreate(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeProcCreate(ev.Payload())
	if err != nil {
		ctx.Error(CodeUnknownType)
		return
	}
	pid := s.procs.Create(p.Name, ev.Submitter)

	var result [8]byte
	binary.LittleEndian.PutUint64(result[:], pid)
	ctx.Complete(result[:], 0)
}

func (s *State) handleProcTransition(ctx *deck.Context, ev *wire.Event, next ProcState) {
	p, err := wire.DecodeProcPID(ev.Payload())
	if err != nil {
		ctx.Error(CodeUnknownType)
		return
	}
	if !s.procs.SetState(p.PID, next) {
		ctx.Error(CodeUnknownPID)
		return
	}
	ctx.Complete(nil, 0)
}

// handleProcAck covers WAIT/GETPID/SIGNAL: spec §4.5 treats everything
// but CREATE/EXIT/KILL as a placeholder that simply acknowledges, so
// these validate their payload and the referenced pid, then complete
// with an empty result.
func (s *State) handleProcAck(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeProcPID(ev.Payload())
	if err != nil {
		ctx.Error(CodeUnknownType)
		return
	}
	if _, ok := s.procs.Get(p.PID); !ok {
		ctx.Error(CodeUnknownPID)
		return
	}
	ctx.Complete(nil, 0)
}

func (s *State) handleIPCAck(ctx *deck.Context, ev *wire.Event) {
	_, err := wire.DecodeIPC(ev.Payload())
	if err != nil {
		ctx.Error(CodeUnknownType)
		return
	}
	ctx.Complete(nil, 0)
}

func (s *State) handleIPCCreateChannel(ctx *deck.Context) {
	id := s.channels.create()
	var result [8]byte
	binary.LittleEndian.PutUint64(result[:], id)
	ctx.Complete(result[:], 0)
}

func (s *State) handleIPCDestroyChannel(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeIPC(ev.Payload())
	if err != nil {
		ctx.Error(CodeUnknownType)
		return
	}
	if !s.channels.destroy(p.ChannelID) {
		ctx.Error(CodeUnknownPID)
		return
	}
	ctx.Complete(nil, 0)
}
