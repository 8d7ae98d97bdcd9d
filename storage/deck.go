package storage

import (
	"sync"
	"sync/atomic"

	"github.com/skripsaha/boxkernel/internal/deck"
	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/wire"
	"github.com/skripsaha/boxkernel/storage/tagfs"
)

// Stable result codes published on the Storage deck's Failure
// responses.
const (
	CodeAllocFailure        uint32 = 1
	CodeOpenFailure         uint32 = 2
	CodeUnknownType         uint32 = 3
	CodeTaggedCreateFailure uint32 = 10
	CodeQueryFailure        uint32 = 11
	CodeTagAddFailure       uint32 = 12
	CodeTagRemoveFailure    uint32 = 13
	CodeTagGetFailure       uint32 = 14
)

// openFile is one entry in the deck's open-file table: the inode it
// addresses plus the read/write cursor POSIX-style ops advance.
type openFile struct {
	inodeID uint64
	cursor  int64
}

// Config configures the Storage deck's backing resources.
type Config struct {
	FIFODepth  uint64
	ArenaBytes uint64
	NumInodes  uint32
	NumBlocks  uint32
}

// State holds the deck's VMM, filesystem, and open-file table — kept
// separate from the *deck.Deck itself so tests can exercise it without
// going through the routing FIFO.
type State struct {
	vmm *VMM
	fs  *tagfs.FS

	mu      sync.Mutex
	openFDs map[uint64]*openFile
	nextFD  atomic.Uint64
}

// NewState constructs the Storage deck's backing state from cfg.
func NewState(cfg Config) *State {
	store := NewMemBlockStore(int64(cfg.NumBlocks) * tagfs.BlockSize)
	return &State{
		vmm:     NewVMM(cfg.ArenaBytes),
		fs:      tagfs.New(cfg.NumInodes, cfg.NumBlocks, store),
		openFDs: make(map[uint64]*openFile),
	}
}

// FS exposes the underlying filesystem for diagnostics and the demo
// harness; handlers below go through it directly.
func (s *State) FS() *tagfs.FS { return s.fs }

// VMM exposes the underlying allocator stub for diagnostics.
func (s *State) VMM() *VMM { return s.vmm }

// Deck builds the Storage deck's *deck.Deck, wiring cfg's backing
// state into a ProcessFunc that switches on event type exactly per the
// storage event table.
func Deck(cfg Config, responses deck.ResponsePublisher, now func() uint64, logger *logging.Logger) *deck.Deck {
	d, _ := NewDeck(cfg, responses, now, logger)
	return d
}

// NewDeck is Deck plus the backing State, for callers (the Kernel)
// that need to reach the VMM/FS directly for diagnostics.
func NewDeck(cfg Config, responses deck.ResponsePublisher, now func() uint64, logger *logging.Logger) (*deck.Deck, *State) {
	st := NewState(cfg)
	d := deck.New("storage", wire.PrefixStorage, cfg.FIFODepth, st.process, responses, now, logger)
	return d, st
}

func (s *State) process(ctx *deck.Context, entry *deck.RoutingEntry) {
	ev := &entry.Event
	switch ev.Type {
	case wire.EventMemoryAlloc:
		s.handleMemoryAlloc(ctx, ev)
	case wire.EventMemoryFree:
		s.handleMemoryFree(ctx, ev)
	case wire.EventFileOpen:
		s.handleFileOpen(ctx, ev)
	case wire.EventFileClose:
		s.handleFileClose(ctx, ev)
	case wire.EventFileRead:
		s.handleFileRead(ctx, ev)
	case wire.EventFileWrite:
		s.handleFileWrite(ctx, ev)
	case wire.EventFileStat:
		s.handleFileStat(ctx, ev)
	case wire.EventFileCreateTagged:
		s.handleFileCreateTagged(ctx, ev)
	case wire.EventFileQuery:
		s.handleFileQuery(ctx, ev)
	case wire.EventTagAdd:
		s.handleTagAdd(ctx, ev)
	case wire.EventTagRemove:
		s.handleTagRemove(ctx, ev)
	case wire.EventTagGet:
		s.handleTagGet(ctx, ev)
	default:
		ctx.Error(CodeUnknownType)
	}
}

func (s *State) handleMemoryAlloc(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeMemoryAlloc(ev.Payload())
	if err != nil {
		ctx.Error(CodeAllocFailure)
		return
	}
	addr, err := s.vmm.Alloc(p.Size)
	if err != nil {
		ctx.Error(CodeAllocFailure)
		return
	}
	var result [8]byte
	(wire.MemoryAllocPayload{Size: addr}).Encode(result[:])
	ctx.Complete(result[:], 0)
}

func (s *State) handleMemoryFree(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeMemoryFree(ev.Payload())
	if err != nil {
		ctx.Error(CodeAllocFailure)
		return
	}
	if err := s.vmm.Free(p.Addr, p.Size); err != nil {
		ctx.Error(CodeAllocFailure)
		return
	}
	ctx.Complete(nil, 0)
}

func (s *State) handleFileOpen(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileOpen(ev.Payload())
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	if _, err := s.fs.GetTags(p.InodeID); err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	fd := s.nextFD.Add(1)
	s.mu.Lock()
	s.openFDs[fd] = &openFile{inodeID: p.InodeID}
	s.mu.Unlock()

	var result [8]byte
	(wire.FileHandlePayload{FD: fd}).Encode(result[:])
	ctx.Complete(result[:], 0)
}

func (s *State) handleFileClose(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileHandle(ev.Payload())
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	s.mu.Lock()
	_, ok := s.openFDs[p.FD]
	delete(s.openFDs, p.FD)
	s.mu.Unlock()
	if !ok {
		ctx.Error(CodeOpenFailure)
		return
	}
	ctx.Complete(nil, 0)
}

func (s *State) lookupFD(fd uint64) (*openFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.openFDs[fd]
	return of, ok
}

func (s *State) handleFileRead(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileIO(ev.Payload())
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	of, ok := s.lookupFD(p.FD)
	if !ok {
		ctx.Error(CodeOpenFailure)
		return
	}
	buf := deck.GetBuffer(nextBufSize(p.Length))
	defer deck.PutBuffer(buf)

	s.mu.Lock()
	offset := of.cursor
	s.mu.Unlock()

	n, err := s.fs.ReadAt(of.inodeID, buf[:p.Length], offset)
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}

	s.mu.Lock()
	of.cursor += int64(n)
	s.mu.Unlock()

	ctx.Complete(buf[:n], 0)
}

func (s *State) handleFileWrite(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileIO(ev.Payload())
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	of, ok := s.lookupFD(p.FD)
	if !ok {
		ctx.Error(CodeOpenFailure)
		return
	}
	s.mu.Lock()
	offset := of.cursor
	s.mu.Unlock()

	n, err := s.fs.WriteAt(of.inodeID, p.Data, offset)
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}

	s.mu.Lock()
	of.cursor += int64(n)
	s.mu.Unlock()

	var result [4]byte
	putUint32(result[:], uint32(n))
	ctx.Complete(result[:], 0)
}

func (s *State) handleFileStat(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileHandle(ev.Payload())
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	of, ok := s.lookupFD(p.FD)
	if !ok {
		ctx.Error(CodeOpenFailure)
		return
	}
	tags, err := s.fs.GetTags(of.inodeID)
	if err != nil {
		ctx.Error(CodeOpenFailure)
		return
	}
	var result [8]byte
	putUint64(result[:], uint64(len(tags)))
	ctx.Complete(result[:], 0)
}

func (s *State) handleFileCreateTagged(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeTagOp(ev.Payload())
	if err != nil {
		ctx.Error(CodeTaggedCreateFailure)
		return
	}
	id, err := s.fs.CreateFile(p.Tags)
	if err != nil {
		ctx.Error(CodeTaggedCreateFailure)
		return
	}
	var result [8]byte
	putUint64(result[:], id)
	ctx.Complete(result[:], 0)
}

func (s *State) handleFileQuery(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeFileQuery(ev.Payload())
	if err != nil {
		ctx.Error(CodeQueryFailure)
		return
	}
	maxRes := p.MaxRes
	if maxRes == 0 || maxRes > 32 {
		maxRes = 32
	}
	ids := make([]uint64, maxRes)
	n, truncated, err := s.fs.Query(p.Op, p.Tags, ids)
	if err != nil {
		ctx.Error(CodeQueryFailure)
		return
	}
	result := make([]byte, 4+n*8)
	flag := uint32(0)
	if truncated {
		flag = 1
	}
	putUint32(result[0:4], flag)
	for i := 0; i < n; i++ {
		putUint64(result[4+i*8:12+i*8], ids[i])
	}
	ctx.Complete(result, 0)
}

func (s *State) handleTagAdd(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeTagOp(ev.Payload())
	if err != nil || len(p.Tags) == 0 {
		ctx.Error(CodeTagAddFailure)
		return
	}
	for _, t := range p.Tags {
		if err := s.fs.AddTag(p.InodeID, t); err != nil {
			ctx.Error(CodeTagAddFailure)
			return
		}
	}
	ctx.Complete(nil, 0)
}

func (s *State) handleTagRemove(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeTagOp(ev.Payload())
	if err != nil || len(p.Tags) == 0 {
		ctx.Error(CodeTagRemoveFailure)
		return
	}
	for _, t := range p.Tags {
		if err := s.fs.RemoveTag(p.InodeID, t); err != nil {
			ctx.Error(CodeTagRemoveFailure)
			return
		}
	}
	ctx.Complete(nil, 0)
}

func (s *State) handleTagGet(ctx *deck.Context, ev *wire.Event) {
	p, err := wire.DecodeTagOp(ev.Payload())
	if err != nil {
		ctx.Error(CodeTagGetFailure)
		return
	}
	tags, err := s.fs.GetTags(p.InodeID)
	if err != nil {
		ctx.Error(CodeTagGetFailure)
		return
	}
	buf := (wire.TagOpPayload{InodeID: p.InodeID, Tags: tags})
	out := make([]byte, 12+len(tags)*96)
	n, err := buf.Encode(out)
	if err != nil {
		ctx.Error(CodeTagGetFailure)
		return
	}
	ctx.Complete(out[:n], 0)
}

func nextBufSize(n uint32) uint32 {
	switch {
	case n <= 128*1024:
		return 128 * 1024
	case n <= 256*1024:
		return 256 * 1024
	case n <= 512*1024:
		return 512 * 1024
	default:
		return 1024 * 1024
	}
}
