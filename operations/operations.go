// Package operations implements the Operations deck: process
// lifecycle bookkeeping (a PID-indexed table of process control
// blocks) and the IPC primitives' acknowledgement stubs.
package operations

import (
	"sync"
	"sync/atomic"
)

// ProcState is a process control block's lifecycle state.
type ProcState uint32

const (
	ProcCreated ProcState = iota
	ProcRunning
	ProcExited
	ProcKilled
)

// ProcessControlBlock is the record allocated for every PROC_CREATE.
// Only PID/ParentPID/Name/State are ever set by this core; the
// page-table/stack/instruction-pointer fields are placeholders a real
// scheduler would populate.
type ProcessControlBlock struct {
	PID                uint64
	ParentPID          uint64
	Name               [64]byte
	State              ProcState
	PageTableBase      uint64
	StackPointer       uint64
	InstructionPointer uint64
}

// NameString returns the process name, trimmed at the first NUL.
func (p *ProcessControlBlock) NameString() string {
	for i, c := range p.Name {
		if c == 0 {
			return string(p.Name[:i])
		}
	}
	return string(p.Name[:])
}

// Table is the PID-indexed process table. PIDs are assigned by an
// atomically-incremented counter starting at 1, matching the fd/pid
// counter discipline used throughout this kernel's other handles.
type Table struct {
	mu      sync.RWMutex
	procs   map[uint64]*ProcessControlBlock
	nextPID atomic.Uint64
}

// NewTable constructs an empty process table.
func NewTable() *Table {
	return &Table{procs: make(map[uint64]*ProcessControlBlock)}
}

// Create allocates a PCB for a new process named name (truncated to
// 63 bytes plus a trailing NUL), parented under parentPID, and returns
// its freshly assigned pid.
func (t *Table) Create(name string, parentPID uint64) uint64 {
	pid := t.nextPID.Add(1)
	pcb := &ProcessControlBlock{PID: pid, ParentPID: parentPID, State: ProcCreated}
	copy(pcb.Name[:len(pcb.Name)-1], name)

	t.mu.Lock()
	t.procs[pid] = pcb
	t.mu.Unlock()
	return pid
}

// Get returns the PCB for pid, if one exists.
func (t *Table) Get(pid uint64) (*ProcessControlBlock, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pcb, ok := t.procs[pid]
	return pcb, ok
}

// SetState transitions pid's PCB to state, returning false if pid is
// unknown.
func (t *Table) SetState(pid uint64, state ProcState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pcb, ok := t.procs[pid]
	if !ok {
		return false
	}
	pcb.State = state
	return true
}

// Count returns the number of PCBs currently tracked, live or exited.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.procs)
}

// channel is an IPC stub: this core never moves bytes between
// processes, it only tracks which channel handles exist, so DESTROY of
// an unknown or already destroyed handle fails. SEND/RECV/SUBSCRIBE do
// not consult this table.
type channel struct {
	id uint64
}

// channelTable assigns IPC channel handles the same atomic-counter way
// Table assigns pids.
type channelTable struct {
	mu       sync.Mutex
	channels map[uint64]*channel
	nextID   atomic.Uint64
}

func newChannelTable() *channelTable {
	return &channelTable{channels: make(map[uint64]*channel)}
}

func (c *channelTable) create() uint64 {
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.channels[id] = &channel{id: id}
	c.mu.Unlock()
	return id
}

func (c *channelTable) destroy(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[id]
	delete(c.channels, id)
	return ok
}

func (c *channelTable) exists(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[id]
	return ok
}
