// Package deck implements the bounded worker framework every deck
// (storage, operations) runs on: a routing FIFO, a cooperative
// run_once step, and a strict complete/error terminal-response
// protocol. A deck never blocks and never spawns goroutines per
// event — RunOnce always returns after processing at most a fixed
// number of entries, which is what lets the kernel's main loop
// round-robin decks without any of them starving the others.
package deck

import (
	"fmt"
	"sync/atomic"

	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/ring"
	"github.com/skripsaha/boxkernel/internal/wire"
)

// State is a deck's lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// RoutingEntry is what the router hands a deck: a copy of the event
// plus bookkeeping the deck needs to publish a correlated response.
type RoutingEntry struct {
	Event      wire.Event
	EnqueuedAt uint64 // monotonic ns, set by the router
	Attempt    int    // number of times this event has been requeued
}

// ResponsePublisher is the narrow interface a deck uses to publish a
// Response once it finishes processing an entry. The kernel's
// response ring satisfies this.
type ResponsePublisher interface {
	Publish(r wire.Response) bool
}

// Context is the handle a ProcessFunc uses to resolve exactly one
// RoutingEntry: either Complete or Error, never both, never neither.
type Context struct {
	entry     RoutingEntry
	responses ResponsePublisher
	now       func() uint64
	resolved  bool
	gotStatus wire.Status
}

// Complete publishes a success Response carrying result, truncated to
// the wire format's inline capacity if it overflows.
func (c *Context) Complete(result []byte, resultCode uint32) {
	c.resolve(wire.StatusComplete, resultCode, result)
}

// Error publishes a failure Response with no result payload.
func (c *Context) Error(code uint32) {
	c.resolve(wire.StatusFailure, code, nil)
}

func (c *Context) resolve(status wire.Status, code uint32, result []byte) {
	if c.resolved {
		panic("deck: Context resolved more than once for the same event")
	}
	c.resolved = true
	c.gotStatus = status
	resp := wire.Response{
		EventID:     c.entry.Event.ID,
		Status:      status,
		ResultCode:  code,
		CompletedAt: c.now(),
	}
	resp.SetResult(result)
	c.responses.Publish(resp)
}

// EventID returns the id of the event this context resolves.
func (c *Context) EventID() uint64 { return c.entry.Event.ID }

// ProcessFunc is a deck's per-event handler. It must call exactly one
// of ctx.Complete/ctx.Error before returning.
type ProcessFunc func(ctx *Context, entry *RoutingEntry)

// Stats is a point-in-time snapshot of a deck's counters.
type Stats struct {
	Processed uint64
	Errors    uint64
	InFlight  int64
	State     State
}

// Deck runs one bounded ProcessFunc over a private routing FIFO.
type Deck struct {
	Name    string
	Prefix  wire.DeckPrefix
	process ProcessFunc
	fifo    *ring.Ring[RoutingEntry]

	responses ResponsePublisher
	now       func() uint64
	logger    *logging.Logger

	state     atomic.Int32
	processed atomic.Uint64
	errs      atomic.Uint64
	inFlight  atomic.Int64
}

// New constructs a Deck with the given routing FIFO capacity (must be
// a power of two).
func New(name string, prefix wire.DeckPrefix, fifoDepth uint64, process ProcessFunc, responses ResponsePublisher, now func() uint64, logger *logging.Logger) *Deck {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deck{
		Name:      name,
		Prefix:    prefix,
		process:   process,
		fifo:      ring.New[RoutingEntry](fifoDepth),
		responses: responses,
		now:       now,
		logger:    logger,
	}
}

func (d *Deck) getState() State { return State(d.state.Load()) }
func (d *Deck) setState(s State) { d.state.Store(int32(s)) }

// Enqueue pushes a routing entry onto the deck's FIFO. It returns
// false, leaving the FIFO unchanged, if the FIFO is full — the
// router's backpressure/retry path drives off this return value.
func (d *Deck) Enqueue(entry RoutingEntry) bool {
	ok := d.fifo.TryPush(entry)
	if ok {
		d.inFlight.Add(1)
	}
	return ok
}

// RunOnce dequeues and processes at most maxEntries routing entries.
// It transitions Created->Running on its first call and returns the
// number of entries handled.
func (d *Deck) RunOnce(maxEntries int) int {
	if d.getState() == StateCreated {
		d.setState(StateRunning)
	}

	handled := 0
	for i := 0; i < maxEntries; i++ {
		entry, ok := d.fifo.TryPop()
		if !ok {
			break
		}
		d.runEntry(entry)
		handled++
	}
	if d.getState() == StateDraining && d.fifo.IsEmpty() {
		d.setState(StateStopped)
	}
	return handled
}

// runEntry invokes the deck's ProcessFunc with a panic/violation guard:
// a handler that panics, or that returns without resolving its
// Context, is demoted to a HandlerFailure response and an error log
// line rather than taking down the kernel's main loop.
func (d *Deck) runEntry(entry RoutingEntry) {
	defer d.inFlight.Add(-1)

	ctx := &Context{entry: entry, responses: d.responses, now: d.now}
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("deck handler panicked", "deck", d.Name, "event", entry.Event.ID, "panic", r)
				if !ctx.resolved {
					ctx.Error(handlerFailureCode)
				}
			}
		}()
		d.process(ctx, &entry)
	}()

	if !ctx.resolved {
		d.logger.Error("deck handler returned without resolving event", "deck", d.Name, "event", entry.Event.ID)
		ctx.Error(handlerFailureCode)
	}

	if ctx.gotStatus == wire.StatusComplete {
		d.processed.Add(1)
	} else {
		d.errs.Add(1)
	}
}

// handlerFailureCode is the stable numeric result code published when
// a handler panics or fails to resolve its Context. Deck-specific
// error codes (spec §4.4's per-type table) are set by the handler
// itself on the normal Error path; this is strictly the fallback.
const handlerFailureCode = 0xFFFFFFFF

// Drain transitions the deck into Draining, or straight to Stopped if
// it has never run or its FIFO is already empty. Callers keep calling
// RunOnce until Stats().State reports Stopped.
func (d *Deck) Drain() {
	if d.getState() == StateCreated || d.fifo.IsEmpty() {
		d.setState(StateStopped)
		return
	}
	d.setState(StateDraining)
}

// Stats returns a snapshot of the deck's counters.
func (d *Deck) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Errors:    d.errs.Load(),
		InFlight:  d.inFlight.Load(),
		State:     d.getState(),
	}
}
