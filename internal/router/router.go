// Package router implements the event classification and dispatch
// layer between the event ring and the kernel's decks: it validates
// each event, resolves its destination deck by the event type's
// high-byte prefix, and enqueues it onto that deck's routing FIFO —
// retrying with backpressure, or failing the event outright, when a
// deck's FIFO is full.
package router

import (
	"github.com/skripsaha/boxkernel/internal/deck"
	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/ring"
	"github.com/skripsaha/boxkernel/internal/wire"
)

// ResponsePublisher is the narrow interface the router uses to fail
// an event directly, without ever handing it to a deck.
type ResponsePublisher interface {
	Publish(r wire.Response) bool
}

// Router classifies events dequeued from the event ring and dispatches
// them to the deck registered for their type's prefix.
type Router struct {
	events     *ring.Ring[wire.Event]
	responses  ResponsePublisher
	decks      map[wire.DeckPrefix]*deck.Deck
	now        func() uint64
	logger     *logging.Logger
	maxRetries int

	// attempts tracks how many times an in-flight event has been
	// requeued after finding its deck's FIFO full. The wire Event
	// itself carries no attempt counter (its layout is fixed by the
	// spec), so the router keeps this side table instead, keyed by
	// event id and cleared the moment the event stops being retried.
	attempts map[uint64]int
}

// New constructs a Router reading from events and failing
// unroutable/expired events onto responses.
func New(events *ring.Ring[wire.Event], responses ResponsePublisher, maxRetries int, now func() uint64, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		events:     events,
		responses:  responses,
		decks:      make(map[wire.DeckPrefix]*deck.Deck),
		now:        now,
		logger:     logger,
		maxRetries: maxRetries,
		attempts:   make(map[uint64]int),
	}
}

// RegisterDeck associates a deck with the prefix it serves. Routing
// an event whose prefix has no registered deck fails the event with
// ErrUnknownType.
func (r *Router) RegisterDeck(d *deck.Deck) {
	r.decks[d.Prefix] = d
}

// StepOnce dequeues and routes up to batch events, never blocking.
// It returns the number of events dequeued (including ones that
// failed validation or were requeued).
func (r *Router) StepOnce(batch int) int {
	handled := 0
	for i := 0; i < batch; i++ {
		ev, ok := r.events.TryPop()
		if !ok {
			break
		}
		r.route(ev)
		handled++
	}
	return handled
}

func (r *Router) route(ev wire.Event) {
	if ev.DataLen > wire.EventDataLen {
		r.fail(ev.ID, ResultInvalidPayload)
		return
	}

	if ev.Flags&wire.FlagHasDeadline != 0 && r.now() > ev.Timestamp {
		r.fail(ev.ID, ResultTimeout)
		return
	}

	prefix := ev.Type.Prefix()
	d, ok := r.decks[prefix]
	if !ok {
		r.fail(ev.ID, ResultUnknownType)
		return
	}

	attempt := r.attempts[ev.ID]
	entry := deck.RoutingEntry{Event: ev, EnqueuedAt: r.now(), Attempt: attempt}
	if d.Enqueue(entry) {
		delete(r.attempts, ev.ID)
		return
	}

	// Deck FIFO full: requeue at the front of the event ring so this
	// event is retried before newer arrivals, up to maxRetries times.
	// Publish an InProgress response on each retry so a caller polling
	// the event observes the backpressure instead of silence until the
	// eventual success or failure.
	if attempt < r.maxRetries {
		if r.events.PushFront(ev) {
			r.attempts[ev.ID] = attempt + 1
			r.responses.Publish(wire.Response{
				EventID:     ev.ID,
				Status:      wire.StatusInProgress,
				ResultCode:  ResultBackpressure,
				CompletedAt: r.now(),
			})
			r.logger.Debug("deck FIFO full, requeued event", "event", ev.ID, "deck", d.Name, "attempt", attempt+1)
			return
		}
	}

	delete(r.attempts, ev.ID)
	r.fail(ev.ID, ResultOverloaded)
}

// Result codes published when the router itself fails an event,
// before it ever reaches a deck.
const (
	ResultInvalidPayload uint32 = 1
	ResultUnknownType    uint32 = 2
	ResultTimeout        uint32 = 3
	ResultOverloaded     uint32 = 4
	ResultBackpressure   uint32 = 5
)

func (r *Router) fail(eventID uint64, code uint32) {
	resp := wire.Response{
		EventID:     eventID,
		Status:      wire.StatusFailure,
		ResultCode:  code,
		CompletedAt: r.now(),
	}
	r.responses.Publish(resp)
}
