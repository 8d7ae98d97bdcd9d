package boxkernel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skripsaha/boxkernel/internal/deck"
	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/ring"
	"github.com/skripsaha/boxkernel/internal/router"
	"github.com/skripsaha/boxkernel/internal/wire"
	"github.com/skripsaha/boxkernel/operations"
	"github.com/skripsaha/boxkernel/storage"
)

// ringPublisher adapts an SPSC response ring to the ResponsePublisher
// interface both the router and every deck publish terminal responses
// through.
type ringPublisher struct {
	responses *ring.Ring[wire.Response]
}

func (p *ringPublisher) Publish(r wire.Response) bool {
	return p.responses.TryPush(r)
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithLogger overrides the Kernel's logger (default: logging.Default()).
func WithLogger(logger *logging.Logger) Option {
	return func(k *Kernel) { k.logger = logger }
}

// WithObserver overrides the Kernel's metrics Observer (default: a
// MetricsObserver wrapping the Kernel's own Metrics).
func WithObserver(observer Observer) Option {
	return func(k *Kernel) { k.observer = observer }
}

// Kernel wires the event ring, response ring, router, and the
// Storage/Operations decks into one runnable system. It is the
// in-process analogue of the teacher's Device: NewKernel mirrors
// CreateAndServe's construction order, Run mirrors the queue runners'
// serve loop, and Shutdown mirrors StopAndDelete's teardown — with no
// kernel ioctls anywhere, since there is no real device node.
type Kernel struct {
	cfg KernelConfig

	events    *ring.Ring[wire.Event]
	responses *ring.Ring[wire.Response]
	router    *router.Router
	decks     map[string]*deck.Deck

	storage    *storage.State
	operations *operations.State

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	nextEventID atomic.Uint64

	correlationMu sync.Mutex
	correlation   map[uint64]wire.Response

	runState atomic.Int32 // 0=created, 1=running, 2=stopped
	stopOnce sync.Once
}

const (
	kernelCreated int32 = iota
	kernelRunning
	kernelStopped
)

func monotonicNow() uint64 {
	return uint64(time.Now().UnixNano())
}

// NewKernel constructs a Kernel from cfg, registering the Storage and
// Operations decks. Unset cfg fields take the package defaults.
func NewKernel(cfg KernelConfig, opts ...Option) *Kernel {
	cfg = cfg.withDefaults()

	k := &Kernel{
		cfg:         cfg,
		events:      ring.New[wire.Event](cfg.EventRingCapacity),
		responses:   ring.New[wire.Response](cfg.ResponseRingCapacity),
		decks:       make(map[string]*deck.Deck),
		metrics:     NewMetrics(),
		logger:      logging.Default(),
		correlation: make(map[uint64]wire.Response),
	}
	k.observer = NewMetricsObserver(k.metrics)

	for _, opt := range opts {
		opt(k)
	}

	pub := &ringPublisher{responses: k.responses}
	k.router = router.New(k.events, pub, cfg.MaxRouteRetries, monotonicNow, k.logger)

	storageDeck, storageState := storage.NewDeck(storage.Config{
		FIFODepth:  cfg.DeckFIFODepth,
		ArenaBytes: cfg.StorageArenaBytes,
		NumInodes:  cfg.StorageNumInodes,
		NumBlocks:  cfg.StorageNumBlocks,
	}, pub, monotonicNow, k.logger)
	k.storage = storageState

	opsDeck, opsState := operations.NewDeck(operations.Config{
		FIFODepth: cfg.DeckFIFODepth,
	}, pub, monotonicNow, k.logger)
	k.operations = opsState

	k.router.RegisterDeck(storageDeck)
	k.router.RegisterDeck(opsDeck)
	k.decks["storage"] = storageDeck
	k.decks["operations"] = opsDeck

	return k
}

// Submit assigns ev the next monotonic event id and enqueues it onto
// the event ring, never blocking. It returns ErrBackpressure, leaving
// the ring untouched, if the ring is full.
func (k *Kernel) Submit(ev wire.Event) (id uint64, err error) {
	id = k.nextEventID.Add(1)
	ev.ID = id
	if ev.Submitter == 0 {
		ev.Submitter = id
	}

	ok := k.events.TryPush(ev)
	k.observer.ObserveSubmit(ok)
	if !ok {
		return 0, NewEventError("Submit", id, ErrBackpressure, "event ring full")
	}
	return id, nil
}

// Poll returns the Response for eventID if the kernel's main loop has
// already produced it, draining any newly available responses off the
// response ring into a small correlation buffer first — callers may
// poll out of order, and the response ring is itself SPSC.
func (k *Kernel) Poll(eventID uint64) (wire.Response, bool) {
	k.correlationMu.Lock()
	defer k.correlationMu.Unlock()

	if resp, ok := k.correlation[eventID]; ok {
		delete(k.correlation, eventID)
		return resp, true
	}

	for {
		resp, ok := k.responses.TryPop()
		if !ok {
			break
		}
		if resp.EventID == eventID {
			return resp, true
		}
		k.correlation[resp.EventID] = resp
	}
	return wire.Response{}, false
}

// Run advances the router and every registered deck in round-robin
// until ctx is done. Each round dequeues up to cfg.RouterBatch events
// from the router and up to cfg.DeckBatch routing entries from each
// deck; a round that does no work at all yields the goroutine rather
// than spinning, since nothing here may block.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.runState.CompareAndSwap(kernelCreated, kernelRunning) {
		return NewError("Run", ErrHandlerFailure, "kernel already running or stopped")
	}
	k.logger.Info("kernel run loop starting")

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("kernel run loop stopping: context done")
			return nil
		default:
		}

		handled := k.router.StepOnce(k.cfg.RouterBatch)
		for _, d := range k.decks {
			handled += d.RunOnce(k.cfg.DeckBatch)
		}
		k.observer.ObserveQueueDepth(uint32(k.events.Len()))

		if handled == 0 {
			runtime.Gosched()
		}
	}
}

// Shutdown drains every deck (Running -> Draining -> Stopped) and
// marks the kernel stopped. It does not cancel a context passed to
// Run — callers own that cancellation — but it will not return until
// every deck has finished any in-flight work or ctx expires.
func (k *Kernel) Shutdown(ctx context.Context) error {
	var shutdownErr error
	k.stopOnce.Do(func() {
		k.logger.Info("kernel shutdown starting")
		for _, d := range k.decks {
			d.Drain()
		}

		for {
			allStopped := true
			for _, d := range k.decks {
				if d.Stats().State != deck.StateStopped {
					allStopped = false
					d.RunOnce(k.cfg.DeckBatch)
				}
			}
			if allStopped {
				break
			}
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				allStopped = true
			default:
			}
			if shutdownErr != nil {
				break
			}
			runtime.Gosched()
		}

		k.runState.Store(kernelStopped)
		k.metrics.Stop()
		k.logger.Info("kernel shutdown complete")
	})
	return shutdownErr
}

// Metrics returns the Kernel's metrics for introspection.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// DeckStats returns a point-in-time stats snapshot for the named
// deck ("storage" or "operations"), and false if name is unknown.
func (k *Kernel) DeckStats(name string) (deck.Stats, bool) {
	d, ok := k.decks[name]
	if !ok {
		return deck.Stats{}, false
	}
	return d.Stats(), true
}

// Storage exposes the Storage deck's backing state (VMM, TagFS) for
// diagnostics and the demo harness.
func (k *Kernel) Storage() *storage.State { return k.storage }

// Operations exposes the Operations deck's backing state (process and
// channel tables) for diagnostics and the demo harness.
func (k *Kernel) Operations() *operations.State { return k.operations }
