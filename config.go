package boxkernel

// KernelConfig holds the tunable parameters for a Kernel: ring
// capacities, batch bounds, and retry budgets. Fields left at their
// zero value are filled in with the values DefaultKernelConfig
// returns when the config is passed to NewKernel.
type KernelConfig struct {
	// EventRingCapacity is the capacity of the user->kernel event
	// ring. Must be a power of two.
	EventRingCapacity uint64
	// ResponseRingCapacity is the capacity of the kernel->user
	// response ring. Must be a power of two.
	ResponseRingCapacity uint64
	// DeckFIFODepth is the capacity of each deck's routing FIFO. Must
	// be a power of two.
	DeckFIFODepth uint64

	// RouterBatch is the max number of events the router dequeues in
	// one StepOnce call.
	RouterBatch int
	// DeckBatch is the max number of routing entries a deck processes
	// in one RunOnce call.
	DeckBatch int

	// MaxRouteRetries bounds how many times the router will requeue
	// an event onto the event ring after finding its destination
	// deck's FIFO full, before giving up with ErrOverloaded.
	MaxRouteRetries int

	// StorageArenaBytes bounds the Storage deck's VMM allocation arena.
	StorageArenaBytes uint64
	// StorageNumInodes is the Storage deck's TagFS inode table capacity.
	StorageNumInodes uint32
	// StorageNumBlocks is the Storage deck's TagFS block store capacity,
	// in BlockSize-sized blocks.
	StorageNumBlocks uint32
}

const (
	DefaultEventRingCapacity    = 1024
	DefaultResponseRingCapacity = 1024
	DefaultDeckFIFODepth        = 256
	DefaultRouterBatch          = 64
	DefaultDeckBatch            = 32
	DefaultMaxRouteRetries      = 3

	DefaultStorageArenaBytes = 64 << 20 // 64MB
	DefaultStorageNumInodes  = 1024
	DefaultStorageNumBlocks  = 16384
)

// DefaultKernelConfig returns a KernelConfig with the module's
// standard defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		EventRingCapacity:    DefaultEventRingCapacity,
		ResponseRingCapacity: DefaultResponseRingCapacity,
		DeckFIFODepth:        DefaultDeckFIFODepth,
		RouterBatch:          DefaultRouterBatch,
		DeckBatch:            DefaultDeckBatch,
		MaxRouteRetries:      DefaultMaxRouteRetries,
		StorageArenaBytes:    DefaultStorageArenaBytes,
		StorageNumInodes:     DefaultStorageNumInodes,
		StorageNumBlocks:     DefaultStorageNumBlocks,
	}
}

// withDefaults fills in any zero-valued fields of cfg with the
// package defaults, the way the teacher's DeviceParams normalization
// fills in unset tunables before a device is brought up.
func (cfg KernelConfig) withDefaults() KernelConfig {
	if cfg.EventRingCapacity == 0 {
		cfg.EventRingCapacity = DefaultEventRingCapacity
	}
	if cfg.ResponseRingCapacity == 0 {
		cfg.ResponseRingCapacity = DefaultResponseRingCapacity
	}
	if cfg.DeckFIFODepth == 0 {
		cfg.DeckFIFODepth = DefaultDeckFIFODepth
	}
	if cfg.RouterBatch == 0 {
		cfg.RouterBatch = DefaultRouterBatch
	}
	if cfg.DeckBatch == 0 {
		cfg.DeckBatch = DefaultDeckBatch
	}
	if cfg.MaxRouteRetries == 0 {
		cfg.MaxRouteRetries = DefaultMaxRouteRetries
	}
	if cfg.StorageArenaBytes == 0 {
		cfg.StorageArenaBytes = DefaultStorageArenaBytes
	}
	if cfg.StorageNumInodes == 0 {
		cfg.StorageNumInodes = DefaultStorageNumInodes
	}
	if cfg.StorageNumBlocks == 0 {
		cfg.StorageNumBlocks = DefaultStorageNumBlocks
	}
	return cfg
}
