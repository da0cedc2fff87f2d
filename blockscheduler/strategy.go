package blockscheduler

import "github.com/zhukovaskychina/foxxll-go/external"

// Strategy is the pluggable scheduling policy the Scheduler drives through
// every swappable block lifecycle event. The set is closed (Online,
// Simulation, Offline-LFD, Offline-LRU-with-prefetch) — an interface over
// four concrete types rather than an open hierarchy.
//
// All On* hooks are called by the Scheduler while holding its own lock, so
// implementations never need their own synchronization against it; a
// strategy with background work of its own (prefetching) guards that work
// with a private mutex instead.
type Strategy interface {
	Name() string
	IsSimulating() bool

	OnAllocate(id SwappableBlockID)
	OnInitialize(id SwappableBlockID)
	// OnAcquire's hintDirty is true for AcquireDirty — the caller promised
	// to overwrite the buffer, so its external content was not loaded.
	OnAcquire(id SwappableBlockID, hintDirty bool)
	OnRelease(id SwappableBlockID, dirty bool)
	OnDeinitialize(id SwappableBlockID)
	OnFree(id SwappableBlockID)
	OnExtract(id SwappableBlockID)
	OnTimestep(now uint64)

	// SelectVictim picks an unpinned bound block to evict when the pool has
	// no free buffer to satisfy an acquire. ok is false when every bound
	// block is pinned — the Scheduler treats that as resource exhaustion.
	SelectVictim(blocks map[SwappableBlockID]*swappableBlock) (victim SwappableBlockID, ok bool)

	// TakePrefetch returns a buffer a speculative read is filling (or has
	// already filled) for id, plus the in-flight request so the caller can
	// Wait() on it, consuming the entry. Only the offline
	// LRU-with-prefetch strategy ever returns ok=true; every other
	// strategy is a permanent no-op.
	TakePrefetch(id SwappableBlockID) (buf *InternalBuffer, req *external.Request, ok bool)

	// PredictionSequence returns the trace recorded so far. Valid only
	// when IsSimulating(); callers check that first.
	PredictionSequence() (PredictionTrace, error)

	// Drain blocks until any asynchronous I/O the strategy issued on its
	// own initiative (prefetch reads) has completed, so a strategy swap
	// never leaves orphaned goroutines touching buffers the Scheduler is
	// about to hand to someone else.
	Drain()
}
