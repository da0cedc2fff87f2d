package blockscheduler

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/zhukovaskychina/foxxll-go/external"
	"github.com/zhukovaskychina/foxxll-go/logger"
)

// ErrNotBound is returned by GetInternalBlock when the block isn't
// currently holding a buffer.
var ErrNotBound = errNotBound{}

type errNotBound struct{}

func (errNotBound) Error() string { return "blockscheduler: block is not bound" }

// Scheduler is the client-facing facade: every swappable-block operation
// passes through it, serialized by a single mutex, with the eviction and
// prefetch policy delegated to the current Strategy. One struct owns
// everything — pool, storage manager, block table — behind one lock.
type Scheduler struct {
	mu sync.Mutex

	pool        *BlockPool
	externalMgr external.BlockManager
	allocStrat  external.AllocatorStrategy

	strategy Strategy
	blocks   map[SwappableBlockID]*swappableBlock
	nextID   SwappableBlockID

	clock *atomic.Uint64
}

// NewScheduler wires a Scheduler over pool and mgr, starting with the
// Online strategy.
func NewScheduler(pool *BlockPool, mgr external.BlockManager, allocStrat external.AllocatorStrategy) *Scheduler {
	return &Scheduler{
		pool:        pool,
		externalMgr: mgr,
		allocStrat:  allocStrat,
		strategy:    NewOnlineStrategy(),
		blocks:      make(map[SwappableBlockID]*swappableBlock),
		clock:       atomic.NewUint64(0),
	}
}

// Clock reads the scheduler's logical clock. It performs no locking, so
// simulation strategies can stamp trace entries from inside a hook.
func (s *Scheduler) Clock() uint64 { return s.clock.Load() }

// tick advances the logical clock. Every externally-visible operation
// ticks once on entry, so recorded trace times strictly increase across
// operations. Caller holds s.mu.
func (s *Scheduler) tick() { s.clock.Inc() }

// Allocate registers a new swappable block with no backing storage yet,
// in the Uninitialized state.
func (s *Scheduler) Allocate() SwappableBlockID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	id := s.nextID
	s.nextID++
	s.blocks[id] = newSwappableBlock(id)
	s.strategy.OnAllocate(id)
	return id
}

// Initialize adopts h as id's backing storage, moving the block from
// Uninitialized to External. An invalid (zero) handle is accepted and
// means "initialized with no storage yet" — real storage is then
// allocated lazily on the block's first writeback. Calling Initialize on
// anything but an Uninitialized block is a contract violation.
func (s *Scheduler) Initialize(id SwappableBlockID, h external.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return ErrUnknownBlock
	}
	if b.extracted {
		logAndAbort("blockscheduler: Initialize called on extracted block %d", id)
		return nil
	}
	if b.state != stateUninitialized {
		logAndAbort("blockscheduler: Initialize called on block %d in state %s, want uninitialized", id, b.state)
		return nil
	}

	if s.strategy.IsSimulating() {
		b.state = stateSimulating
	} else {
		b.handle = h
		b.hasHandle = h.Valid()
		b.state = stateExternal
	}

	s.strategy.OnInitialize(id)
	return nil
}

// IsInitialized reports whether id has moved past Uninitialized.
func (s *Scheduler) IsInitialized(id SwappableBlockID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	return ok && b.state != stateUninitialized
}

// Acquire binds id to an internal buffer, loading its content from
// external storage if necessary, and pins it against eviction until a
// matching Release. Acquiring an already-bound block just bumps the pin
// count. Acquiring an Uninitialized block initializes it: the pool yields
// a fresh buffer, zero-filled, without any I/O.
func (s *Scheduler) Acquire(id SwappableBlockID) (*InternalBuffer, error) {
	return s.acquire(id, false)
}

// AcquireDirty is Acquire for callers that promise to overwrite the whole
// buffer before reading it: the block is bound without loading its
// external content, saving the read.
func (s *Scheduler) AcquireDirty(id SwappableBlockID) (*InternalBuffer, error) {
	return s.acquire(id, true)
}

func (s *Scheduler) acquire(id SwappableBlockID, hintDirty bool) (*InternalBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return nil, ErrUnknownBlock
	}
	if b.extracted {
		logAndAbort("blockscheduler: Acquire called on extracted block %d", id)
		return nil, nil
	}

	if s.strategy.IsSimulating() {
		if b.state == stateUninitialized {
			b.state = stateSimulating
		}
		b.acquireCount++
		s.strategy.OnAcquire(id, hintDirty)
		return simulationSentinel, nil
	}

	if b.isBound() {
		b.acquireCount++
		s.strategy.OnAcquire(id, hintDirty)
		return b.buf, nil
	}

	buf, err := s.bindBuffer(b, hintDirty)
	if err != nil {
		return nil, err
	}
	b.buf = buf
	b.state = stateBoundClean
	b.acquireCount = 1
	s.strategy.OnAcquire(id, hintDirty)
	return buf, nil
}

// bindBuffer gets b an internal buffer and loads its external content
// into it. A block with no handle yet (never initialized with storage,
// or never written back) has no external content — its buffer is
// zero-filled in place, as is a skipRead acquire. Caller holds s.mu.
func (s *Scheduler) bindBuffer(b *swappableBlock, skipRead bool) (*InternalBuffer, error) {
	if buf, req, ok := s.strategy.TakePrefetch(b.id); ok {
		if err := req.Wait(); err != nil {
			s.pool.Release(buf)
			return nil, &SchedulerError{Op: "Acquire", Err: ErrIOFailed}
		}
		return buf, nil
	}

	buf, ok := s.pool.Acquire()
	if !ok {
		victim, ok := s.strategy.SelectVictim(s.blocks)
		if !ok {
			logAndAbort("blockscheduler: resource exhaustion: no evictable block and pool has no free buffer")
			return nil, nil
		}
		var err error
		buf, err = s.evict(s.blocks[victim])
		if err != nil {
			return nil, err
		}
	}

	if skipRead || !b.hasHandle {
		for i := range buf.Data {
			buf.Data[i] = 0
		}
		return buf, nil
	}

	if err := s.externalMgr.Read(buf, b.handle).Wait(); err != nil {
		s.pool.Release(buf)
		return nil, &SchedulerError{Op: "Acquire", Err: ErrIOFailed}
	}
	return buf, nil
}

// ensureHandle allocates backing storage for b if it has none yet — the
// lazy half of Initialize's "invalid handle accepted" contract, reached
// on the first writeback. Caller holds s.mu.
func (s *Scheduler) ensureHandle(b *swappableBlock) error {
	if b.hasHandle {
		return nil
	}
	h, err := s.externalMgr.NewBlock(s.allocStrat)
	if err != nil {
		return &SchedulerError{Op: "NewBlock", Err: err}
	}
	b.handle = h
	b.hasHandle = true
	return nil
}

// evict writes back victim if dirty and detaches its buffer, returning it
// for reuse. Caller holds s.mu.
func (s *Scheduler) evict(victim *swappableBlock) (*InternalBuffer, error) {
	if victim.state == stateBoundDirty {
		if err := s.ensureHandle(victim); err != nil {
			return nil, err
		}
		if err := s.externalMgr.Write(victim.buf, victim.handle).Wait(); err != nil {
			return nil, &SchedulerError{Op: "evict", Err: ErrIOFailed}
		}
	}
	buf := victim.buf
	victim.buf = nil
	victim.state = stateExternal
	return buf, nil
}

// Release unpins id, marking it dirty if the caller modified its content.
// A block stays dirty across repeated clean releases once made dirty,
// until a writeback clears it. Releasing an unpinned block is a contract
// violation.
func (s *Scheduler) Release(id SwappableBlockID, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return ErrUnknownBlock
	}
	if b.acquireCount == 0 {
		logAndAbort("blockscheduler: Release called on unpinned block %d", id)
		return nil
	}

	b.acquireCount--
	if !s.strategy.IsSimulating() && dirty {
		b.state = stateBoundDirty
	}
	s.strategy.OnRelease(id, dirty)
	return nil
}

// GetInternalBlock returns the buffer id currently holds, without
// acquiring it or touching external storage. Returns ErrNotBound if id
// isn't currently bound to a buffer.
func (s *Scheduler) GetInternalBlock(id SwappableBlockID) (*InternalBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return nil, ErrUnknownBlock
	}
	if !b.isBound() {
		return nil, ErrNotBound
	}
	return b.buf, nil
}

// Deinitialize writes back id if dirty, releases its buffer if bound, and
// frees its external storage, returning it to Uninitialized. Deinitializing
// a pinned block is a contract violation.
func (s *Scheduler) Deinitialize(id SwappableBlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return ErrUnknownBlock
	}
	if b.acquireCount > 0 {
		logAndAbort("blockscheduler: Deinitialize called on pinned block %d", id)
		return nil
	}
	if b.state == stateUninitialized {
		logAndAbort("blockscheduler: Deinitialize called on already-uninitialized block %d", id)
		return nil
	}

	if err := s.detach(b); err != nil {
		return err
	}
	if b.hasHandle {
		if err := s.externalMgr.DeleteBlock(b.handle); err != nil {
			return &SchedulerError{Op: "Deinitialize", Err: err}
		}
		b.hasHandle = false
	}
	b.state = stateUninitialized
	s.strategy.OnDeinitialize(id)
	return nil
}

// detach writes back b if dirty and returns its buffer to the pool,
// leaving it in the External state. No-op if b isn't bound. Caller holds
// s.mu.
func (s *Scheduler) detach(b *swappableBlock) error {
	if !b.isBound() {
		return nil
	}
	if b.state == stateBoundDirty {
		if err := s.ensureHandle(b); err != nil {
			return err
		}
		if err := s.externalMgr.Write(b.buf, b.handle).Wait(); err != nil {
			return &SchedulerError{Op: "detach", Err: ErrIOFailed}
		}
	}
	s.pool.Release(b.buf)
	b.buf = nil
	b.state = stateExternal
	return nil
}

// Free releases id's id slot permanently. Only an unpinned,
// Uninitialized block (deinitialized, or never initialized) may be
// freed; freeing a pinned or still-initialized block is a contract
// violation.
func (s *Scheduler) Free(id SwappableBlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return ErrUnknownBlock
	}
	if b.acquireCount > 0 {
		logAndAbort("blockscheduler: Free called on pinned block %d", id)
		return nil
	}
	if b.state != stateUninitialized {
		logAndAbort("blockscheduler: Free called on block %d in state %s, want uninitialized", id, b.state)
		return nil
	}

	s.strategy.OnFree(id)
	delete(s.blocks, id)
	return nil
}

// ExtractExternalBlock hands id's external handle to the caller, writing
// back any dirty content first, releasing its buffer, and transitioning
// the block to Uninitialized with no handle of its own anymore; the
// caller now owns the only reference to that storage. A
// block initialized with an invalid handle and never written back has no
// storage, and the invalid handle is what the caller gets. The scheduler
// keeps the id registered (marked extracted) so that Free still accepts
// it while a later Acquire, Initialize, Release, Deinitialize or second
// extraction aborts as a contract violation instead of reporting
// ErrUnknownBlock. Extracting an Uninitialized
// block is a contract violation — there is no external storage to hand
// out.
func (s *Scheduler) ExtractExternalBlock(id SwappableBlockID) (external.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	b, ok := s.blocks[id]
	if !ok {
		return external.Handle{}, ErrUnknownBlock
	}
	if b.state == stateUninitialized {
		logAndAbort("blockscheduler: ExtractExternalBlock called on uninitialized block %d", id)
		return external.Handle{}, nil
	}
	if b.acquireCount > 0 {
		logAndAbort("blockscheduler: ExtractExternalBlock called on pinned block %d", id)
		return external.Handle{}, nil
	}

	if err := s.detach(b); err != nil {
		return external.Handle{}, err
	}
	handle := b.handle
	b.handle = external.Handle{}
	b.state = stateUninitialized
	b.hasHandle = false
	b.extracted = true
	s.strategy.OnExtract(id)
	return handle, nil
}

// ExplicitTimestep advances the scheduler's logical clock by one and
// notifies the strategy, returning the new clock value. Strategies that
// don't track time ignore the notification.
func (s *Scheduler) ExplicitTimestep() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Inc()
	s.strategy.OnTimestep(now)
	return now
}

// IsSimulating reports whether the current strategy is Simulation.
func (s *Scheduler) IsSimulating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy.IsSimulating()
}

// GetPredictionSequence returns the trace recorded so far. Valid only
// while the current strategy is Simulation.
func (s *Scheduler) GetPredictionSequence() (PredictionTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.strategy.IsSimulating() {
		return nil, ErrNotSimulating
	}
	return s.strategy.PredictionSequence()
}

// SwitchAlgorithmTo drains the current strategy, replaces it with next,
// and returns the replaced strategy for inspection. The new strategy
// inherits the current resident set. Blocks that only ever existed as
// simulation phantoms fall back to Uninitialized — they never had a
// buffer or storage, and the upcoming replay re-runs their lifecycle for
// real. Switching while any block is pinned is a contract violation —
// the new strategy would otherwise inherit pin state it never observed
// the blocks entering.
func (s *Scheduler) SwitchAlgorithmTo(next Strategy) Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.blocks {
		if b.acquireCount > 0 {
			logAndAbort("blockscheduler: SwitchAlgorithmTo called with block %d still pinned", id)
			return nil
		}
	}

	s.strategy.Drain()
	for _, b := range s.blocks {
		if b.state == stateSimulating {
			b.state = stateUninitialized
		}
	}
	prev := s.strategy
	s.strategy = next
	logger.Infof("blockscheduler: switched strategy from %s to %s", prev.Name(), next.Name())
	return prev
}

// HandleOf resolves id's current external handle and whether the block is
// resident (bound to a buffer), for strategies deciding what to prefetch.
// It performs no locking of its own: strategy hooks run while the
// scheduler's lock is already held, and the single-threaded cooperative
// model means no one else calls it concurrently with an operation.
func (s *Scheduler) HandleOf(id SwappableBlockID) (handle external.Handle, resident bool, ok bool) {
	b, found := s.blocks[id]
	if !found || !b.hasHandle {
		return external.Handle{}, false, false
	}
	return b.handle, b.isBound(), true
}

// simulationSentinel is the buffer Acquire hands back while simulating.
// Its content is never meaningful — a simulation run never performs real
// I/O — so every instance shares this one allocation.
var simulationSentinel = &InternalBuffer{}
