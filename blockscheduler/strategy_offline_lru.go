package blockscheduler

import (
	"container/list"
	"sync"

	gxsync "github.com/dubbogo/gost/sync"

	"github.com/zhukovaskychina/foxxll-go/external"
)

// HandleLookup resolves a swappable block's current external handle and
// whether the block is currently resident (bound to a buffer), so the
// prefetch strategy can decide what is worth reading ahead. It is called
// from inside strategy hooks, where the scheduler's lock is already held.
type HandleLookup func(id SwappableBlockID) (handle external.Handle, resident bool, ok bool)

// prefetchEntry reserves buf for id's speculative read. req is set by the
// task-pool worker; ready is closed once it is, so a consumer never races
// the dispatch.
type prefetchEntry struct {
	buf   *InternalBuffer
	req   *external.Request
	ready chan struct{}
}

// OfflineLRUStrategy replays a recorded trace like OfflineLFDStrategy, but
// additionally looks a fixed window ahead on every acquire and
// opportunistically prefetches blocks it expects to need soon: if the
// pool happens to have a free buffer, it hands that buffer to a
// dubbogo/gost task-pool worker that reads the block's external storage
// into it ahead of time. Eviction among the window's resident blocks
// falls back to least-recently-released, same as OnlineStrategy, since
// that is the next best thing to the optimal lookahead the caller didn't
// ask this strategy to do (that's OfflineLFDStrategy's job).
type OfflineLRUStrategy struct {
	cursor     *TraceCursor
	windowSize int

	pool        *BlockPool
	externalMgr external.BlockManager
	handleOf    HandleLookup
	tasks       gxsync.GenericTaskPool

	mu        sync.Mutex
	prefetch  map[SwappableBlockID]*prefetchEntry
	released  *list.List
	releaseEl map[SwappableBlockID]*list.Element
}

// NewOfflineLRUStrategy attaches trace and the collaborators prefetching
// needs: the shared buffer pool, the external block manager, and a
// lookup from block id to its current handle. windowSize bounds how many
// upcoming trace entries it considers prefetch candidates.
func NewOfflineLRUStrategy(trace PredictionTrace, windowSize int, pool *BlockPool, mgr external.BlockManager, handleOf HandleLookup) *OfflineLRUStrategy {
	if windowSize < 1 {
		windowSize = 4
	}
	return &OfflineLRUStrategy{
		cursor:      NewTraceCursor(trace),
		windowSize:  windowSize,
		pool:        pool,
		externalMgr: mgr,
		handleOf:    handleOf,
		tasks:       gxsync.NewTaskPoolSimple(0),
		prefetch:    make(map[SwappableBlockID]*prefetchEntry),
		released:    list.New(),
		releaseEl:   make(map[SwappableBlockID]*list.Element),
	}
}

func (s *OfflineLRUStrategy) Name() string       { return "offline-lru-prefetch" }
func (s *OfflineLRUStrategy) IsSimulating() bool { return false }

func (s *OfflineLRUStrategy) expect(id SwappableBlockID, op PredictionOp) {
	entry, ok := s.cursor.Peek()
	if !ok {
		logAndAbort("offline-lru-prefetch: trace exhausted but block %d issued %s", id, op)
		return
	}
	if entry.Block != id || entry.Op != op {
		logAndAbort("offline-lru-prefetch: trace mismatch: expected block=%d op=%s, got block=%d op=%s",
			entry.Block, entry.Op, id, op)
		return
	}
	s.cursor.Advance()
}

func (s *OfflineLRUStrategy) OnAllocate(id SwappableBlockID)     { s.expect(id, OpAllocate) }
func (s *OfflineLRUStrategy) OnInitialize(id SwappableBlockID)   { s.expect(id, OpInitialize) }
func (s *OfflineLRUStrategy) OnDeinitialize(id SwappableBlockID) { s.expect(id, OpDeinitialize) }
func (s *OfflineLRUStrategy) OnFree(id SwappableBlockID)         { s.expect(id, OpFree) }
func (s *OfflineLRUStrategy) OnExtract(id SwappableBlockID)      { s.expect(id, OpExtract) }
func (s *OfflineLRUStrategy) OnTimestep(now uint64)              {}

func (s *OfflineLRUStrategy) OnAcquire(id SwappableBlockID, hintDirty bool) {
	op := OpAcquire
	if hintDirty {
		op = OpAcquireDirty
	}
	s.expect(id, op)

	s.mu.Lock()
	if e, ok := s.releaseEl[id]; ok {
		s.released.Remove(e)
		delete(s.releaseEl, id)
	}
	s.mu.Unlock()

	s.prefetchAhead()
}

func (s *OfflineLRUStrategy) OnRelease(id SwappableBlockID, dirty bool) {
	op := OpRelease
	if dirty {
		op = OpReleaseDirty
	}
	s.expect(id, op)

	s.mu.Lock()
	if e, ok := s.releaseEl[id]; ok {
		s.released.Remove(e)
	}
	s.releaseEl[id] = s.released.PushBack(id)
	s.mu.Unlock()
}

// prefetchAhead scans the next windowSize trace entries past the cursor
// for upcoming acquires and, for each distinct non-resident block not
// already being prefetched, opportunistically claims a free buffer and
// dispatches a read for it. It never evicts a resident block to make
// room — a free buffer is required, or the block is simply not prefetched
// this round. AcquireDirty entries are not candidates: the replayer
// promised not to read that content.
func (s *OfflineLRUStrategy) prefetchAhead() {
	seen := make(map[SwappableBlockID]bool)
	for i := 0; i < s.windowSize; i++ {
		pos := s.cursor.pos + i
		if pos >= len(s.cursor.trace) {
			break
		}
		entry := s.cursor.trace[pos]
		if entry.Op != OpAcquire || seen[entry.Block] {
			continue
		}
		seen[entry.Block] = true
		s.tryPrefetch(entry.Block)
	}
}

// tryPrefetch skips blocks that are already resident — their content is
// in memory, so the upcoming acquire won't read — and blocks with no
// storage, whose zero-fill is cheaper to produce synchronously than to
// prefetch.
func (s *OfflineLRUStrategy) tryPrefetch(id SwappableBlockID) {
	s.mu.Lock()
	if _, already := s.prefetch[id]; already {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	handle, resident, ok := s.handleOf(id)
	if !ok || !handle.Valid() || resident {
		return
	}
	buf, ok := s.pool.Acquire()
	if !ok {
		return
	}

	e := &prefetchEntry{buf: buf, ready: make(chan struct{})}
	s.mu.Lock()
	s.prefetch[id] = e
	s.mu.Unlock()

	s.tasks.AddTask(func() {
		e.req = s.externalMgr.Read(buf, handle)
		close(e.ready)
	})
}

// SelectVictim is consulted only when an acquire misses and prefetching
// left no free buffer either; it falls back to the same clean-preferred
// least-recently-released scan OnlineStrategy uses.
func (s *OfflineLRUStrategy) SelectVictim(blocks map[SwappableBlockID]*swappableBlock) (SwappableBlockID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return selectVictimLRR(s.released, s.releaseEl, blocks)
}

// TakePrefetch consumes the prefetch issued for id, if any, waiting out
// the short dispatch window between the reservation and the worker
// actually issuing the read.
func (s *OfflineLRUStrategy) TakePrefetch(id SwappableBlockID) (*InternalBuffer, *external.Request, bool) {
	s.mu.Lock()
	e, ok := s.prefetch[id]
	if ok {
		delete(s.prefetch, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	<-e.ready
	return e.buf, e.req, true
}

func (s *OfflineLRUStrategy) PredictionSequence() (PredictionTrace, error) {
	return nil, ErrNotSimulating
}

// Drain waits for every outstanding prefetch to finish and returns any
// buffers nobody claimed back to the pool, so a strategy swap never
// leaves a buffer double-owned.
func (s *OfflineLRUStrategy) Drain() {
	s.mu.Lock()
	pending := make([]*prefetchEntry, 0, len(s.prefetch))
	for id, e := range s.prefetch {
		pending = append(pending, e)
		delete(s.prefetch, id)
	}
	s.mu.Unlock()

	for _, e := range pending {
		<-e.ready
		_ = e.req.Wait()
		s.pool.Release(e.buf)
	}
	s.tasks.Close()
}
