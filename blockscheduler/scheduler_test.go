package blockscheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/foxxll-go/external"
)

const testBlockBytes = 64

func newTestScheduler(t *testing.T, poolCapacity int) (*Scheduler, external.BlockManager) {
	mgr, err := external.NewFileBlockManager(t.TempDir(), 2, testBlockBytes, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	pool := NewBlockPool(poolCapacity, testBlockBytes)
	return NewScheduler(pool, mgr, external.Striping), mgr
}

// seededHandle allocates an external block and writes pattern into it
// directly through the block manager, the way a collaborator hands the
// scheduler pre-existing data to adopt.
func seededHandle(t *testing.T, mgr external.BlockManager, pattern func(i int) byte) external.Handle {
	t.Helper()
	h, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)
	buf := &InternalBuffer{Data: make([]byte, testBlockBytes)}
	for i := range buf.Data {
		buf.Data[i] = pattern(i)
	}
	require.NoError(t, mgr.Write(buf, h).Wait())
	return h
}

// TestSchedulerAdoptedHandleRoundTrip mirrors test_block_scheduler's
// test1(): prepare an external block holding a known pattern, adopt it
// via Initialize, and check Acquire sees the pattern — with a budget of a
// single buffer, so nothing can hide in cache.
func TestSchedulerAdoptedHandleRoundTrip(t *testing.T) {
	sched, mgr := newTestScheduler(t, 1)

	h := seededHandle(t, mgr, func(i int) byte { return byte(i) })

	id := sched.Allocate()
	require.False(t, sched.IsInitialized(id))
	require.NoError(t, sched.Initialize(id, h))
	require.True(t, sched.IsInitialized(id))

	buf, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf.Data {
		require.Equal(t, byte(i), buf.Data[i], "adopted external content at offset %d", i)
	}
	require.NoError(t, sched.Release(id, false))

	require.NoError(t, sched.Deinitialize(id))
	require.False(t, sched.IsInitialized(id))
	require.NoError(t, sched.Free(id))
}

// TestSchedulerDirtyWriteRoundTrip writes through the scheduler, releases
// dirty, and reacquires to see the written content.
func TestSchedulerDirtyWriteRoundTrip(t *testing.T) {
	sched, mgr := newTestScheduler(t, 4)

	h, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)

	id := sched.Allocate()
	require.NoError(t, sched.Initialize(id, h))

	buf, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf.Data {
		buf.Data[i] = byte(i)
	}
	require.NoError(t, sched.Release(id, true))

	buf2, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf2.Data {
		require.Equal(t, byte(i), buf2.Data[i], "pattern should survive release/reacquire at offset %d", i)
	}
	require.NoError(t, sched.Release(id, false))

	require.NoError(t, sched.Deinitialize(id))
	require.NoError(t, sched.Free(id))
}

// TestSchedulerAcquireUninitialized checks that acquiring a block that was
// never initialized yields a zeroed buffer with no I/O, initializes it,
// and that content written to it survives eviction via lazily allocated
// storage.
func TestSchedulerAcquireUninitialized(t *testing.T) {
	sched, mgr := newTestScheduler(t, 1)

	id := sched.Allocate()
	buf, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf.Data {
		require.Zero(t, buf.Data[i], "fresh block content at offset %d", i)
	}
	require.True(t, sched.IsInitialized(id), "acquiring an uninitialized block initializes it")

	buf.Data[0] = 0xAB
	require.NoError(t, sched.Release(id, true))

	// force id out of the single-buffer pool
	other := sched.Allocate()
	otherHandle, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)
	require.NoError(t, sched.Initialize(other, otherHandle))
	_, err = sched.Acquire(other)
	require.NoError(t, err)
	require.NoError(t, sched.Release(other, false))

	buf2, err := sched.Acquire(id)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf2.Data[0], "content should survive eviction through lazily allocated storage")
	require.NoError(t, sched.Release(id, false))
}

// TestSchedulerForcedEviction mirrors test_block_scheduler's test2(): five
// blocks competing for a three-buffer pool forces writeback and reload.
func TestSchedulerForcedEviction(t *testing.T) {
	sched, mgr := newTestScheduler(t, 3)

	const n = 5
	ids := make([]SwappableBlockID, n)
	for i := 0; i < n; i++ {
		ids[i] = sched.Allocate()
		h, err := mgr.NewBlock(external.Striping)
		require.NoError(t, err)
		require.NoError(t, sched.Initialize(ids[i], h))
	}

	for i, id := range ids {
		buf, err := sched.Acquire(id)
		require.NoError(t, err, "acquiring block %d", i)
		buf.Data[0] = byte(i + 1)
		require.NoError(t, sched.Release(id, true))
	}

	for _, i := range []int{3, 4, 2, 0, 1} {
		buf, err := sched.Acquire(ids[i])
		require.NoError(t, err, "reacquiring block %d after eviction pressure", i)
		require.Equal(t, byte(i+1), buf.Data[0], "block %d's content should have survived eviction", i)
		require.NoError(t, sched.Release(ids[i], false))
	}

	for _, id := range ids {
		require.NoError(t, sched.Deinitialize(id))
		require.NoError(t, sched.Free(id))
	}
}

func TestSchedulerAcquireBumpsAndReleaseUnpins(t *testing.T) {
	sched, mgr := newTestScheduler(t, 2)
	id := sched.Allocate()
	h, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)
	require.NoError(t, sched.Initialize(id, h))

	b1, err := sched.Acquire(id)
	require.NoError(t, err)
	b2, err := sched.Acquire(id)
	require.NoError(t, err)
	require.Same(t, b1, b2, "reacquiring a bound block returns the same buffer")

	require.NoError(t, sched.Release(id, false))
	require.NoError(t, sched.Release(id, false))
}

func TestSchedulerAcquireDirtySkipsRead(t *testing.T) {
	sched, mgr := newTestScheduler(t, 1)

	h := seededHandle(t, mgr, func(i int) byte { return 0xFF })
	id := sched.Allocate()
	require.NoError(t, sched.Initialize(id, h))

	buf, err := sched.AcquireDirty(id)
	require.NoError(t, err)
	for i := range buf.Data {
		require.Zero(t, buf.Data[i], "AcquireDirty must not load external content, offset %d", i)
		buf.Data[i] = byte(i) ^ 0x5A
	}
	require.NoError(t, sched.Release(id, true))

	buf2, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf2.Data {
		require.Equal(t, byte(i)^0x5A, buf2.Data[i])
	}
	require.NoError(t, sched.Release(id, false))
}

func TestSchedulerUnknownBlockErrors(t *testing.T) {
	sched, _ := newTestScheduler(t, 2)

	_, err := sched.Acquire(SwappableBlockID(999))
	require.True(t, IsUnknownBlock(err))

	err = sched.Release(SwappableBlockID(999), false)
	require.True(t, IsUnknownBlock(err))
}

func TestSchedulerGetInternalBlockRequiresBound(t *testing.T) {
	sched, mgr := newTestScheduler(t, 2)
	id := sched.Allocate()
	h, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)
	require.NoError(t, sched.Initialize(id, h))

	_, err = sched.GetInternalBlock(id)
	require.Equal(t, ErrNotBound, err)

	buf, err := sched.Acquire(id)
	require.NoError(t, err)

	got, err := sched.GetInternalBlock(id)
	require.NoError(t, err)
	require.Same(t, buf, got)
}

// TestSchedulerExtractReturnsAdoptedHandle checks the extraction identity:
// a handle donated via Initialize comes back unchanged from
// ExtractExternalBlock when nothing was modified.
func TestSchedulerExtractReturnsAdoptedHandle(t *testing.T) {
	sched, mgr := newTestScheduler(t, 2)

	h := seededHandle(t, mgr, func(i int) byte { return byte(i) })
	id := sched.Allocate()
	require.NoError(t, sched.Initialize(id, h))

	got, err := sched.ExtractExternalBlock(id)
	require.NoError(t, err)
	require.Equal(t, h, got, "unmodified extraction returns the same handle identity")
	require.False(t, sched.IsInitialized(id), "extraction leaves the block uninitialized")
}

// TestSchedulerExtractPreservesDirtyContent writes a pattern, releases
// dirty, extracts the handle, and reads the handle directly through the
// block manager to verify the writeback happened before the handover.
func TestSchedulerExtractPreservesDirtyContent(t *testing.T) {
	sched, mgr := newTestScheduler(t, 2)

	id := sched.Allocate()
	h, err := mgr.NewBlock(external.Striping)
	require.NoError(t, err)
	require.NoError(t, sched.Initialize(id, h))

	buf, err := sched.Acquire(id)
	require.NoError(t, err)
	for i := range buf.Data {
		buf.Data[i] = byte(testBlockBytes - i)
	}
	require.NoError(t, sched.Release(id, true))

	got, err := sched.ExtractExternalBlock(id)
	require.NoError(t, err)
	require.True(t, got.Valid())

	fresh := &InternalBuffer{Data: make([]byte, testBlockBytes)}
	require.NoError(t, mgr.Read(fresh, got).Wait())
	for i := range fresh.Data {
		require.Equal(t, byte(testBlockBytes-i), fresh.Data[i], "extracted storage content at offset %d", i)
	}
}

func TestSchedulerExplicitTimestepAdvancesClock(t *testing.T) {
	sched, _ := newTestScheduler(t, 2)
	first := sched.ExplicitTimestep()
	second := sched.ExplicitTimestep()
	require.Greater(t, second, first)
}

// TestSchedulerSimulationRecordsPredictionSequence runs the full phantom
// lifecycle under the simulation strategy — including a timestep, a
// reinitialize with an empty handle, and an extraction — and checks the
// recorded trace matches op for op with non-decreasing timestamps.
func TestSchedulerSimulationRecordsPredictionSequence(t *testing.T) {
	sched, _ := newTestScheduler(t, 2)
	old := sched.SwitchAlgorithmTo(NewSimulationStrategy(sched.Clock))
	require.IsType(t, &OnlineStrategy{}, old, "the initial strategy is handed back on switch")
	require.True(t, sched.IsSimulating())

	id := sched.Allocate()
	_, err := sched.Acquire(id)
	require.NoError(t, err)
	_, err = sched.Acquire(id)
	require.NoError(t, err)
	require.NoError(t, sched.Release(id, true))
	sched.ExplicitTimestep()
	require.NoError(t, sched.Release(id, false))
	require.NoError(t, sched.Deinitialize(id))
	require.NoError(t, sched.Initialize(id, external.Handle{}))
	_, err = sched.ExtractExternalBlock(id)
	require.NoError(t, err)
	require.NoError(t, sched.Free(id))

	trace, err := sched.GetPredictionSequence()
	require.NoError(t, err)

	wantOps := []PredictionOp{
		OpAllocate, OpAcquire, OpAcquire, OpReleaseDirty,
		OpRelease, OpDeinitialize, OpInitialize, OpExtract, OpFree,
	}
	require.Len(t, trace, len(wantOps))
	for i, op := range wantOps {
		require.Equal(t, op, trace[i].Op, "trace entry %d", i)
		require.Equal(t, id, trace[i].Block)
		if i > 0 {
			require.GreaterOrEqual(t, trace[i].Time, trace[i-1].Time, "time must not decrease at entry %d", i)
		}
	}
	require.Greater(t, trace[4].Time, trace[3].Time+1, "the explicit timestep adds a tick between the two releases")
}

func TestSchedulerGetPredictionSequenceRequiresSimulating(t *testing.T) {
	sched, _ := newTestScheduler(t, 2)
	_, err := sched.GetPredictionSequence()
	require.Equal(t, ErrNotSimulating, err)
}

// TestSchedulerOfflineReplayMatchesSimulation records a trace under
// simulation, then replays the identical operations through both offline
// strategies on fresh schedulers, with real buffer writes — the replay
// must raise no mismatch and the extracted content must match what was
// written.
func TestSchedulerOfflineReplayMatchesSimulation(t *testing.T) {
	record, _ := newTestScheduler(t, 2)
	record.SwitchAlgorithmTo(NewSimulationStrategy(record.Clock))

	id := record.Allocate()
	_, err := record.Acquire(id)
	require.NoError(t, err)
	require.NoError(t, record.Release(id, true))
	_, err = record.Acquire(id)
	require.NoError(t, err)
	require.NoError(t, record.Release(id, false))
	_, err = record.ExtractExternalBlock(id)
	require.NoError(t, err)
	require.NoError(t, record.Free(id))

	trace, err := record.GetPredictionSequence()
	require.NoError(t, err)

	replay := func(t *testing.T, sched *Scheduler, mgr external.BlockManager) {
		rid := sched.Allocate()
		buf, err := sched.Acquire(rid)
		require.NoError(t, err)
		for i := range buf.Data {
			buf.Data[i] = byte(i) + 1
		}
		require.NoError(t, sched.Release(rid, true))
		buf2, err := sched.Acquire(rid)
		require.NoError(t, err)
		for i := range buf2.Data {
			require.Equal(t, byte(i)+1, buf2.Data[i])
		}
		require.NoError(t, sched.Release(rid, false))

		h, err := sched.ExtractExternalBlock(rid)
		require.NoError(t, err)
		require.NoError(t, sched.Free(rid))

		fresh := &InternalBuffer{Data: make([]byte, testBlockBytes)}
		require.NoError(t, mgr.Read(fresh, h).Wait())
		for i := range fresh.Data {
			require.Equal(t, byte(i)+1, fresh.Data[i], "extracted content at offset %d", i)
		}
	}

	t.Run("OfflineLFD", func(t *testing.T) {
		sched, mgr := newTestScheduler(t, 2)
		sched.SwitchAlgorithmTo(NewOfflineLFDStrategy(trace))
		replay(t, sched, mgr)
	})

	t.Run("OfflineLRUPrefetch", func(t *testing.T) {
		sched, mgr := newTestScheduler(t, 2)
		sched.SwitchAlgorithmTo(NewOfflineLRUStrategy(trace, 4, sched.pool, mgr, sched.HandleOf))
		replay(t, sched, mgr)
	})
}

func TestSchedulerSwitchReturnsPreviousStrategy(t *testing.T) {
	sched, _ := newTestScheduler(t, 2)

	sim := NewSimulationStrategy(sched.Clock)
	old := sched.SwitchAlgorithmTo(sim)
	require.IsType(t, &OnlineStrategy{}, old)

	old = sched.SwitchAlgorithmTo(NewOnlineStrategy())
	require.Same(t, sim, old)
	require.False(t, sched.IsSimulating())
}
