package blockscheduler

import "github.com/zhukovaskychina/foxxll-go/external"

// OfflineLFDStrategy replays a previously recorded PredictionTrace and
// evicts whichever bound, unpinned block is used again furthest in the
// future (Belady's optimal replacement) — or never again, which wins
// outright. Every operation the Scheduler drives it through must match the
// trace's next entry exactly; a mismatch means the trace was recorded
// against a different sequence of operations than is being replayed now,
// which is a contract violation the strategy cannot recover from.
type OfflineLFDStrategy struct {
	cursor *TraceCursor
}

// NewOfflineLFDStrategy attaches trace. A nil or empty trace is a
// contract violation by the caller: the cursor reports itself exhausted
// on the first operation the strategy is driven through and aborts.
func NewOfflineLFDStrategy(trace PredictionTrace) *OfflineLFDStrategy {
	return &OfflineLFDStrategy{cursor: NewTraceCursor(trace)}
}

func (s *OfflineLFDStrategy) Name() string       { return "offline-lfd" }
func (s *OfflineLFDStrategy) IsSimulating() bool { return false }

func (s *OfflineLFDStrategy) expect(id SwappableBlockID, op PredictionOp) {
	entry, ok := s.cursor.Peek()
	if !ok {
		logAndAbort("offline-lfd: trace exhausted but block %d issued %s", id, op)
		return
	}
	if entry.Block != id || entry.Op != op {
		logAndAbort("offline-lfd: trace mismatch: expected block=%d op=%s, got block=%d op=%s",
			entry.Block, entry.Op, id, op)
		return
	}
	s.cursor.Advance()
}

func (s *OfflineLFDStrategy) OnAllocate(id SwappableBlockID)     { s.expect(id, OpAllocate) }
func (s *OfflineLFDStrategy) OnInitialize(id SwappableBlockID)   { s.expect(id, OpInitialize) }
func (s *OfflineLFDStrategy) OnDeinitialize(id SwappableBlockID) { s.expect(id, OpDeinitialize) }
func (s *OfflineLFDStrategy) OnFree(id SwappableBlockID)         { s.expect(id, OpFree) }
func (s *OfflineLFDStrategy) OnExtract(id SwappableBlockID)      { s.expect(id, OpExtract) }
func (s *OfflineLFDStrategy) OnTimestep(now uint64)              {}

func (s *OfflineLFDStrategy) OnAcquire(id SwappableBlockID, hintDirty bool) {
	op := OpAcquire
	if hintDirty {
		op = OpAcquireDirty
	}
	s.expect(id, op)
}

func (s *OfflineLFDStrategy) OnRelease(id SwappableBlockID, dirty bool) {
	op := OpRelease
	if dirty {
		op = OpReleaseDirty
	}
	s.expect(id, op)
}

// SelectVictim picks the bound, unpinned candidate whose next occurrence
// in the trace (from the cursor's current position onward) is furthest
// away; a candidate with no future occurrence at all is evicted first,
// lowest id winning among those so the choice is deterministic.
func (s *OfflineLFDStrategy) SelectVictim(blocks map[SwappableBlockID]*swappableBlock) (SwappableBlockID, bool) {
	var best, neverAgain SwappableBlockID
	bestPos := -1
	found, haveNeverAgain := false, false

	for id, b := range blocks {
		if !b.isBound() || b.isPinned() {
			continue
		}
		pos, ok := s.cursor.NextOccurrence(id)
		if !ok {
			if !haveNeverAgain || id < neverAgain {
				neverAgain, haveNeverAgain = id, true
			}
			continue
		}
		if !found || pos > bestPos {
			best, bestPos, found = id, pos, true
		}
	}

	if haveNeverAgain {
		return neverAgain, true
	}
	return best, found
}

func (s *OfflineLFDStrategy) TakePrefetch(id SwappableBlockID) (*InternalBuffer, *external.Request, bool) {
	return nil, nil, false
}

func (s *OfflineLFDStrategy) PredictionSequence() (PredictionTrace, error) {
	return nil, ErrNotSimulating
}

func (s *OfflineLFDStrategy) Drain() {}
