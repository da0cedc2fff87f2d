package blockscheduler

import (
	"container/list"

	"github.com/zhukovaskychina/foxxll-go/external"
)

// OnlineStrategy is the reactive default: on an eviction miss it prefers a
// clean block over a dirty one, and within a tier prefers the
// least-recently-released block, tie-breaking on the lowest block id.
type OnlineStrategy struct {
	released *list.List
	elem     map[SwappableBlockID]*list.Element
}

// NewOnlineStrategy constructs a fresh Online strategy with no history.
func NewOnlineStrategy() *OnlineStrategy {
	return &OnlineStrategy{
		released: list.New(),
		elem:     make(map[SwappableBlockID]*list.Element),
	}
}

func (s *OnlineStrategy) Name() string       { return "online" }
func (s *OnlineStrategy) IsSimulating() bool { return false }

func (s *OnlineStrategy) OnAllocate(id SwappableBlockID)     {}
func (s *OnlineStrategy) OnInitialize(id SwappableBlockID)   {}
func (s *OnlineStrategy) OnDeinitialize(id SwappableBlockID) {}
func (s *OnlineStrategy) OnExtract(id SwappableBlockID)      {}
func (s *OnlineStrategy) OnTimestep(now uint64)              {}

func (s *OnlineStrategy) OnAcquire(id SwappableBlockID, hintDirty bool) {
	if e, ok := s.elem[id]; ok {
		s.released.Remove(e)
		delete(s.elem, id)
	}
}

func (s *OnlineStrategy) OnRelease(id SwappableBlockID, dirty bool) {
	if e, ok := s.elem[id]; ok {
		s.released.Remove(e)
	}
	s.elem[id] = s.released.PushBack(id)
}

func (s *OnlineStrategy) OnFree(id SwappableBlockID) {
	if e, ok := s.elem[id]; ok {
		s.released.Remove(e)
		delete(s.elem, id)
	}
}

// SelectVictim prefers clean candidates over dirty ones; within a tier,
// least-recently-released wins. Blocks the strategy has no release record
// for — the resident set inherited across a strategy switch — count as
// released before anything it has seen, lowest id first. The released
// list's order already encodes recency among tracked blocks (earlier
// OnRelease call, earlier in list), so no separate sort is needed.
func (s *OnlineStrategy) SelectVictim(blocks map[SwappableBlockID]*swappableBlock) (SwappableBlockID, bool) {
	return selectVictimLRR(s.released, s.elem, blocks)
}

// selectVictimLRR is the shared clean-preferred least-recently-released
// scan used by both the online and the offline LRU-prefetch strategies.
func selectVictimLRR(released *list.List, elem map[SwappableBlockID]*list.Element, blocks map[SwappableBlockID]*swappableBlock) (SwappableBlockID, bool) {
	var cleanUntracked, dirtyUntracked SwappableBlockID
	haveCleanUntracked, haveDirtyUntracked := false, false
	for id, b := range blocks {
		if _, tracked := elem[id]; tracked || !b.isBound() || b.isPinned() {
			continue
		}
		if !b.isDirty() {
			if !haveCleanUntracked || id < cleanUntracked {
				cleanUntracked, haveCleanUntracked = id, true
			}
		} else if !haveDirtyUntracked || id < dirtyUntracked {
			dirtyUntracked, haveDirtyUntracked = id, true
		}
	}
	if haveCleanUntracked {
		return cleanUntracked, true
	}

	var dirtyTracked SwappableBlockID
	haveDirtyTracked := false
	for e := released.Front(); e != nil; e = e.Next() {
		id := e.Value.(SwappableBlockID)
		b, ok := blocks[id]
		if !ok || !b.isBound() || b.isPinned() {
			continue
		}
		if !b.isDirty() {
			return id, true
		}
		if !haveDirtyTracked {
			dirtyTracked = id
			haveDirtyTracked = true
		}
	}

	if haveDirtyUntracked {
		return dirtyUntracked, true
	}
	if haveDirtyTracked {
		return dirtyTracked, true
	}
	return 0, false
}

func (s *OnlineStrategy) TakePrefetch(id SwappableBlockID) (*InternalBuffer, *external.Request, bool) {
	return nil, nil, false
}

func (s *OnlineStrategy) PredictionSequence() (PredictionTrace, error) {
	return nil, ErrNotSimulating
}

func (s *OnlineStrategy) Drain() {}
