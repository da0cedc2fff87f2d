package blockscheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boundBlock(id SwappableBlockID, state blockState) *swappableBlock {
	b := newSwappableBlock(id)
	b.state = state
	return b
}

func TestOnlineStrategyPrefersCleanOverDirty(t *testing.T) {
	s := NewOnlineStrategy()

	blocks := map[SwappableBlockID]*swappableBlock{
		1: boundBlock(1, stateBoundDirty),
		2: boundBlock(2, stateBoundClean),
	}
	s.OnRelease(1, true)
	s.OnRelease(2, false)

	victim, ok := s.SelectVictim(blocks)
	assert.True(t, ok)
	assert.Equal(t, SwappableBlockID(2), victim, "clean block should be preferred over dirty")
}

func TestOnlineStrategyLeastRecentlyReleased(t *testing.T) {
	s := NewOnlineStrategy()

	blocks := map[SwappableBlockID]*swappableBlock{
		1: boundBlock(1, stateBoundClean),
		2: boundBlock(2, stateBoundClean),
	}
	s.OnRelease(1, false)
	s.OnRelease(2, false)

	victim, ok := s.SelectVictim(blocks)
	assert.True(t, ok)
	assert.Equal(t, SwappableBlockID(1), victim, "block released first should be evicted first")
}

func TestOnlineStrategySkipsPinnedBlocks(t *testing.T) {
	s := NewOnlineStrategy()

	pinned := boundBlock(1, stateBoundClean)
	pinned.acquireCount = 1
	blocks := map[SwappableBlockID]*swappableBlock{
		1: pinned,
		2: boundBlock(2, stateBoundClean),
	}
	s.OnRelease(1, false)
	s.OnRelease(2, false)

	victim, ok := s.SelectVictim(blocks)
	assert.True(t, ok)
	assert.Equal(t, SwappableBlockID(2), victim, "pinned block must never be selected")
}

func TestOnlineStrategyNoCandidates(t *testing.T) {
	s := NewOnlineStrategy()
	_, ok := s.SelectVictim(map[SwappableBlockID]*swappableBlock{})
	assert.False(t, ok)
}

func TestOnlineStrategyReacquireRemovesFromEvictable(t *testing.T) {
	s := NewOnlineStrategy()
	reacquired := boundBlock(1, stateBoundClean)
	blocks := map[SwappableBlockID]*swappableBlock{
		1: reacquired,
	}
	s.OnRelease(1, false)
	s.OnAcquire(1, false)
	reacquired.acquireCount = 1

	_, ok := s.SelectVictim(blocks)
	assert.False(t, ok, "reacquired block should no longer be an eviction candidate")
}

func TestOnlineStrategyEvictsInheritedResidentBlocks(t *testing.T) {
	s := NewOnlineStrategy()

	// Bound blocks with no release history — the resident set a fresh
	// strategy inherits on a switch — count as released before anything
	// the strategy has seen, lowest id first.
	blocks := map[SwappableBlockID]*swappableBlock{
		4: boundBlock(4, stateBoundClean),
		7: boundBlock(7, stateBoundClean),
		9: boundBlock(9, stateBoundClean),
	}
	s.OnRelease(9, false)

	victim, ok := s.SelectVictim(blocks)
	assert.True(t, ok)
	assert.Equal(t, SwappableBlockID(4), victim, "inherited blocks are older than tracked ones; lowest id breaks the tie")
}
