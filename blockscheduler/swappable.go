package blockscheduler

import (
	"github.com/zhukovaskychina/foxxll-go/external"
)

// SwappableBlockID identifies a swappable block for the lifetime of its
// allocation. IDs are never reused while a block is live; Free invalidates
// the ID permanently.
type SwappableBlockID uint32

// blockState is the swappable block's position in its lifecycle:
// Uninitialized -> External -> {BoundClean, BoundDirty}, plus the phantom
// Simulating state a block sits in for the whole run of a simulation
// strategy.
type blockState uint8

const (
	stateUninitialized blockState = iota
	stateExternal
	stateBoundClean
	stateBoundDirty
	stateSimulating
)

func (s blockState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateExternal:
		return "external"
	case stateBoundClean:
		return "bound-clean"
	case stateBoundDirty:
		return "bound-dirty"
	case stateSimulating:
		return "simulating"
	default:
		return "unknown"
	}
}

// swappableBlock is the scheduler's private bookkeeping record for one
// block. Only the Scheduler mutates it; strategies only ever read it
// through the map SelectVictim is handed.
type swappableBlock struct {
	id    SwappableBlockID
	state blockState

	handle    external.Handle
	hasHandle bool

	buf *InternalBuffer

	acquireCount int

	// extracted marks a block whose external handle has been handed out
	// via ExtractExternalBlock; every further operation but Free on it is
	// a contract violation.
	extracted bool
}

func newSwappableBlock(id SwappableBlockID) *swappableBlock {
	return &swappableBlock{id: id, state: stateUninitialized}
}

func (b *swappableBlock) isBound() bool {
	return b.state == stateBoundClean || b.state == stateBoundDirty
}

func (b *swappableBlock) isPinned() bool {
	return b.acquireCount > 0
}

func (b *swappableBlock) isDirty() bool {
	return b.state == stateBoundDirty
}
