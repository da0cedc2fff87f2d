package external

import "fmt"

// AllocatorStrategy selects how a new block is placed across the backing
// files — striping (round-robin) or randomized placement.
type AllocatorStrategy int

const (
	Striping AllocatorStrategy = iota
	Randomized
)

func (s AllocatorStrategy) String() string {
	switch s {
	case Striping:
		return "striping"
	case Randomized:
		return "randomized"
	default:
		return fmt.Sprintf("AllocatorStrategy(%d)", int(s))
	}
}

// ParseAllocatorStrategy maps a config string onto an AllocatorStrategy,
// defaulting to Striping for anything unrecognized.
func ParseAllocatorStrategy(s string) AllocatorStrategy {
	switch s {
	case "randomized":
		return Randomized
	default:
		return Striping
	}
}

// Handle is an opaque reference to a fixed-size region on secondary
// storage, allocated and freed by the external block manager. It carries
// no payload itself — the scheduler never reads the file index or offset
// directly, only passes the handle back to the manager.
type Handle struct {
	fileIndex int
	offset    int64
	valid     bool
}

// Valid reports whether this handle was issued by NewBlock. It stays true
// after DeleteBlock returns the slot to the free list.
func (h Handle) Valid() bool { return h.valid }

func (h Handle) String() string {
	if !h.valid {
		return "Handle(invalid)"
	}
	return fmt.Sprintf("Handle(file=%d,offset=%d)", h.fileIndex, h.offset)
}
