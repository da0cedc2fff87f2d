package blockscheduler

import (
	"sync"

	"github.com/zhukovaskychina/foxxll-go/external"
)

// SimulationStrategy never binds a block to a buffer: every operation is
// recorded as a PredictionEntry and the Scheduler hands back a sentinel,
// non-dereferenceable buffer instead of touching the pool. It exists
// purely to produce a PredictionTrace the two offline strategies consume.
type SimulationStrategy struct {
	mu    sync.Mutex
	trace PredictionTrace
	now   func() uint64
}

// NewSimulationStrategy builds a Simulation strategy whose recorded
// timestamps come from now, the Scheduler's logical clock reader.
func NewSimulationStrategy(now func() uint64) *SimulationStrategy {
	return &SimulationStrategy{now: now}
}

func (s *SimulationStrategy) Name() string       { return "simulation" }
func (s *SimulationStrategy) IsSimulating() bool { return true }

func (s *SimulationStrategy) record(id SwappableBlockID, op PredictionOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, PredictionEntry{Block: id, Op: op, Time: s.now()})
}

func (s *SimulationStrategy) OnAllocate(id SwappableBlockID)     { s.record(id, OpAllocate) }
func (s *SimulationStrategy) OnInitialize(id SwappableBlockID)   { s.record(id, OpInitialize) }
func (s *SimulationStrategy) OnDeinitialize(id SwappableBlockID) { s.record(id, OpDeinitialize) }
func (s *SimulationStrategy) OnFree(id SwappableBlockID)         { s.record(id, OpFree) }
func (s *SimulationStrategy) OnExtract(id SwappableBlockID)      { s.record(id, OpExtract) }
func (s *SimulationStrategy) OnTimestep(now uint64)              {}

func (s *SimulationStrategy) OnAcquire(id SwappableBlockID, hintDirty bool) {
	if hintDirty {
		s.record(id, OpAcquireDirty)
		return
	}
	s.record(id, OpAcquire)
}

func (s *SimulationStrategy) OnRelease(id SwappableBlockID, dirty bool) {
	if dirty {
		s.record(id, OpReleaseDirty)
		return
	}
	s.record(id, OpRelease)
}

// SelectVictim is never called while simulating — Acquire under a
// simulating strategy never touches the pool — but a defensive false
// return keeps this a total function rather than a panic.
func (s *SimulationStrategy) SelectVictim(blocks map[SwappableBlockID]*swappableBlock) (SwappableBlockID, bool) {
	return 0, false
}

func (s *SimulationStrategy) TakePrefetch(id SwappableBlockID) (*InternalBuffer, *external.Request, bool) {
	return nil, nil, false
}

func (s *SimulationStrategy) PredictionSequence() (PredictionTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(PredictionTrace, len(s.trace))
	copy(out, s.trace)
	return out, nil
}

func (s *SimulationStrategy) Drain() {}
