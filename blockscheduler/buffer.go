package blockscheduler

import "sync"

// InternalBuffer is a fixed-size region of process memory that a bound
// swappable block's payload lives in. It satisfies external.Buffer so the
// block manager can read/write it directly.
type InternalBuffer struct {
	Data []byte
}

// Bytes implements external.Buffer.
func (b *InternalBuffer) Bytes() []byte {
	return b.Data
}

// BlockPool is the fixed-capacity free list of InternalBuffers the
// scheduler draws from: a bounded set of preallocated slots handed out
// and returned, never grown past its initial capacity.
type BlockPool struct {
	mu         sync.Mutex
	all        []*InternalBuffer
	free       []*InternalBuffer
	blockBytes int
}

// NewBlockPool preallocates capacity buffers of blockBytes each.
func NewBlockPool(capacity int, blockBytes int) *BlockPool {
	all := make([]*InternalBuffer, capacity)
	free := make([]*InternalBuffer, capacity)
	for i := 0; i < capacity; i++ {
		buf := &InternalBuffer{Data: make([]byte, blockBytes)}
		all[i] = buf
		free[i] = buf
	}
	return &BlockPool{all: all, free: free, blockBytes: blockBytes}
}

// Acquire hands out a free buffer. ok is false when the pool is exhausted.
func (p *BlockPool) Acquire() (buf *InternalBuffer, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	n := len(p.free) - 1
	buf = p.free[n]
	p.free = p.free[:n]
	return buf, true
}

// Release returns a buffer to the free list.
func (p *BlockPool) Release(buf *InternalBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
}

// BlockBytes is the size of each buffer in the pool.
func (p *BlockPool) BlockBytes() int {
	return p.blockBytes
}

// Capacity is the total number of buffers the pool was built with.
func (p *BlockPool) Capacity() int {
	return len(p.all)
}

// Available is the number of buffers currently free.
func (p *BlockPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
