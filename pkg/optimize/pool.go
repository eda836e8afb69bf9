package optimize

import (
	"math/bits"
	"sync"
)

const (
	minClassShift = 10 // 1 KiB
	maxClassShift = 25 // 32 MiB
)

// BufferPool hands out byte slices from power-of-two size classes to cut
// allocations on the frame path. Requests above the largest class are
// allocated directly and never pooled.
type BufferPool struct {
	classes [maxClassShift - minClassShift + 1]sync.Pool
}

// NewBufferPool creates a new size-classed pool
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i := range p.classes {
		size := 1 << (i + minClassShift)
		p.classes[i].New = func() interface{} {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

var defaultPool = NewBufferPool()

// Default returns the process-wide buffer pool
func Default() *BufferPool {
	return defaultPool
}

func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns a slice of exactly n bytes. Contents are not cleared.
func (p *BufferPool) Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	idx := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	bp := p.classes[idx].Get().(*[]byte)
	return (*bp)[:n]
}

// Put returns a slice obtained from Get. Slices whose capacity does not
// match a size class are dropped.
func (p *BufferPool) Put(b []byte) {
	c := cap(b)
	if c < 1<<minClassShift || c&(c-1) != 0 {
		return
	}
	idx := classFor(c)
	if idx < 0 {
		return
	}
	b = b[:c]
	p.classes[idx].Put(&b)
}
