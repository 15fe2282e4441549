package service

import "sync"

// BufferPool hands out reusable chunk buffers so concurrent transfers do not
// allocate a fresh chunk per item.
type BufferPool struct {
	sizes []int
	pools map[int]*sync.Pool
}

var (
	BufferSize1MB  = 1 * 1024 * 1024
	BufferSize5MB  = 5 * 1024 * 1024
	BufferSize16MB = 16 * 1024 * 1024
)

func NewBufferPool() *BufferPool {
	bp := &BufferPool{
		sizes: []int{BufferSize1MB, BufferSize5MB, BufferSize16MB},
		pools: make(map[int]*sync.Pool),
	}

	for _, size := range bp.sizes {
		bp.pools[size] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a buffer of exactly size bytes. Sizes above the largest bucket
// are allocated directly and dropped by Put.
func (bp *BufferPool) Get(size int) []byte {
	for _, bucket := range bp.sizes {
		if size <= bucket {
			bufPtr := bp.pools[bucket].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

func (bp *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)
	if pool, exists := bp.pools[capacity]; exists {
		buf = buf[:capacity]
		pool.Put(&buf)
	}
}
