package duplication

import "sync"

// bufferPool pools frame buffers for a single size. Streaming sessions use a
// consistent resolution; a size change starts a fresh pool.
type bufferPool struct {
	mu   sync.Mutex
	pool *sync.Pool
	size int
}

func (p *bufferPool) get(size int) []byte {
	p.mu.Lock()
	if p.pool == nil || p.size != size {
		p.size = size
		p.pool = &sync.Pool{}
	}
	pool := p.pool
	p.mu.Unlock()

	if v := pool.Get(); v != nil {
		return *(v.(*[]byte))
	}
	return make([]byte, size)
}

func (p *bufferPool) put(buf []byte) {
	p.mu.Lock()
	pool := p.pool
	match := pool != nil && p.size == len(buf)
	p.mu.Unlock()
	if match {
		pool.Put(&buf)
	}
}

var frameBuffers bufferPool
