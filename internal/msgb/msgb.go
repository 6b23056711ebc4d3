package msgb

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfBuffers is returned when the pool has no free buffers left
	ErrOutOfBuffers = errors.New("out of message buffers")
	// ErrDoubleFree is returned when a buffer is released twice
	ErrDoubleFree = errors.New("message buffer already freed")
	// ErrNoRoom is returned when Put or Push would overflow the buffer
	ErrNoRoom = errors.New("message buffer too small")
)

// Msg is a message buffer with headroom in front of its data, modelled on
// the layer 2/3 message buffers exchanged with the baseband. Layer offsets
// are relative to the start of the data.
type Msg struct {
	Label string

	buf  []byte
	head int
	tail int

	L1H int
	L3H int

	pool  *Pool
	freed atomic.Bool
}

// Len returns the number of data bytes
func (m *Msg) Len() int {
	return m.tail - m.head
}

// Bytes returns the data bytes. The slice aliases the buffer.
func (m *Msg) Bytes() []byte {
	return m.buf[m.head:m.tail]
}

// Headroom returns the free space in front of the data
func (m *Msg) Headroom() int {
	return m.head
}

// Tailroom returns the free space after the data
func (m *Msg) Tailroom() int {
	return len(m.buf) - m.tail
}

// Put appends n bytes to the data and returns them for filling in
func (m *Msg) Put(n int) ([]byte, error) {
	if n > m.Tailroom() {
		return nil, fmt.Errorf("%w: put %d with tailroom %d", ErrNoRoom, n, m.Tailroom())
	}
	b := m.buf[m.tail : m.tail+n]
	m.tail += n
	clear(b)
	return b, nil
}

// Append copies data to the end of the message
func (m *Msg) Append(data []byte) error {
	b, err := m.Put(len(data))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// Push prepends n bytes of headroom to the data and returns them
func (m *Msg) Push(n int) ([]byte, error) {
	if n > m.head {
		return nil, fmt.Errorf("%w: push %d with headroom %d", ErrNoRoom, n, m.head)
	}
	m.head -= n
	return m.buf[m.head : m.head+n], nil
}

// Pull removes n bytes from the front of the data and returns them
func (m *Msg) Pull(n int) ([]byte, error) {
	if n > m.Len() {
		return nil, fmt.Errorf("%w: pull %d from %d bytes", ErrNoRoom, n, m.Len())
	}
	b := m.buf[m.head : m.head+n]
	m.head += n
	return b, nil
}

// Free returns the buffer to its pool. Each buffer may be freed once.
func (m *Msg) Free() error {
	if !m.freed.CompareAndSwap(false, true) {
		if m.pool != nil {
			m.pool.doubleFrees.Add(1)
		}
		return fmt.Errorf("%w: %s", ErrDoubleFree, m.Label)
	}
	if m.pool != nil {
		m.pool.release(m)
	}
	return nil
}

// Freed reports whether the buffer has been released
func (m *Msg) Freed() bool {
	return m.freed.Load()
}

// PoolStats is a point-in-time view of pool usage
type PoolStats struct {
	Capacity      int    `json:"capacity"`
	InUse         int    `json:"in_use"`
	Allocations   uint64 `json:"allocations"`
	AllocFailures uint64 `json:"alloc_failures"`
	DoubleFrees   uint64 `json:"double_frees"`
}

// Pool hands out a bounded number of message buffers. Exhaustion is
// reported to the caller instead of blocking.
type Pool struct {
	capacity int
	bufSize  int

	mu    sync.Mutex
	free  [][]byte
	inUse int

	allocations   atomic.Uint64
	allocFailures atomic.Uint64
	doubleFrees   atomic.Uint64
}

// NewPool creates a pool of capacity buffers of bufSize bytes each
func NewPool(capacity, bufSize int) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}
	if bufSize < 1 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", bufSize)
	}

	return &Pool{
		capacity: capacity,
		bufSize:  bufSize,
		free:     make([][]byte, 0, capacity),
	}, nil
}

// BufferSize returns the size of each buffer in the pool
func (p *Pool) BufferSize() int {
	return p.bufSize
}

// Alloc takes a buffer from the pool with headroom bytes reserved in front
func (p *Pool) Alloc(headroom int, label string) (*Msg, error) {
	if headroom < 0 || headroom > p.bufSize {
		return nil, fmt.Errorf("%w: headroom %d exceeds buffer size %d", ErrNoRoom, headroom, p.bufSize)
	}

	p.mu.Lock()
	if p.inUse >= p.capacity {
		p.mu.Unlock()
		p.allocFailures.Add(1)
		return nil, fmt.Errorf("%w: %d/%d in use (%s)", ErrOutOfBuffers, p.capacity, p.capacity, label)
	}
	p.inUse++
	var buf []byte
	if n := len(p.free); n > 0 {
		buf = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if buf == nil {
		buf = make([]byte, p.bufSize)
	}
	p.allocations.Add(1)

	return &Msg{
		Label: label,
		buf:   buf,
		head:  headroom,
		tail:  headroom,
		pool:  p,
	}, nil
}

// FromBytes allocates a buffer and copies data into it
func (p *Pool) FromBytes(data []byte, label string) (*Msg, error) {
	if len(data) > p.bufSize {
		return nil, fmt.Errorf("%w: %d byte message, buffer size %d", ErrNoRoom, len(data), p.bufSize)
	}
	m, err := p.Alloc(0, label)
	if err != nil {
		return nil, err
	}
	if err := m.Append(data); err != nil {
		m.Free()
		return nil, err
	}
	return m, nil
}

func (p *Pool) release(m *Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse--
	p.free = append(p.free, m.buf)
	m.buf = nil
	m.head, m.tail = 0, 0
}

// InUse returns the number of allocated buffers not yet freed
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Stats returns current pool usage counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Capacity:      p.capacity,
		InUse:         p.InUse(),
		Allocations:   p.allocations.Load(),
		AllocFailures: p.allocFailures.Load(),
		DoubleFrees:   p.doubleFrees.Load(),
	}
}
