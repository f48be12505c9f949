package tensor

import "sync/atomic"

// Allocator acquires and releases raw byte buffers for tensors.
//
// Allocate(0) returns nil. Deallocate must be given the same size that was
// passed to Allocate; a nil buffer is a no-op.
type Allocator interface {
	Allocate(n int) []byte
	Deallocate(buf []byte, n int)
}

// CPUAllocator allocates buffers from the Go heap.
type CPUAllocator struct{}

var _ Allocator = CPUAllocator{}

// Allocate returns a zeroed buffer of exactly n bytes.
func (CPUAllocator) Allocate(n int) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}

// Deallocate drops the buffer; the garbage collector reclaims it.
func (CPUAllocator) Deallocate(_ []byte, _ int) {}

// DefaultAllocator is shared by tensors that are not given an allocator explicitly.
var DefaultAllocator Allocator = CPUAllocator{}

// CountingAllocator wraps another allocator and tracks live buffers.
type CountingAllocator struct {
	inner       Allocator
	allocations atomic.Int64
	live        atomic.Int64
	liveBytes   atomic.Int64
}

// NewCountingAllocator wraps inner, or the CPU allocator when inner is nil.
func NewCountingAllocator(inner Allocator) *CountingAllocator {
	if inner == nil {
		inner = CPUAllocator{}
	}
	return &CountingAllocator{inner: inner}
}

// Allocate forwards to the wrapped allocator and records non-empty buffers.
func (c *CountingAllocator) Allocate(n int) []byte {
	buf := c.inner.Allocate(n)
	if buf != nil {
		c.allocations.Add(1)
		c.live.Add(1)
		c.liveBytes.Add(int64(n))
	}
	return buf
}

// Deallocate forwards to the wrapped allocator.
func (c *CountingAllocator) Deallocate(buf []byte, n int) {
	if buf == nil {
		return
	}
	c.live.Add(-1)
	c.liveBytes.Add(-int64(n))
	c.inner.Deallocate(buf, n)
}

// Allocations returns how many non-empty buffers were ever handed out.
func (c *CountingAllocator) Allocations() int64 { return c.allocations.Load() }

// Live returns the number of buffers not yet deallocated.
func (c *CountingAllocator) Live() int64 { return c.live.Load() }

// LiveBytes returns the size of all buffers not yet deallocated.
func (c *CountingAllocator) LiveBytes() int64 { return c.liveBytes.Load() }
