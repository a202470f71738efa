// Package bufpool implements the rdp package's [rdp.Allocator] on top of a
// tiered sync.Pool, the way tcp/listener.go recycles *tcp.Conn values
// through a pool interface rather than allocating fresh ones per
// connection. No third-party buffer-pool library fits this role; see
// DESIGN.md.
package bufpool

import "sync"

// tiers are the bucket sizes buffers are rounded up to, chosen to cover a
// bare header, a SYN/EACK control segment, and a handful of small payload
// sizes typical of the resource-constrained peers this protocol targets.
var tiers = [...]int{8, 32, 128, 512, 2048}

// Pool implements rdp.Allocator with a fixed set of size-tiered sync.Pools.
// Requests larger than the largest tier fall back to a plain allocation
// that Free simply drops.
type Pool struct {
	pools [len(tiers)]sync.Pool
}

// New returns a ready-to-use Pool.
func New() *Pool {
	p := &Pool{}
	for i, sz := range tiers {
		sz := sz
		p.pools[i].New = func() any { return make([]byte, sz) }
	}
	return p
}

func tierFor(size int) int {
	for i, sz := range tiers {
		if size <= sz {
			return i
		}
	}
	return -1
}

// Alloc implements rdp.Allocator.
func (p *Pool) Alloc(size int) []byte {
	if size < 0 {
		return nil
	}
	i := tierFor(size)
	if i < 0 {
		return make([]byte, size)
	}
	buf := p.pools[i].Get().([]byte)
	return buf[:0]
}

// Free implements rdp.Allocator.
func (p *Pool) Free(buf []byte) {
	i := tierFor(cap(buf))
	if i < 0 || cap(buf) != tiers[i] {
		return // not one of ours (oversized allocation), let the GC reclaim it.
	}
	p.pools[i].Put(buf[:cap(buf)])
}
