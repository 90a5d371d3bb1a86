package ops

import "sync/atomic"

// atomicCounter backs the 1-in-N deterministic sampling knobs: every call
// advances a shared counter so sampling decisions are stable and lock-free
// regardless of how many goroutines call Put/Get concurrently.
type atomicCounter struct {
	n atomic.Uint64
}

func (c *atomicCounter) next() uint64 {
	return c.n.Add(1)
}
