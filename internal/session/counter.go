package session

import "sync/atomic"

// idCounter hands out session ids: 0, 1, 2, ...
//
// Safe for concurrent use. Registry only calls next under its lock, so
// ids are also issued in insertion order.
type idCounter struct {
	issued atomic.Uint64
}

// next returns the next id and advances the counter.
func (c *idCounter) next() uint64 {
	return c.issued.Add(1) - 1
}

// peek returns the id the next call to next will return.
func (c *idCounter) peek() uint64 {
	return c.issued.Load()
}
