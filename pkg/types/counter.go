package types

import "sync/atomic"

// Counter is the shared tally of processed keys. Workers add once per batch;
// readers may observe a value that is behind by up to one batch per worker.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a zeroed counter
func NewCounter() *Counter {
	return &Counter{}
}

// Add increments the counter by n
func (c *Counter) Add(n uint64) {
	c.n.Add(n)
}

// Load returns the current value
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
