package bus

// Counters is the key-keyed increment/read/reset/snapshot map described in
// spec §6. It's backed by FastMap so increments from many channels'
// dispatch goroutines don't serialize on a single mutex.
//
// Keys emitted by a Channel are "<name>_delivered", "<name>_dead_lettered",
// "<name>_nacked", "<name>_timed_out", "<name>_throttled". Registry adds
// "<name>_published" on top.
type Counters struct {
	m *FastMap[int64]
}

func NewCounters() *Counters {
	return &Counters{m: NewFastMap[int64]()}
}

// Incr increments key by delta (usually 1) and returns the new value.
func (c *Counters) Incr(key string, delta int64) int64 {
	return c.m.Update(key, func(v int64) int64 { return v + delta })
}

// Get returns the current value of key, or 0 if it was never incremented.
func (c *Counters) Get(key string) int64 {
	v, _ := c.m.Get(key)
	return v
}

// Reset sets key back to 0.
func (c *Counters) Reset(key string) {
	c.m.Set(key, 0)
}

// Snapshot returns every counter's current value, point-in-time.
func (c *Counters) Snapshot() map[string]int64 {
	return c.m.Snapshot()
}
