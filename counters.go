package mctext

import (
	"sync/atomic"
)

// Counters contains statistics about client operations.
// All fields are safe for concurrent access.
//
// Struct is optimized to fit within two cache lines.
//
// For Prometheus integration, expose these as:
//   - Counters: Gets, Stores, Deletes, Touches, Arithmetic, Errors
//   - Counter: GetHits (derive hit rate as GetHits/Gets)
//   - Counter: Faults (connections lost to transport or protocol failures)
type Counters struct {
	Gets       uint64 // Keys requested by get/gets operations
	GetHits    uint64 // Keys that were found
	Stores     uint64 // Total storage operations (set, add, replace, append, prepend, cas)
	CASMisses  uint64 // cas operations rejected with EXISTS
	Deletes    uint64 // Total Delete operations
	Touches    uint64 // Total Touch operations
	Arithmetic uint64 // Total Increment and Decrement operations
	Errors     uint64 // Total errors across all operations, not found excluded
	Faults     uint64 // Times the connection became faulted
	Connects   uint64 // Successful connections
	_          [6]uint64
}

// countersCollector provides internal methods for updating client counters.
// Not exported - client updates its own counters.
type countersCollector struct {
	counters *Counters
}

func newCountersCollector() *countersCollector {
	return &countersCollector{
		counters: &Counters{},
	}
}

func (c *countersCollector) recordGet(keys int, hits int) {
	atomic.AddUint64(&c.counters.Gets, uint64(keys))
	atomic.AddUint64(&c.counters.GetHits, uint64(hits))
}

func (c *countersCollector) recordStore() {
	atomic.AddUint64(&c.counters.Stores, 1)
}

func (c *countersCollector) recordCASMiss() {
	atomic.AddUint64(&c.counters.CASMisses, 1)
}

func (c *countersCollector) recordDelete() {
	atomic.AddUint64(&c.counters.Deletes, 1)
}

func (c *countersCollector) recordTouch() {
	atomic.AddUint64(&c.counters.Touches, 1)
}

func (c *countersCollector) recordArithmetic() {
	atomic.AddUint64(&c.counters.Arithmetic, 1)
}

func (c *countersCollector) recordError() {
	atomic.AddUint64(&c.counters.Errors, 1)
}

func (c *countersCollector) recordFault() {
	atomic.AddUint64(&c.counters.Faults, 1)
}

func (c *countersCollector) recordConnect() {
	atomic.AddUint64(&c.counters.Connects, 1)
}

func (c *countersCollector) snapshot() Counters {
	return Counters{
		Gets:       atomic.LoadUint64(&c.counters.Gets),
		GetHits:    atomic.LoadUint64(&c.counters.GetHits),
		Stores:     atomic.LoadUint64(&c.counters.Stores),
		CASMisses:  atomic.LoadUint64(&c.counters.CASMisses),
		Deletes:    atomic.LoadUint64(&c.counters.Deletes),
		Touches:    atomic.LoadUint64(&c.counters.Touches),
		Arithmetic: atomic.LoadUint64(&c.counters.Arithmetic),
		Errors:     atomic.LoadUint64(&c.counters.Errors),
		Faults:     atomic.LoadUint64(&c.counters.Faults),
		Connects:   atomic.LoadUint64(&c.counters.Connects),
	}
}
