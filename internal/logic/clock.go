package logic

import (
	"math"
	"time"
)

// Millis is a free-running 32-bit millisecond counter. It wraps after ~49.7 days,
// so values must only be compared through Reached, never with < or >.
type Millis uint32

// MaxPulse is the longest span Reached can order correctly. Longer pulses
// would wrap and expire on the next tick.
const MaxPulse = time.Duration(math.MaxInt32) * time.Millisecond

// MillisSince converts t into a counter value relative to start.
// The result is truncated to 32 bits, which is where the wrap comes from.
func MillisSince(start, t time.Time) Millis {
	return Millis(uint64(t.Sub(start) / time.Millisecond))
}

// Add returns m advanced by d, wrapping on overflow.
func (m Millis) Add(d time.Duration) Millis {
	return m + Millis(uint32(d/time.Millisecond))
}

// Reached reports whether m is at or past deadline.
// The signed difference keeps this correct across a wrap as long as the
// two values are less than ~24.8 days apart.
func (m Millis) Reached(deadline Millis) bool {
	return int32(m-deadline) >= 0
}
