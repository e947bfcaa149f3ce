package logic

import "time"

// Blinker drives the status LED: once per period it lights for a single
// step and goes dark again on the next one.
type Blinker struct {
	period  time.Duration
	next    Millis
	lit     bool
	started bool
}

// NewBlinker creates a Blinker with the given period.
func NewBlinker(period time.Duration) *Blinker {
	return &Blinker{period: period}
}

// Step advances the blinker to now. It returns whether the LED should be lit
// and whether that differs from the previous step.
func (b *Blinker) Step(now Millis) (lit, changed bool) {
	if !b.started {
		b.started = true
		b.next = now
	}
	if b.lit {
		b.lit = false
		return false, true
	}
	if !now.Reached(b.next) {
		return false, false
	}
	b.lit = true
	b.next = now.Add(b.period)
	return true, true
}
