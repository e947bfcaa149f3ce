// Package logic contains the pure relay actuation engine.
// This package has NO external dependencies (no GPIO, network, OS, or time.Sleep).
// Time is always injected as a Millis counter value.
package logic

import "time"

// Action is the kind of actuation a Command requests.
type Action string

const (
	ActionActivate   Action = "ACTIVATE"
	ActionDeactivate Action = "DEACTIVATE"
	ActionTrigger    Action = "TRIGGER"
)

// Polarity describes which raw line level energizes a relay.
type Polarity string

const (
	ActiveHigh Polarity = "active_high"
	ActiveLow  Polarity = "active_low"
)

// Level returns the raw line level for the given logical state.
func (p Polarity) Level(energized bool) bool {
	if p == ActiveLow {
		return !energized
	}
	return energized
}

// Phase is the actuation state of a single channel.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseEnergized    Phase = "ENERGIZED"
	PhasePulsePending Phase = "PULSE"
)

// Channel is one relay output. Immutable after boot.
type Channel struct {
	Index    int      // 1-based logical index
	Line     int      // physical output line (BCM offset on the gpio chip)
	Polarity Polarity // which level energizes the relay
}

// ChannelState is the mutable state of one channel.
type ChannelState struct {
	Index     int
	Energized bool
	// Deadline is only meaningful while Pending is set.
	Deadline Millis
	Pending  bool
}

// Phase reports the state-machine phase for the channel.
func (s ChannelState) Phase() Phase {
	switch {
	case s.Pending:
		return PhasePulsePending
	case s.Energized:
		return PhaseEnergized
	default:
		return PhaseIdle
	}
}

// Command is a decoded actuation request. It is consumed immediately and not retained.
type Command struct {
	Action  Action
	Channel int
	// Duration applies to ActionTrigger only.
	Duration time.Duration
}

// Drive tells the caller which level to put on a physical line.
type Drive struct {
	Channel   Channel
	Energized bool
	Level     bool // raw line level, polarity applied
	Changed   bool // Energized differs from the state before the call
	Phase     Phase
}
