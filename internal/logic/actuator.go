package logic

import "time"

// Actuator owns the per-channel state table and applies commands to it.
// It never touches hardware: every call returns the Drive values the caller
// must write to the output lines. Not safe for concurrent use; the daemon
// calls it from its single loop goroutine only.
type Actuator struct {
	channels *ChannelMap
	states   []ChannelState
}

// NewActuator creates an actuator with every channel Idle.
func NewActuator(channels *ChannelMap) *Actuator {
	states := make([]ChannelState, channels.Len())
	for i := range states {
		states[i].Index = i + 1
	}
	return &Actuator{channels: channels, states: states}
}

// Channels returns the channel map the actuator was built with.
func (a *Actuator) Channels() *ChannelMap {
	return a.channels
}

// Activate energizes the channel persistently and cancels any pending pulse.
func (a *Actuator) Activate(index int) Drive {
	ch := a.channels.Resolve(index)
	return a.set(ch, true, false, 0)
}

// Deactivate de-energizes the channel and cancels any pending pulse.
func (a *Actuator) Deactivate(index int) Drive {
	ch := a.channels.Resolve(index)
	return a.set(ch, false, false, 0)
}

// Trigger energizes the channel until now+d. A second Trigger before expiry
// replaces the deadline; pulses never stack. d is capped at MaxPulse.
func (a *Actuator) Trigger(index int, d time.Duration, now Millis) Drive {
	if d > MaxPulse {
		d = MaxPulse
	}
	ch := a.channels.Resolve(index)
	return a.set(ch, true, true, now.Add(d))
}

// Apply dispatches cmd to Activate, Deactivate or Trigger.
// Unknown actions leave state untouched and report the current drive.
func (a *Actuator) Apply(cmd Command, now Millis) Drive {
	switch cmd.Action {
	case ActionActivate:
		return a.Activate(cmd.Channel)
	case ActionDeactivate:
		return a.Deactivate(cmd.Channel)
	case ActionTrigger:
		return a.Trigger(cmd.Channel, cmd.Duration, now)
	default:
		ch := a.channels.Resolve(cmd.Channel)
		return a.drive(ch, a.states[ch.Index-1], false)
	}
}

// Tick expires every pending pulse whose deadline has been reached and
// returns the drives for the channels it de-energized, in index order.
func (a *Actuator) Tick(now Millis) []Drive {
	var drives []Drive
	for i := range a.states {
		s := &a.states[i]
		if !s.Pending || !now.Reached(s.Deadline) {
			continue
		}
		s.Energized = false
		s.Pending = false
		s.Deadline = 0
		drives = append(drives, a.drive(a.channels.channels[i], *s, true))
	}
	return drives
}

// Reset forces every channel Idle and returns a drive for each of them,
// whether or not it changed. Used at boot and on shutdown.
func (a *Actuator) Reset() []Drive {
	drives := make([]Drive, 0, len(a.states))
	for i, ch := range a.channels.channels {
		changed := a.states[i].Energized
		a.states[i] = ChannelState{Index: ch.Index}
		drives = append(drives, a.drive(ch, a.states[i], changed))
	}
	return drives
}

// State returns the state of the channel index resolves to.
func (a *Actuator) State(index int) ChannelState {
	ch := a.channels.Resolve(index)
	return a.states[ch.Index-1]
}

// States returns a copy of all channel states in index order.
func (a *Actuator) States() []ChannelState {
	out := make([]ChannelState, len(a.states))
	copy(out, a.states)
	return out
}

func (a *Actuator) set(ch Channel, energized, pending bool, deadline Millis) Drive {
	s := &a.states[ch.Index-1]
	changed := s.Energized != energized
	s.Energized = energized
	s.Pending = pending
	s.Deadline = 0
	if pending {
		s.Deadline = deadline
	}
	return a.drive(ch, *s, changed)
}

func (a *Actuator) drive(ch Channel, s ChannelState, changed bool) Drive {
	return Drive{
		Channel:   ch,
		Energized: s.Energized,
		Level:     ch.Polarity.Level(s.Energized),
		Changed:   changed,
		Phase:     s.Phase(),
	}
}
