// Package status provides a thread-safe status tracker for the relay node.
// It is written by the run loop and the transports and read by HTTP handlers
// and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/relay"
)

// NetworkInfo describes the interface the node is reachable on.
type NetworkInfo struct {
	Hostname  string
	Interface string
	MAC       string
	IPs       []string
}

// Config contains node configuration for display.
type Config struct {
	Mode          string
	TickMs        int64
	TriggerMs     int64
	MomentaryMs   int64
	HTTPTriggerMs int64
	HeartbeatMs   int64
	OSCListen     string
	HTTPListen    string
	Broker        string
}

// Channel is the display view of one relay.
type Channel struct {
	Index     int
	Line      int
	Polarity  logic.Polarity
	Phase     logic.Phase
	Energized bool
}

// Snapshot is a point-in-time view of node state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Channels      []Channel
	Counts        relay.Counts
	Malformed     int
	Dropped       int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable node state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update replaces channel states and engine counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(channels []logic.Channel, states []logic.ChannelState, counts relay.Counts) {
	view := make([]Channel, 0, len(channels))
	for i, ch := range channels {
		c := Channel{Index: ch.Index, Line: ch.Line, Polarity: ch.Polarity, Phase: logic.PhaseIdle}
		if i < len(states) {
			c.Phase = states[i].Phase()
			c.Energized = states[i].Energized
		}
		view = append(view, c)
	}

	t.mu.Lock()
	t.snap.Channels = view
	t.snap.Counts = counts
	t.mu.Unlock()
}

// IncMalformed counts a datagram that could not be decoded.
func (t *Tracker) IncMalformed() {
	t.mu.Lock()
	t.snap.Malformed++
	t.mu.Unlock()
}

// IncDropped counts a message lost because the inbox was full.
func (t *Tracker) IncDropped() {
	t.mu.Lock()
	t.snap.Dropped++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the node state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]Channel(nil), t.snap.Channels...)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
