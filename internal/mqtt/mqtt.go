// Package mqtt publishes relay state and lifecycle events to a broker and
// accepts actuation commands from it, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/router"
)

// Source tags messages that arrived over MQTT.
const Source = "mqtt"

// Lifecycle event names carried on the system topic.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventOffline     = "OFFLINE"
	EventReconnected = "RECONNECTED"
)

// StateTopic is where the state of channel is published, retained.
func StateTopic(base string, channel int) string {
	return fmt.Sprintf("%s/relay/%d/state", base, channel)
}

// SystemTopic carries lifecycle events and the last will.
func SystemTopic(base string) string {
	return base + "/system"
}

// CommandFilter is the subscription that receives actuation commands.
func CommandFilter(base string) string {
	return base + "/cmd/#"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishState sends a relay state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishState(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Sink accepts decoded commands. relay.Inbox implements it.
type Sink interface {
	Post(msg router.Message) bool
}

// StateEvent is the new state of one relay.
type StateEvent struct {
	Timestamp time.Time
	Channel   int
	Phase     logic.Phase
	Energized bool
}

// StateFromDrive builds the event for a drive produced by the engine.
func StateFromDrive(d logic.Drive, ts time.Time) StateEvent {
	return StateEvent{Timestamp: ts, Channel: d.Channel.Index, Phase: d.Phase, Energized: d.Energized}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a state change.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the state change details.
type RelayPayload struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	State     string `json:"state"`
	Energized bool   `json:"energized"`
}

// FormatPayload creates the JSON payload for a state change.
func FormatPayload(event StateEvent) ([]byte, error) {
	payload := Payload{
		Relay: RelayPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Channel:   event.Channel,
			State:     string(event.Phase),
			Energized: event.Energized,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand turns a message received under CommandFilter(base) into a
// router message. The topic below "<base>/cmd" becomes the address and the
// payload holds whitespace separated integer arguments, so topic
// "<base>/cmd/relay/trigger" with payload "2 250" is the same request as
// the OSC message /relay/trigger 2 250.
func ParseCommand(base, topic string, payload []byte) (router.Message, error) {
	prefix := base + "/cmd"
	address := strings.TrimPrefix(topic, prefix)
	if address == topic || !strings.HasPrefix(address, "/") || len(address) < 2 {
		return router.Message{}, fmt.Errorf("topic %q is not below %s", topic, prefix)
	}

	words := strings.Fields(string(payload))
	args := make([]any, 0, len(words))
	for _, w := range words {
		n, err := strconv.ParseInt(w, 10, 32)
		if err != nil {
			return router.Message{}, fmt.Errorf("argument %q: %w", w, err)
		}
		args = append(args, int32(n))
	}
	return router.Message{Address: address, Args: args, Source: Source}, nil
}
