package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Hostname      string        `json:"hostname,omitempty"`
	Channels      []ChannelJSON `json:"channels"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"counts"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ChannelJSON is one relay in the status output.
type ChannelJSON struct {
	Index     int    `json:"index"`
	Line      int    `json:"line"`
	Polarity  string `json:"polarity"`
	State     string `json:"state"`
	Energized bool   `json:"energized"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of engine and transport counters.
type CountsJSON struct {
	Activate    int `json:"activate"`
	Deactivate  int `json:"deactivate"`
	Trigger     int `json:"trigger"`
	Expired     int `json:"expired"`
	Ignored     int `json:"ignored"`
	Malformed   int `json:"malformed"`
	Dropped     int `json:"dropped"`
	WriteErrors int `json:"write_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface string   `json:"interface"`
	MAC       string   `json:"mac"`
	IPs       []string `json:"ips"`
}

// ConfigJSON is the JSON representation of node config.
type ConfigJSON struct {
	Mode          string `json:"mode"`
	TickMs        int64  `json:"tick_ms"`
	TriggerMs     int64  `json:"trigger_ms"`
	MomentaryMs   int64  `json:"momentary_ms"`
	HTTPTriggerMs int64  `json:"http_trigger_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	OSCListen     string `json:"osc_listen"`
	HTTPListen    string `json:"http_listen"`
	Broker        string `json:"broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, c := range snap.Channels {
		channels = append(channels, ChannelJSON{
			Index:     c.Index,
			Line:      c.Line,
			Polarity:  string(c.Polarity),
			State:     string(c.Phase),
			Energized: c.Energized,
		})
	}

	inner := StatusInner{
		Channels:      channels,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Activate:    snap.Counts.Activate,
			Deactivate:  snap.Counts.Deactivate,
			Trigger:     snap.Counts.Trigger,
			Expired:     snap.Counts.Expired,
			Ignored:     snap.Counts.Ignored,
			Malformed:   snap.Malformed,
			Dropped:     snap.Dropped,
			WriteErrors: snap.Counts.WriteErrors,
		},
		Config: ConfigJSON{
			Mode:          snap.Config.Mode,
			TickMs:        snap.Config.TickMs,
			TriggerMs:     snap.Config.TriggerMs,
			MomentaryMs:   snap.Config.MomentaryMs,
			HTTPTriggerMs: snap.Config.HTTPTriggerMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			OSCListen:     snap.Config.OSCListen,
			HTTPListen:    snap.Config.HTTPListen,
			Broker:        snap.Config.Broker,
		},
	}

	if snap.Network != nil {
		inner.Hostname = snap.Network.Hostname
		inner.Network = &NetworkJSON{
			Interface: snap.Network.Interface,
			MAC:       snap.Network.MAC,
			IPs:       snap.Network.IPs,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
