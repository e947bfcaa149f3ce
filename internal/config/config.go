// Package config loads the relay-node settings file.
//
// Settings are fixed for the life of the process. A profile selects the
// defaults for one of the product variants; anything set in the file
// overrides them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/relay-node/internal/gpio"
	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/relay"
	"github.com/sweeney/relay-node/internal/router"
)

// Profiles.
const (
	// ProfileMulti is the multi-channel board: 100 ms triggers, non-blocking.
	ProfileMulti = "multi"
	// ProfileMomentary is the single-channel momentary switch: 500 ms
	// pulses that hold the loop for their whole length.
	ProfileMomentary = "momentary"
	// ProfileTimeout is the single-relay legacy board: 1000 ms triggers
	// over OSC, 100 ms over HTTP.
	ProfileTimeout = "timeout"
)

const (
	// DefaultConfigFilename is used when no --config is given.
	DefaultConfigFilename = "relay-node.yaml"

	// OSCPort is the fixed datagram control port.
	OSCPort = 53000

	// DefaultMaxPulse is the non-blocking pulse limit when pulse.max is unset.
	DefaultMaxPulse = time.Minute
)

var (
	errNameRequired     = errors.New("device.name must be set")
	errNoChannels       = errors.New("relays.channels must list at least one channel")
	errTickRequired     = errors.New("tick must be positive")
	errTriggerRequired  = errors.New("pulse.trigger must be positive")
	errOSCListenMissing = errors.New("osc.listen must be set")
)

// Config is the root of the settings file.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Profile   string          `yaml:"profile"`
	Relays    RelaysConfig    `yaml:"relays"`
	Pulse     PulseConfig     `yaml:"pulse"`
	Tick      time.Duration   `yaml:"tick"`
	OSC       OSCConfig       `yaml:"osc"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	StatusLED StatusLEDConfig `yaml:"status_led"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig names the device on the network.
type DeviceConfig struct {
	// Name is the hostname prefix; the hardware id is appended to it.
	Name string `yaml:"name"`
	// HardwareID overrides the id derived from the network interface.
	HardwareID string `yaml:"hardware_id,omitempty"`
}

// RelaysConfig describes the output lines. Channel n is Channels[n-1].
type RelaysConfig struct {
	Chip     string          `yaml:"chip"`
	Polarity string          `yaml:"polarity"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is one relay output.
type ChannelConfig struct {
	Pin int `yaml:"pin"`
	// Polarity overrides RelaysConfig.Polarity for this channel.
	Polarity string `yaml:"polarity,omitempty"`
}

// PulseConfig sets the trigger timing policy.
type PulseConfig struct {
	Mode      string        `yaml:"mode"`
	Trigger   time.Duration `yaml:"trigger"`
	Momentary time.Duration `yaml:"momentary"`
	// Max caps every pulse length, configured or requested by a sender.
	// Zero selects the limit for the mode.
	Max time.Duration `yaml:"max,omitempty"`
}

// OSCConfig configures the datagram listener.
type OSCConfig struct {
	Listen string `yaml:"listen"`
}

// HTTPConfig configures the control page. An empty Listen disables it.
type HTTPConfig struct {
	Listen  string        `yaml:"listen"`
	Trigger time.Duration `yaml:"trigger"`
}

// MQTTConfig configures the broker side channel. An empty Broker disables it.
type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id,omitempty"`
	Topic     string        `yaml:"topic,omitempty"` // base topic; the hostname when empty
	Heartbeat time.Duration `yaml:"heartbeat"`
	Commands  bool          `yaml:"commands"`
}

// StatusLEDConfig configures the heartbeat LED.
type StatusLEDConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Pin      int           `yaml:"pin"`
	Polarity string        `yaml:"polarity"`
	Period   time.Duration `yaml:"period"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// Default returns the built-in settings for profile.
func Default(profile string) (*Config, error) {
	cfg := &Config{
		Device:  DeviceConfig{Name: "relay"},
		Profile: ProfileMulti,
		Relays: RelaysConfig{
			Chip:     gpio.DefaultChip,
			Polarity: string(logic.ActiveHigh),
			Channels: []ChannelConfig{{Pin: 5}, {Pin: 6}},
		},
		Pulse: PulseConfig{
			Mode:      string(relay.ModeNonBlocking),
			Trigger:   router.DefaultDurations.Trigger,
			Momentary: router.DefaultDurations.Momentary,
		},
		Tick: 10 * time.Millisecond,
		OSC:  OSCConfig{Listen: fmt.Sprintf(":%d", OSCPort)},
		HTTP: HTTPConfig{Listen: ":80", Trigger: 100 * time.Millisecond},
		MQTT: MQTTConfig{Heartbeat: 15 * time.Minute},
		StatusLED: StatusLEDConfig{
			Pin:      17,
			Polarity: string(logic.ActiveLow),
			Period:   time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}

	switch profile {
	case ProfileMulti, "":
	case ProfileMomentary:
		cfg.Profile = ProfileMomentary
		cfg.Relays.Channels = []ChannelConfig{{Pin: 5}}
		cfg.Pulse.Mode = string(relay.ModeBlocking)
		cfg.Pulse.Trigger = 500 * time.Millisecond
	case ProfileTimeout:
		cfg.Profile = ProfileTimeout
		cfg.Relays.Channels = []ChannelConfig{{Pin: 5}}
		cfg.Pulse.Trigger = 1000 * time.Millisecond
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	return cfg, nil
}

// Load reads the settings file at path on top of its profile defaults.
// A missing file at the default path yields the multi profile defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg, _ := Default(ProfileMulti)
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	return Parse(contents)
}

// Parse decodes settings from YAML and validates them.
func Parse(contents []byte) (*Config, error) {
	var head struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(contents, &head); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg, err := Default(head.Profile)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return data, nil
}

// Validate checks the settings and fills in defaults for optional fields.
func Validate(cfg *Config) error {
	if cfg.Device.Name == "" {
		return errNameRequired
	}
	if cfg.Tick <= 0 {
		return errTickRequired
	}
	if cfg.OSC.Listen == "" {
		return errOSCListenMissing
	}
	if cfg.Relays.Chip == "" {
		cfg.Relays.Chip = gpio.DefaultChip
	}

	if _, err := relay.ParseMode(cfg.Pulse.Mode); err != nil {
		return fmt.Errorf("pulse.mode: %w", err)
	}
	if cfg.Pulse.Trigger <= 0 {
		return errTriggerRequired
	}
	if cfg.Pulse.Momentary <= 0 {
		cfg.Pulse.Momentary = router.DefaultDurations.Momentary
	}
	if cfg.HTTP.Trigger < 0 {
		return fmt.Errorf("http.trigger must not be negative, got %v", cfg.HTTP.Trigger)
	}
	if err := validatePulseLimit(cfg); err != nil {
		return err
	}
	if cfg.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt.heartbeat must not be negative, got %v", cfg.MQTT.Heartbeat)
	}

	if _, err := parsePolarity(cfg.Relays.Polarity); err != nil {
		return fmt.Errorf("relays.polarity: %w", err)
	}
	if _, err := cfg.Channels(); err != nil {
		return err
	}

	if cfg.StatusLED.Enabled {
		if _, err := parsePolarity(cfg.StatusLED.Polarity); err != nil {
			return fmt.Errorf("status_led.polarity: %w", err)
		}
		for i, ch := range cfg.Relays.Channels {
			if ch.Pin == cfg.StatusLED.Pin {
				return fmt.Errorf("status_led.pin %d is also used by channel %d", ch.Pin, i+1)
			}
		}
		if cfg.StatusLED.Period <= 0 {
			cfg.StatusLED.Period = time.Second
		}
	}

	return nil
}

// MaxPulse returns the effective pulse limit: pulse.max, or the default
// for the configured mode.
func (c *Config) MaxPulse() time.Duration {
	if c.Pulse.Max > 0 {
		return c.Pulse.Max
	}
	if relay.Mode(c.Pulse.Mode) == relay.ModeBlocking {
		return relay.MaxBlockingPulse
	}
	return DefaultMaxPulse
}

func validatePulseLimit(cfg *Config) error {
	if cfg.Pulse.Max < 0 {
		return fmt.Errorf("pulse.max must not be negative, got %v", cfg.Pulse.Max)
	}
	limit := cfg.MaxPulse()
	if limit > logic.MaxPulse {
		return fmt.Errorf("pulse.max %v exceeds %v", limit, logic.MaxPulse)
	}
	if relay.Mode(cfg.Pulse.Mode) == relay.ModeBlocking && limit > relay.MaxBlockingPulse {
		return fmt.Errorf("pulse.max %v exceeds the blocking limit %v", limit, relay.MaxBlockingPulse)
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"pulse.trigger", cfg.Pulse.Trigger},
		{"pulse.momentary", cfg.Pulse.Momentary},
		{"http.trigger", cfg.HTTP.Trigger},
	} {
		if d.v > limit {
			return fmt.Errorf("%s %v exceeds pulse limit %v", d.name, d.v, limit)
		}
	}
	return nil
}

// Channels converts the relay settings into the channel table.
func (c *Config) Channels() ([]logic.Channel, error) {
	if len(c.Relays.Channels) == 0 {
		return nil, errNoChannels
	}

	def, err := parsePolarity(c.Relays.Polarity)
	if err != nil {
		return nil, fmt.Errorf("relays.polarity: %w", err)
	}

	out := make([]logic.Channel, 0, len(c.Relays.Channels))
	for i, ch := range c.Relays.Channels {
		if ch.Pin < 0 {
			return nil, fmt.Errorf("channel %d: pin must not be negative, got %d", i+1, ch.Pin)
		}
		p := def
		if ch.Polarity != "" {
			if p, err = parsePolarity(ch.Polarity); err != nil {
				return nil, fmt.Errorf("channel %d: %w", i+1, err)
			}
		}
		out = append(out, logic.Channel{Index: i + 1, Line: ch.Pin, Polarity: p})
	}

	if _, err := logic.NewChannelMap(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Durations returns the router's default pulse lengths.
func (c *Config) Durations() router.Durations {
	return router.Durations{Trigger: c.Pulse.Trigger, Momentary: c.Pulse.Momentary, Max: c.MaxPulse()}
}

// LED returns the status LED settings, or nil when it is disabled.
func (c *Config) LED() *relay.StatusLED {
	if !c.StatusLED.Enabled {
		return nil
	}
	p, _ := parsePolarity(c.StatusLED.Polarity)
	return &relay.StatusLED{Line: c.StatusLED.Pin, Polarity: p, Period: c.StatusLED.Period}
}

func parsePolarity(s string) (logic.Polarity, error) {
	switch logic.Polarity(s) {
	case logic.ActiveHigh, "":
		return logic.ActiveHigh, nil
	case logic.ActiveLow:
		return logic.ActiveLow, nil
	default:
		return "", fmt.Errorf("unknown polarity %q (want %s or %s)", s, logic.ActiveHigh, logic.ActiveLow)
	}
}
