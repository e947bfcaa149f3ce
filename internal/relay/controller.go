// Package relay applies actuation commands to physical output lines.
//
// Every mutation of relay state goes through a single Engine owned by the
// daemon loop. Transports hand messages to the Engine's Inbox and never touch
// the state directly.
package relay

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/gpio"
	"github.com/sweeney/relay-node/internal/logic"
)

// Mode selects how trigger pulses are timed.
type Mode string

const (
	// ModeNonBlocking tracks the pulse with a deadline expired by Tick.
	ModeNonBlocking Mode = "non_blocking"
	// ModeBlocking holds the caller for the whole pulse. Nothing else,
	// including other channels and transports, is serviced meanwhile.
	ModeBlocking Mode = "blocking"
)

// MaxBlockingPulse is the longest pulse ModeBlocking will hold the loop for.
const MaxBlockingPulse = time.Second

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNonBlocking, "":
		return ModeNonBlocking, nil
	case ModeBlocking:
		return ModeBlocking, nil
	default:
		return "", fmt.Errorf("unknown pulse mode %q (want %s or %s)", s, ModeNonBlocking, ModeBlocking)
	}
}

// StatusLED configures the heartbeat LED.
type StatusLED struct {
	Line     int
	Polarity logic.Polarity
	Period   time.Duration
}

// Options configures a Controller.
type Options struct {
	Mode Mode
	// Now returns the current counter value. Required.
	Now func() logic.Millis
	// Sleep blocks for d; used by ModeBlocking only. Defaults to time.Sleep.
	Sleep func(d time.Duration)
	// StatusLED, if set, is blinked on every Tick.
	StatusLED *StatusLED
	Logger    *zap.SugaredLogger
}

// Controller couples the actuator with the output lines.
// Not safe for concurrent use.
type Controller struct {
	act   *logic.Actuator
	out   gpio.Writer
	mode  Mode
	now   func() logic.Millis
	sleep func(time.Duration)
	log   *zap.SugaredLogger

	led     *StatusLED
	blinker *logic.Blinker

	writeErrors int
}

// NewController creates a controller. Call Init before the first command.
func NewController(act *logic.Actuator, out gpio.Writer, opts Options) *Controller {
	c := &Controller{
		act:   act,
		out:   out,
		mode:  opts.Mode,
		now:   opts.Now,
		sleep: opts.Sleep,
		log:   opts.Logger,
		led:   opts.StatusLED,
	}
	if c.mode == "" {
		c.mode = ModeNonBlocking
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	if c.led != nil {
		c.blinker = logic.NewBlinker(c.led.Period)
	}
	return c
}

// Init drives every relay line to its de-energized level.
func (c *Controller) Init() []logic.Drive {
	drives := c.act.Reset()
	c.write(drives...)
	if c.led != nil {
		c.writeLine(c.led.Line, c.led.Polarity.Level(false))
	}
	return drives
}

// Release de-energizes every channel and turns the status LED off.
// Lines stay requested; closing them is up to the owner of the writer.
func (c *Controller) Release() []logic.Drive {
	return c.Init()
}

// Execute applies cmd and writes the resulting levels. In ModeBlocking a
// trigger returns only after the pulse has ended; the returned drives then
// hold both the rising and the falling edge.
func (c *Controller) Execute(cmd logic.Command) []logic.Drive {
	if _, ok := c.act.Channels().Lookup(cmd.Channel); !ok {
		c.log.Warnw("unknown relay channel, using default",
			"requested", cmd.Channel, "channel", logic.DefaultChannel)
	}

	blocking := cmd.Action == logic.ActionTrigger && c.mode == ModeBlocking
	if blocking && cmd.Duration > MaxBlockingPulse {
		c.log.Warnw("blocking pulse too long, capping",
			"requested", cmd.Duration, "max", MaxBlockingPulse)
		cmd.Duration = MaxBlockingPulse
	}

	d := c.act.Apply(cmd, c.now())
	c.write(d)

	if !blocking {
		return []logic.Drive{d}
	}

	c.sleep(cmd.Duration)
	off := c.act.Deactivate(d.Channel.Index)
	c.write(off)
	return []logic.Drive{d, off}
}

// Tick expires due pulses and advances the status LED.
func (c *Controller) Tick() []logic.Drive {
	now := c.now()
	drives := c.act.Tick(now)
	c.write(drives...)

	if c.blinker != nil {
		if lit, changed := c.blinker.Step(now); changed {
			c.writeLine(c.led.Line, c.led.Polarity.Level(lit))
		}
	}
	return drives
}

// States returns a copy of the channel state table.
func (c *Controller) States() []logic.ChannelState {
	return c.act.States()
}

// Channels returns the configured channels.
func (c *Controller) Channels() []logic.Channel {
	return c.act.Channels().Channels()
}

// WriteErrors returns how many line writes have failed since start.
func (c *Controller) WriteErrors() int {
	return c.writeErrors
}

func (c *Controller) write(drives ...logic.Drive) {
	for _, d := range drives {
		c.writeLine(d.Channel.Line, d.Level)
	}
}

// writeLine never fails the caller: a broken line is logged and counted.
func (c *Controller) writeLine(line int, level bool) {
	if err := c.out.Set(line, level); err != nil {
		c.writeErrors++
		c.log.Errorw("gpio write failed", "line", line, "level", level, "error", err)
	}
}
