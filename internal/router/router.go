// Package router translates addressed messages into actuation commands.
// It holds no state beyond its static route table and never touches hardware.
package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/relay-node/internal/logic"
)

// Address patterns understood by every transport.
const (
	AddrActivate   = "/relay/activate"
	AddrDeactivate = "/relay/deactivate"
	AddrTrigger    = "/relay/trigger"
	AddrMomentary  = "/relay/momentary"
)

// Message is an inbound addressed message, already decoded by a transport.
type Message struct {
	Address string
	Args    []any
	Source  string // "osc", "http", "mqtt"; for logging only
}

// Durations are the default pulse lengths for the trigger-style routes.
type Durations struct {
	Trigger   time.Duration
	Momentary time.Duration
	// Max caps a pulse length requested in a message argument.
	// logic.MaxPulse when zero.
	Max time.Duration
}

// DefaultDurations match the multi-channel product configuration.
var DefaultDurations = Durations{
	Trigger:   100 * time.Millisecond,
	Momentary: 500 * time.Millisecond,
	Max:       time.Minute,
}

// route is one entry of the ordered pattern table.
type route struct {
	pattern  string
	action   logic.Action
	duration time.Duration // trigger-style routes only
}

// Router matches addresses against an ordered route table. First match wins.
type Router struct {
	routes []route
	limit  time.Duration
}

// New builds the router with the fixed route table.
func New(d Durations) *Router {
	limit := d.Max
	if limit <= 0 || limit > logic.MaxPulse {
		limit = logic.MaxPulse
	}
	return &Router{limit: limit, routes: []route{
		{pattern: AddrActivate, action: logic.ActionActivate},
		{pattern: AddrDeactivate, action: logic.ActionDeactivate},
		{pattern: AddrTrigger, action: logic.ActionTrigger, duration: d.Trigger},
		{pattern: AddrMomentary, action: logic.ActionTrigger, duration: d.Momentary},
	}}
}

// Route decodes address and args into a command. It returns false when no
// pattern matches; callers ignore such messages.
//
// A pattern matches the address itself or any address below it, so
// "/relay/trigger/2" is the trigger route namespaced to channel 2. The
// channel is taken from a leading integer argument, then from the
// namespace suffix, and is logic.DefaultChannel otherwise. For trigger
// routes a second numeric argument overrides the pulse length in
// milliseconds, capped at the router's maximum.
func (r *Router) Route(address string, args []any) (logic.Command, bool) {
	for _, rt := range r.routes {
		suffix, ok := match(rt.pattern, address)
		if !ok {
			continue
		}

		cmd := logic.Command{Action: rt.action, Channel: logic.DefaultChannel}
		if n, ok := leadingInt(args); ok {
			cmd.Channel = n
		} else if n, err := strconv.Atoi(suffix); err == nil {
			cmd.Channel = n
		}

		if rt.action == logic.ActionTrigger {
			cmd.Duration = rt.duration
			if d, ok := durationArg(args, r.limit); ok {
				cmd.Duration = d
			}
		}
		return cmd, true
	}
	return logic.Command{}, false
}

// RouteMessage is Route for a decoded Message.
func (r *Router) RouteMessage(msg Message) (logic.Command, bool) {
	return r.Route(msg.Address, msg.Args)
}

func match(pattern, address string) (string, bool) {
	if address == pattern {
		return "", true
	}
	if strings.HasPrefix(address, pattern+"/") {
		return address[len(pattern)+1:], true
	}
	return "", false
}

func leadingInt(args []any) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	return asInt(args[0])
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// durationArg reads the optional pulse length that follows a channel
// argument. Lengths above limit are clamped to it.
func durationArg(args []any, limit time.Duration) (time.Duration, bool) {
	if len(args) < 2 {
		return 0, false
	}
	if _, ok := leadingInt(args); !ok {
		return 0, false
	}

	var ms float64
	switch n := args[1].(type) {
	case int32, int64, int:
		i, _ := asInt(n)
		ms = float64(i)
	case float32:
		ms = float64(n)
	case float64:
		ms = n
	default:
		return 0, false
	}
	// Also rejects NaN.
	if !(ms > 0) {
		return 0, false
	}
	if ms >= float64(limit/time.Millisecond) {
		return limit, true
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}
