package relay

import (
	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/router"
)

// Counts tracks what the engine has done since startup.
type Counts struct {
	Activate   int
	Deactivate int
	Trigger    int
	Expired    int
	Ignored    int
	// WriteErrors counts failed line writes.
	WriteErrors int
}

// Engine runs one scheduler step at a time: expire pulses first, then
// dispatch everything waiting in the inbox.
type Engine struct {
	ctrl   *Controller
	router *router.Router
	inbox  *Inbox
	log    *zap.SugaredLogger
	counts Counts
}

// NewEngine wires the controller, router and inbox together.
func NewEngine(ctrl *Controller, rt *router.Router, inbox *Inbox, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{ctrl: ctrl, router: rt, inbox: inbox, log: log}
}

// Step runs one tick and returns every drive it produced, expiries first.
func (e *Engine) Step() []logic.Drive {
	drives := e.ctrl.Tick()
	for _, d := range drives {
		e.counts.Expired++
		e.log.Infow("pulse expired", "channel", d.Channel.Index)
	}

	e.inbox.Drain(func(msg router.Message) {
		drives = append(drives, e.Dispatch(msg)...)
	})
	return drives
}

// Dispatch routes and executes a single message.
func (e *Engine) Dispatch(msg router.Message) []logic.Drive {
	e.log.Debugw("recv", "address", msg.Address, "args", msg.Args, "source", msg.Source)

	cmd, ok := e.router.RouteMessage(msg)
	if !ok {
		e.counts.Ignored++
		e.log.Debugw("ignoring unknown address", "address", msg.Address, "source", msg.Source)
		return nil
	}

	switch cmd.Action {
	case logic.ActionActivate:
		e.counts.Activate++
	case logic.ActionDeactivate:
		e.counts.Deactivate++
	case logic.ActionTrigger:
		e.counts.Trigger++
	}

	drives := e.ctrl.Execute(cmd)
	e.log.Infow("actuate",
		"action", cmd.Action,
		"channel", drives[0].Channel.Index,
		"duration", cmd.Duration,
		"source", msg.Source)
	return drives
}

// Controller returns the controller the engine drives.
func (e *Engine) Controller() *Controller {
	return e.ctrl
}

// Counts returns a copy of the engine counters.
func (e *Engine) Counts() Counts {
	c := e.counts
	c.WriteErrors = e.ctrl.WriteErrors()
	return c
}
