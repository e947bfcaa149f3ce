package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/config"
	"github.com/sweeney/relay-node/internal/gpio"
	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/mqtt"
	"github.com/sweeney/relay-node/internal/osc"
	"github.com/sweeney/relay-node/internal/relay"
	"github.com/sweeney/relay-node/internal/router"
	"github.com/sweeney/relay-node/internal/status"
	"github.com/sweeney/relay-node/internal/web"
)

const shutdownTimeout = 5 * time.Second

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hostname, err := hostnameFor(cfg)
	if err != nil {
		log.Warnw("cannot derive hardware id, using device name", "error", err)
	}

	channels, err := cfg.Channels()
	if err != nil {
		return err
	}
	cmap, err := logic.NewChannelMap(channels)
	if err != nil {
		return err
	}
	mode, err := relay.ParseMode(cfg.Pulse.Mode)
	if err != nil {
		return err
	}
	led := cfg.LED()

	// Lines come up at their de-energized level.
	writer, err := gpio.NewRealWriter(cfg.Relays.Chip, outputsFor(channels, led))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer writer.Close()

	start := time.Now()
	ctrl := relay.NewController(logic.NewActuator(cmap), writer, relay.Options{
		Mode:      mode,
		Now:       func() logic.Millis { return logic.MillisSince(start, time.Now()) },
		StatusLED: led,
		Logger:    log.Named("relay"),
	})
	ctrl.Init()

	inbox := relay.NewInbox(relay.DefaultInboxSize)
	engine := relay.NewEngine(ctrl, router.New(cfg.Durations()), inbox, log.Named("engine"))

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, statusConfig(cfg, mode))
	tracker.SetNetwork(networkInfo(hostname))
	tracker.Update(ctrl.Channels(), ctrl.States(), engine.Counts())

	listener, err := osc.Listen(cfg.OSC.Listen, inbox, tracker, log.Named("osc"))
	if err != nil {
		return err
	}
	defer listener.Close()
	go func() {
		if err := listener.Serve(ctx); err != nil {
			log.Errorw("osc listener stopped", "error", err)
		}
	}()

	broker, mqttStatus, err := newPublisher(cfg, hostname, inbox, tracker, log.Named("mqtt"))
	if err != nil {
		return err
	}
	// The loop never waits on the broker. Close flushes what is queued,
	// SHUTDOWN included.
	publisher := mqtt.NewQueue(broker, mqtt.DefaultBufferSize, log.Named("mqtt"))
	defer publisher.Close()

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warnw("failed to publish startup event", "error", err)
	}
	for _, ch := range channels {
		d := logic.Drive{Channel: ch, Phase: logic.PhaseIdle}
		if err := publisher.PublishState(mqtt.StateFromDrive(d, snap.Now)); err != nil {
			log.Warnw("failed to publish initial state", "channel", ch.Index, "error", err)
		}
	}

	if cfg.HTTP.Listen != "" {
		srv := web.New(cfg.HTTP.Listen, tracker, inbox, web.Options{
			Trigger: cfg.HTTP.Trigger,
			Logger:  log.Named("http"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			srv.Shutdown(sctx)
		}()
	}

	logStartup(log, cfg, hostname, mode)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(loopDeps{
		engine:     engine,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  cfg.MQTT.Heartbeat,
		now:        time.Now,
		log:        log,
	}, ticker.C, sigCh, ctx.Done())
}

// loopDeps is everything runLoop touches. Only runLoop's goroutine uses the
// engine.
type loopDeps struct {
	engine     *relay.Engine
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time
	log        *zap.SugaredLogger

	// published is the last phase sent per channel.
	published map[int]logic.Phase
}

// runLoop is the single consumer of the inbox. Each tick expires pulses,
// dispatches queued messages, publishes the resulting state changes and
// refreshes the tracker. A signal or done ends the loop with every relay
// released.
func runLoop(d loopDeps, tick <-chan time.Time, sig <-chan os.Signal, done <-chan struct{}) error {
	lastBeat := d.now()
	if d.published == nil {
		d.published = make(map[int]logic.Phase)
		for _, ch := range d.engine.Controller().Channels() {
			d.published[ch.Index] = logic.PhaseIdle
		}
	}

	for {
		select {
		case s := <-sig:
			d.log.Infow("shutting down", "signal", s)
			d.shutdown(signalName(s))
			return nil

		case <-done:
			d.log.Infow("shutting down", "reason", "context done")
			d.shutdown("CANCELLED")
			return nil

		case <-tick:
			t := d.now()
			d.publishDrives(d.engine.Step(), t)
			d.refresh()

			if d.heartbeat > 0 && t.Sub(lastBeat) >= d.heartbeat {
				lastBeat = t
				snap := d.tracker.Snapshot()
				d.log.Infow("heartbeat", "uptime", snap.Uptime().Truncate(time.Second), "counts", snap.Counts)
				hb := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      mqtt.EventHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
				}
				if err := d.publisher.PublishSystem(hb); err != nil {
					d.log.Warnw("heartbeat publish error", "error", err)
				}
			}
		}
	}
}

func (d loopDeps) shutdown(reason string) {
	t := d.now()
	d.publishDrives(d.engine.Controller().Release(), t)
	d.refresh()

	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.log.Warnw("failed to publish shutdown event", "error", err)
	}
}

// publishDrives sends state changes. A drive that moves a relay between
// ENERGIZED and PULSE is a change even though the line level stays put.
func (d loopDeps) publishDrives(drives []logic.Drive, t time.Time) {
	for _, drv := range drives {
		if !drv.Changed && d.published[drv.Channel.Index] == drv.Phase {
			continue
		}
		d.published[drv.Channel.Index] = drv.Phase
		if err := d.publisher.PublishState(mqtt.StateFromDrive(drv, t)); err != nil {
			d.log.Warnw("publish error", "channel", drv.Channel.Index, "error", err)
		}
	}
}

func (d loopDeps) refresh() {
	ctrl := d.engine.Controller()
	d.tracker.Update(ctrl.Channels(), ctrl.States(), d.engine.Counts())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// outputsFor lists every line to request, each at its de-energized level.
func outputsFor(channels []logic.Channel, led *relay.StatusLED) []gpio.Output {
	out := make([]gpio.Output, 0, len(channels)+1)
	for _, ch := range channels {
		out = append(out, gpio.Output{Line: ch.Line, Initial: ch.Polarity.Level(false)})
	}
	if led != nil {
		out = append(out, gpio.Output{Line: led.Line, Initial: led.Polarity.Level(false)})
	}
	return out
}

func newPublisher(cfg *config.Config, hostname string, inbox *relay.Inbox, tracker *status.Tracker, log *zap.SugaredLogger) (mqtt.Publisher, mqtt.ConnectionStatus, error) {
	if cfg.MQTT.Broker == "" {
		return mqtt.NopPublisher{}, nil, nil
	}

	base := cfg.MQTT.Topic
	if base == "" {
		base = hostname
	}
	opts := mqtt.Options{
		Broker:             cfg.MQTT.Broker,
		ClientID:           cfg.MQTT.ClientID,
		Base:               base,
		Stats:              tracker,
		Logger:             log,
		OnConnectionChange: tracker.SetMQTTConnected,
	}
	if cfg.MQTT.Commands {
		opts.Commands = inbox
	}

	p, err := mqtt.NewRealPublisher(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("init mqtt: %w", err)
	}
	return p, p, nil
}

func statusConfig(cfg *config.Config, mode relay.Mode) status.Config {
	return status.Config{
		Mode:          string(mode),
		TickMs:        cfg.Tick.Milliseconds(),
		TriggerMs:     cfg.Pulse.Trigger.Milliseconds(),
		MomentaryMs:   cfg.Pulse.Momentary.Milliseconds(),
		HTTPTriggerMs: cfg.HTTP.Trigger.Milliseconds(),
		HeartbeatMs:   cfg.MQTT.Heartbeat.Milliseconds(),
		OSCListen:     cfg.OSC.Listen,
		HTTPListen:    cfg.HTTP.Listen,
		Broker:        cfg.MQTT.Broker,
	}
}

func networkInfo(hostname string) *status.NetworkInfo {
	info := &status.NetworkInfo{Hostname: hostname}
	if iface, err := config.PrimaryInterface(); err == nil {
		info.Interface = iface.Name
		info.MAC = iface.MAC
		info.IPs = iface.IPs
	}
	return info
}
