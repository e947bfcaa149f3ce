package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/relay-node/internal/gpio"
	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/mqtt"
	"github.com/sweeney/relay-node/internal/osc"
	"github.com/sweeney/relay-node/internal/relay"
	"github.com/sweeney/relay-node/internal/router"
	"github.com/sweeney/relay-node/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// stepMillis is the controller clock: every read advances it by step.
func stepMillis(step logic.Millis) func() logic.Millis {
	var now logic.Millis
	return func() logic.Millis {
		t := now
		now += step
		return t
	}
}

type loopRig struct {
	out     *gpio.FakeWriter
	pub     *mqtt.FakePublisher
	inbox   *relay.Inbox
	engine  *relay.Engine
	tracker *status.Tracker
}

func newLoopRig(t *testing.T, mode relay.Mode) *loopRig {
	t.Helper()

	m, err := logic.NewChannelMap([]logic.Channel{
		{Index: 1, Line: 5, Polarity: logic.ActiveHigh},
		{Index: 2, Line: 6, Polarity: logic.ActiveLow},
	})
	if err != nil {
		t.Fatalf("channel map: %v", err)
	}

	out := gpio.NewFakeWriter([]gpio.Output{{Line: 5}, {Line: 6, Initial: true}})
	log := zaptest.NewLogger(t).Sugar()
	ctrl := relay.NewController(logic.NewActuator(m), out, relay.Options{
		Mode:   mode,
		Now:    stepMillis(10),
		Sleep:  func(time.Duration) {},
		Logger: log,
	})
	ctrl.Init()

	inbox := relay.NewInbox(relay.DefaultInboxSize)
	return &loopRig{
		out:     out,
		pub:     mqtt.NewFakePublisher(),
		inbox:   inbox,
		engine:  relay.NewEngine(ctrl, router.New(router.DefaultDurations), inbox, log),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{}),
	}
}

// run drives runLoop for nTicks ticks, then sends sig. It returns runLoop's
// result; everything the loop touched is safe to read afterwards.
func (r *loopRig) run(t *testing.T, heartbeat time.Duration, clock func() time.Time, nTicks int, sig os.Signal) error {
	t.Helper()

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal)
	errCh := make(chan error, 1)
	deps := loopDeps{
		engine:     r.engine,
		publisher:  r.pub,
		mqttStatus: r.pub,
		tracker:    r.tracker,
		heartbeat:  heartbeat,
		now:        clock,
		log:        zaptest.NewLogger(t).Sugar(),
	}
	go func() {
		errCh <- runLoop(deps, tick, sigCh, nil)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig

	return <-errCh
}

func (r *loopRig) post(t *testing.T, address string, args ...any) {
	t.Helper()
	if !r.inbox.Post(router.Message{Address: address, Args: args, Source: "test"}) {
		t.Fatalf("inbox full posting %s", address)
	}
}

func TestRunLoopIdleShutdown(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	if err := r.run(t, 0, clock, 4, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.States) != 0 {
		t.Errorf("expected 0 state events, got %d", len(r.pub.States))
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	ev := r.pub.SystemEvents[0]
	if ev.Event != mqtt.EventShutdown || ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("unexpected shutdown event %+v", ev)
	}
	if !strings.Contains(string(r.pub.SystemPayloads[0]), `"event":"SHUTDOWN"`) {
		t.Errorf("shutdown payload should carry the status snapshot: %s", r.pub.SystemPayloads[0])
	}
}

func TestRunLoopTriggerExpires(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)

	// Tick 1 reads the clock at 0, the trigger at 10 (deadline 110). Every
	// later tick reads it once, so tick 11 sees 110 and expires the pulse.
	r.post(t, router.AddrTrigger, int32(2))

	if err := r.run(t, 0, clock, 15, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.States) != 2 {
		t.Fatalf("expected 2 state events, got %d: %+v", len(r.pub.States), r.pub.States)
	}
	if r.pub.States[0].Channel != 2 || r.pub.States[0].Phase != logic.PhasePulsePending {
		t.Errorf("first event: got %+v, want channel 2 PULSE", r.pub.States[0])
	}
	if r.pub.States[1].Channel != 2 || r.pub.States[1].Phase != logic.PhaseIdle {
		t.Errorf("second event: got %+v, want channel 2 IDLE", r.pub.States[1])
	}

	// Channel 2 is active-low: idle means the line is high.
	if !r.out.Level(6) {
		t.Error("line 6 should be back high after the pulse")
	}

	snap := r.tracker.Snapshot()
	if snap.Counts.Trigger != 1 || snap.Counts.Expired != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if r.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", r.pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopRepeatedActivatePublishesOnce(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)

	r.post(t, router.AddrActivate, int32(1))
	r.post(t, router.AddrActivate, int32(1))
	r.post(t, "/lights/on", int32(1))

	if err := r.run(t, 0, clock, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// ENERGIZED once, then IDLE on shutdown.
	if len(r.pub.States) != 2 {
		t.Fatalf("expected 2 state events, got %d: %+v", len(r.pub.States), r.pub.States)
	}
	if r.pub.States[0].Phase != logic.PhaseEnergized {
		t.Errorf("first event: got %q, want ENERGIZED", r.pub.States[0].Phase)
	}
	if r.pub.States[1].Phase != logic.PhaseIdle {
		t.Errorf("shutdown event: got %q, want IDLE", r.pub.States[1].Phase)
	}
	if r.out.Level(5) {
		t.Error("line 5 should be released on shutdown")
	}
	if got := r.tracker.Snapshot().Counts.Ignored; got != 1 {
		t.Errorf("ignored: got %d, want 1", got)
	}
}

func TestRunLoopTriggerOnEnergizedIsPublished(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)

	r.post(t, router.AddrActivate, int32(1))
	r.post(t, router.AddrTrigger, int32(1))

	if err := r.run(t, 0, clock, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var phases []logic.Phase
	for _, s := range r.pub.States {
		phases = append(phases, s.Phase)
	}
	want := []logic.Phase{logic.PhaseEnergized, logic.PhasePulsePending, logic.PhaseIdle}
	if len(phases) != len(want) {
		t.Fatalf("phases: got %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d: got %q, want %q", i, phases[i], want[i])
		}
	}
}

func TestRunLoopBlockingTrigger(t *testing.T) {
	r := newLoopRig(t, relay.ModeBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)

	r.post(t, router.AddrMomentary, int32(1))

	if err := r.run(t, 0, clock, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.States) != 2 {
		t.Fatalf("expected rising and falling edge, got %+v", r.pub.States)
	}
	if r.pub.States[0].Phase != logic.PhasePulsePending || r.pub.States[1].Phase != logic.PhaseIdle {
		t.Errorf("phases: got %q then %q", r.pub.States[0].Phase, r.pub.States[1].Phase)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	r.pub.Connected = true
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)

	// Start reads minute 0; tick k reads minute k. One heartbeat at 15.
	if err := r.run(t, 15*time.Minute, clock, 20, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var beats int
	for _, ev := range r.pub.SystemEvents {
		if ev.Event == mqtt.EventHeartbeat {
			beats++
			if ev.Retained {
				t.Error("heartbeat should not be retained")
			}
			if want := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC); !ev.Timestamp.Equal(want) {
				t.Errorf("heartbeat at %v, want %v", ev.Timestamp, want)
			}
		}
	}
	if beats != 1 {
		t.Errorf("expected 1 heartbeat, got %d", beats)
	}
	if !r.tracker.Snapshot().MQTTConnected {
		t.Error("tracker should mirror the publisher connection state")
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)

	if err := r.run(t, 0, clock, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %+v", r.pub.SystemEvents)
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	r.pub.PublishError = os.ErrDeadlineExceeded
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond)

	r.post(t, router.AddrActivate, int32(2))

	if err := r.run(t, 0, clock, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Errorf("shutdown should still be published, got %+v", r.pub.SystemEvents)
	}
}

func TestRunLoopKeepsTimeBehindSlowBroker(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	hold := make(chan struct{})
	r.pub.Hold = hold
	q := mqtt.NewQueue(r.pub, 0, zaptest.NewLogger(t).Sugar())

	r.post(t, router.AddrTrigger, int32(2))

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal)
	errCh := make(chan error, 1)
	deps := loopDeps{
		engine:    r.engine,
		publisher: q,
		tracker:   r.tracker,
		now:       fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10*time.Millisecond),
		log:       zaptest.NewLogger(t).Sugar(),
	}
	go func() {
		errCh <- runLoop(deps, tick, sigCh, nil)
	}()

	// Nothing reaches the broker until hold is closed.
	stalled := time.After(5 * time.Second)
	for i := 0; i < 15; i++ {
		select {
		case tick <- time.Time{}:
		case <-stalled:
			close(hold)
			t.Fatalf("loop stalled at tick %d behind a slow publisher", i)
		}
	}
	select {
	case sigCh <- syscall.SIGTERM:
	case <-stalled:
		close(hold)
		t.Fatal("loop stalled before shutdown")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if !r.out.Level(6) {
		t.Error("pulse did not end on time while publishes were pending")
	}
	if c := r.tracker.Snapshot().Counts; c.Trigger != 1 || c.Expired != 1 {
		t.Errorf("counts: got %+v", c)
	}

	close(hold)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(r.pub.States) != 2 || r.pub.States[0].Phase != logic.PhasePulsePending || r.pub.States[1].Phase != logic.PhaseIdle {
		t.Errorf("states after flush: %+v", r.pub.States)
	}
	if len(r.pub.SystemEvents) != 1 || r.pub.SystemEvents[0].Event != mqtt.EventShutdown {
		t.Errorf("shutdown not flushed: %+v", r.pub.SystemEvents)
	}
	if !r.pub.Closed {
		t.Error("broker publisher not closed")
	}
}

func TestRunLoopStopsOnDone(t *testing.T) {
	r := newLoopRig(t, relay.ModeNonBlocking)
	done := make(chan struct{})
	close(done)

	deps := loopDeps{
		engine:    r.engine,
		publisher: r.pub,
		tracker:   r.tracker,
		now:       fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second),
		log:       zaptest.NewLogger(t).Sugar(),
	}
	if err := runLoop(deps, nil, nil, done); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.pub.SystemEvents) != 1 || r.pub.SystemEvents[0].Reason != "CANCELLED" {
		t.Errorf("unexpected system events %+v", r.pub.SystemEvents)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestOutputsFor(t *testing.T) {
	channels := []logic.Channel{
		{Index: 1, Line: 5, Polarity: logic.ActiveHigh},
		{Index: 2, Line: 6, Polarity: logic.ActiveLow},
	}
	led := &relay.StatusLED{Line: 17, Polarity: logic.ActiveLow, Period: time.Second}

	got := outputsFor(channels, led)
	want := []gpio.Output{{Line: 5, Initial: false}, {Line: 6, Initial: true}, {Line: 17, Initial: true}}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	if n := len(outputsFor(channels, nil)); n != 2 {
		t.Errorf("without LED: got %d outputs, want 2", n)
	}
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPrintConfigAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay-node.yaml")
	settings := "profile: timeout\ndevice:\n  name: porch\n  hardware_id: 3fa2c1\n"
	if err := os.WriteFile(path, []byte(settings), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := executeRoot(t, "--config", path, "--print-config",
		"--http", "off", "--osc", ":9000", "--mode", "blocking", "--broker", "tcp://10.0.0.2:1883")
	if err != nil {
		t.Fatalf("execute: %v\n%s", err, out)
	}

	for _, want := range []string{"profile: timeout", "trigger: 1s", `listen: ""`, ":9000", "mode: blocking", "broker: tcp://10.0.0.2:1883", "# hostname: porch-3FA2C1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRootRejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay-node.yaml")
	if err := os.WriteFile(path, []byte("profile: multi\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := executeRoot(t, "--config", path, "--print-config", "--mode", "sometimes"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestSendCommand(t *testing.T) {
	inbox := relay.NewInbox(4)
	l, err := osc.Listen("127.0.0.1:0", inbox, nil, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)

	if out, err := executeRoot(t, "send", l.Addr().String(), "/relay/trigger", "2", "250"); err != nil {
		t.Fatalf("send: %v\n%s", err, out)
	}

	var got []router.Message
	deadline := time.Now().Add(2 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		inbox.Drain(func(m router.Message) { got = append(got, m) })
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Address != "/relay/trigger" || len(got[0].Args) != 2 || got[0].Args[0] != int32(2) || got[0].Args[1] != int32(250) {
		t.Errorf("unexpected message %+v", got[0])
	}
}

func TestSendRejectsBadAddress(t *testing.T) {
	if _, err := executeRoot(t, "send", "127.0.0.1", "relay/trigger"); err == nil {
		t.Fatal("expected an error for an address without a leading slash")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeRoot(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("got %q, want %q", out, version)
	}
}
