package logic

import (
	"testing"
	"time"
)

func twoChannels(t *testing.T) *ChannelMap {
	t.Helper()
	m, err := NewChannelMap([]Channel{
		{Index: 1, Line: 5, Polarity: ActiveHigh},
		{Index: 2, Line: 6, Polarity: ActiveLow},
	})
	if err != nil {
		t.Fatalf("NewChannelMap: %v", err)
	}
	return m
}

func TestNewActuatorStartsIdle(t *testing.T) {
	a := NewActuator(twoChannels(t))

	for _, s := range a.States() {
		if s.Energized || s.Pending {
			t.Errorf("channel %d: expected idle, got %+v", s.Index, s)
		}
		if s.Phase() != PhaseIdle {
			t.Errorf("channel %d: phase %s, want IDLE", s.Index, s.Phase())
		}
	}
}

func TestActivateIsNotSubjectToExpiry(t *testing.T) {
	nows := []Millis{0, 1, 100, 1 << 31, ^Millis(0)}
	for _, now := range nows {
		a := NewActuator(twoChannels(t))
		a.Activate(1)
		if drives := a.Tick(now); len(drives) != 0 {
			t.Errorf("now=%d: tick after activate returned %d drives", now, len(drives))
		}
		if s := a.State(1); !s.Energized || s.Phase() != PhaseEnergized {
			t.Errorf("now=%d: expected energized, got %+v", now, s)
		}
	}
}

func TestActivateCancelsPendingPulse(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Trigger(1, 100*time.Millisecond, 0)

	d := a.Activate(1)
	if d.Changed {
		t.Error("activate on an already energized channel should not report a change")
	}
	if a.State(1).Pending {
		t.Error("activate should clear the pending deadline")
	}

	a.Tick(500)
	if !a.State(1).Energized {
		t.Error("channel should stay energized after the cancelled deadline passes")
	}
}

func TestTriggerExpiresOnTick(t *testing.T) {
	a := NewActuator(twoChannels(t))
	t0 := Millis(1000)

	d := a.Trigger(1, 100*time.Millisecond, t0)
	if !d.Energized || !d.Level || !d.Changed {
		t.Errorf("trigger drive: got %+v", d)
	}
	if d.Phase != PhasePulsePending {
		t.Errorf("trigger phase: got %s", d.Phase)
	}

	if drives := a.Tick(t0 + 50); len(drives) != 0 {
		t.Fatalf("tick at +50ms: expected no drives, got %d", len(drives))
	}
	if !a.State(1).Energized {
		t.Fatal("channel should still be energized at +50ms")
	}

	drives := a.Tick(t0 + 150)
	if len(drives) != 1 {
		t.Fatalf("tick at +150ms: expected 1 drive, got %d", len(drives))
	}
	if drives[0].Energized || drives[0].Level || drives[0].Phase != PhaseIdle {
		t.Errorf("expiry drive: got %+v", drives[0])
	}
	if s := a.State(1); s.Energized || s.Pending || s.Phase() != PhaseIdle {
		t.Errorf("after expiry: got %+v", s)
	}
}

func TestTriggerExpiresExactlyAtDeadline(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Trigger(1, 100*time.Millisecond, 0)

	if drives := a.Tick(99); len(drives) != 0 {
		t.Error("pulse expired one millisecond early")
	}
	if drives := a.Tick(100); len(drives) != 1 {
		t.Error("pulse should expire when now equals the deadline")
	}
}

func TestRetriggerReplacesDeadline(t *testing.T) {
	a := NewActuator(twoChannels(t))

	calls := []struct {
		now Millis
		d   time.Duration
	}{
		{0, 100 * time.Millisecond},
		{40, 100 * time.Millisecond},
		{90, 30 * time.Millisecond},
		{95, 200 * time.Millisecond},
	}
	for _, c := range calls {
		a.Trigger(2, c.d, c.now)
		s := a.State(2)
		want := c.now.Add(c.d)
		if !s.Pending || s.Deadline != want {
			t.Fatalf("after trigger at %d: deadline %d (pending=%v), want %d", c.now, s.Deadline, s.Pending, want)
		}
	}

	// The first three deadlines (100, 140, 120) must not fire.
	if drives := a.Tick(250); len(drives) != 0 {
		t.Errorf("stale deadline fired: %+v", drives)
	}
	if drives := a.Tick(295); len(drives) != 1 {
		t.Errorf("latest deadline did not fire")
	}
}

func TestRetriggerCanShortenPulse(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Trigger(1, time.Second, 0)
	a.Trigger(1, 10*time.Millisecond, 5)

	if drives := a.Tick(15); len(drives) != 1 {
		t.Error("shortened pulse should expire at its own deadline")
	}
}

func TestDeactivateClearsEverything(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Trigger(2, time.Second, 0)

	d := a.Deactivate(2)
	if d.Energized || !d.Changed {
		t.Errorf("deactivate drive: got %+v", d)
	}
	// Channel 2 is active-low: de-energized means the line is high.
	if !d.Level {
		t.Error("active-low channel should be driven high when de-energized")
	}
	if s := a.State(2); s.Pending || s.Energized {
		t.Errorf("after deactivate: got %+v", s)
	}
	if drives := a.Tick(2000); len(drives) != 0 {
		t.Error("no expiry expected after deactivate")
	}
}

func TestActivateDeactivateRoundTrip(t *testing.T) {
	m := twoChannels(t)
	for _, ch := range m.Channels() {
		a := NewActuator(m)
		initial := a.State(ch.Index)

		a.Activate(ch.Index)
		a.Deactivate(ch.Index)

		if got := a.State(ch.Index); got != initial {
			t.Errorf("channel %d: got %+v, want %+v", ch.Index, got, initial)
		}
	}
}

func TestUnknownChannelActsOnDefault(t *testing.T) {
	a := NewActuator(twoChannels(t))

	d := a.Activate(7)
	if d.Channel.Index != DefaultChannel {
		t.Errorf("drive channel: got %d, want %d", d.Channel.Index, DefaultChannel)
	}
	if !a.State(1).Energized {
		t.Error("default channel should be energized")
	}
	if a.State(2).Energized {
		t.Error("channel 2 should not be touched")
	}
}

func TestTickExpiresOnlyDueChannels(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Trigger(1, 100*time.Millisecond, 0)
	a.Trigger(2, 300*time.Millisecond, 0)

	drives := a.Tick(150)
	if len(drives) != 1 || drives[0].Channel.Index != 1 {
		t.Fatalf("expected only channel 1 to expire, got %+v", drives)
	}
	if !a.State(2).Pending {
		t.Error("channel 2 should still be pending")
	}
}

func TestTickAcrossClockWrap(t *testing.T) {
	a := NewActuator(twoChannels(t))
	t0 := ^Millis(0) - 20 // 21ms before the counter wraps

	a.Trigger(1, 100*time.Millisecond, t0)
	deadline := a.State(1).Deadline
	if deadline >= t0 {
		t.Fatalf("deadline should have wrapped: t0=%d deadline=%d", t0, deadline)
	}

	// A plain less-than would expire this immediately.
	if drives := a.Tick(t0 + 1); len(drives) != 0 {
		t.Fatal("pulse expired before its deadline")
	}
	if drives := a.Tick(t0 + 50); len(drives) != 0 {
		t.Fatal("pulse expired before its deadline (post-wrap)")
	}
	if drives := a.Tick(t0 + 100); len(drives) != 1 {
		t.Fatal("pulse did not expire after the wrap")
	}
}

func TestApplyDispatches(t *testing.T) {
	tests := []struct {
		name      string
		cmd       Command
		wantPhase Phase
	}{
		{"activate", Command{Action: ActionActivate, Channel: 2}, PhaseEnergized},
		{"deactivate", Command{Action: ActionDeactivate, Channel: 2}, PhaseIdle},
		{"trigger", Command{Action: ActionTrigger, Channel: 2, Duration: time.Second}, PhasePulsePending},
		{"unknown", Command{Action: "BOGUS", Channel: 2}, PhaseIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewActuator(twoChannels(t))
			d := a.Apply(tt.cmd, 0)
			if d.Phase != tt.wantPhase {
				t.Errorf("phase: got %s, want %s", d.Phase, tt.wantPhase)
			}
			if a.State(2).Phase() != tt.wantPhase {
				t.Errorf("state phase: got %s, want %s", a.State(2).Phase(), tt.wantPhase)
			}
		})
	}
}

func TestResetDrivesEveryChannel(t *testing.T) {
	a := NewActuator(twoChannels(t))
	a.Activate(1)
	a.Trigger(2, time.Second, 0)

	drives := a.Reset()
	if len(drives) != 2 {
		t.Fatalf("expected 2 drives, got %d", len(drives))
	}
	if drives[0].Level != false || drives[1].Level != true {
		t.Errorf("de-energized levels: got %v/%v, want false/true", drives[0].Level, drives[1].Level)
	}
	for _, s := range a.States() {
		if s.Phase() != PhaseIdle {
			t.Errorf("channel %d not idle after reset", s.Index)
		}
	}
}

func TestTriggerLongerThanCounterRangeIsCapped(t *testing.T) {
	a := NewActuator(twoChannels(t))

	// 3e9 ms would wrap the counter and read as already expired.
	a.Trigger(1, 3_000_000_000*time.Millisecond, 1000)
	if drives := a.Tick(1010); len(drives) != 0 {
		t.Fatal("oversized pulse expired on the next tick")
	}
	if got, want := a.State(1).Deadline, Millis(1000).Add(MaxPulse); got != want {
		t.Errorf("deadline: got %d, want %d", got, want)
	}
	if drives := a.Tick(Millis(1000).Add(MaxPulse)); len(drives) != 1 {
		t.Error("capped pulse did not expire at MaxPulse")
	}
}
