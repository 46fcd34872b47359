package session

import (
	"errors"
	"testing"
	"time"
)

func TestCan(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Connecting, Authenticating, true},
		{Authenticating, Joining, true},
		{Joining, Active, true},
		{Active, Draining, true},
		{Draining, Closed, true},
		{Disconnected, Failed, true},
		{Active, Failed, true},
		{Draining, Failed, true},
		{Disconnected, Active, false},
		{Connecting, Joining, false},
		{Active, Closed, false},
		{Joining, Connecting, false},
		{Closed, Failed, false},
		{Failed, Failed, false},
		{Failed, Connecting, false},
		{Closed, Connecting, false},
	}
	for _, tt := range tests {
		if got := Can(tt.from, tt.to); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Active.String() != "active" || Failed.String() != "failed" {
		t.Fatalf("unexpected names %q %q", Active, Failed)
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unknown state = %q", State(42))
	}
	if !Closed.Terminal() || !Failed.Terminal() || Draining.Terminal() {
		t.Fatal("terminal states wrong")
	}
}

func TestDesyncGuard(t *testing.T) {
	g := desyncGuard{threshold: 2, window: time.Second}
	base := time.Unix(1000, 0)
	cause := errors.New("bad frame")

	if err := g.observe(base, cause); err != nil {
		t.Fatalf("first hit tripped: %v", err)
	}
	if err := g.observe(base.Add(100*time.Millisecond), cause); err != nil {
		t.Fatalf("second hit tripped: %v", err)
	}
	// The first two hits have aged out of the window.
	if err := g.observe(base.Add(1500*time.Millisecond), cause); err != nil {
		t.Fatalf("hit after window tripped: %v", err)
	}
	g.observe(base.Add(1600*time.Millisecond), cause)
	err := g.observe(base.Add(1700*time.Millisecond), cause)
	var de *DesyncError
	if !errors.As(err, &de) || de.Count != 3 || !errors.Is(err, cause) {
		t.Fatalf("expected desync error over 3 hits, got %v", err)
	}

	off := desyncGuard{}
	for i := 0; i < 100; i++ {
		if err := off.observe(base, cause); err != nil {
			t.Fatal("disabled guard tripped")
		}
	}
}

func TestReschedule(t *testing.T) {
	base := time.Unix(0, 0)
	iv := 50 * time.Millisecond
	if got := reschedule(base, base.Add(10*time.Millisecond), iv); !got.Equal(base.Add(iv)) {
		t.Errorf("on-time reschedule = %v", got.Sub(base))
	}
	late := base.Add(300 * time.Millisecond)
	if got := reschedule(base, late, iv); !got.Equal(late.Add(iv)) {
		t.Errorf("late reschedule = %v, want slots skipped", got.Sub(base))
	}
}

func TestReportTimeIn(t *testing.T) {
	t0 := time.Unix(100, 0)
	r := Report{Transitions: []Transition{
		{From: Disconnected, To: Connecting, At: t0},
		{From: Connecting, To: Authenticating, At: t0.Add(10 * time.Millisecond)},
		{From: Authenticating, To: Joining, At: t0.Add(30 * time.Millisecond)},
		{From: Joining, To: Active, At: t0.Add(35 * time.Millisecond)},
		{From: Active, To: Draining, At: t0.Add(2 * time.Second)},
	}}
	if got := r.TimeIn(Authenticating); got != 20*time.Millisecond {
		t.Errorf("TimeIn(authenticating) = %v", got)
	}
	if got := r.TimeIn(Active); got != 2*time.Second-35*time.Millisecond {
		t.Errorf("TimeIn(active) = %v", got)
	}
	if got := r.TimeIn(Closed); got != 0 {
		t.Errorf("TimeIn(closed) = %v", got)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ConnectError{Err: errors.New("refused")}, "connect"},
		{&HandshakeError{Phase: "auth", Err: ErrHandshakeTimeout}, "handshake"},
		{&DesyncError{Count: 3}, "desync"},
		{&SendError{Err: errors.New("broken pipe")}, "send"},
		{&ReceiveError{Err: errors.New("reset")}, "receive"},
		{&PanicError{Value: "boom"}, "panic"},
		{errors.New("other"), "receive"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
