package escalate

import (
	"log/slog"
	"testing"
	"time"
)

func TestTimerFiresAfterDelay(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, slog.Default())

	fired := make(chan struct{})
	timer := s.Arm("call-1", func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	if !timer.Fired() {
		t.Fatal("Fired() should report true after callback ran")
	}
	if timer.Cancel() {
		t.Fatal("Cancel after firing must report false")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewScheduler(20*time.Millisecond, slog.Default())

	fired := make(chan struct{}, 1)
	timer := s.Arm("call-2", func() { fired <- struct{}{} })

	if !timer.Cancel() {
		t.Fatal("expected Cancel on a pending timer to report true")
	}

	select {
	case <-fired:
		t.Fatal("cancelled timer fired anyway")
	case <-time.After(100 * time.Millisecond):
	}

	if timer.Cancel() {
		t.Fatal("second Cancel must report false")
	}
}

func TestDefaultDelay(t *testing.T) {
	s := NewScheduler(0, nil)
	if s.Delay() != 30*time.Second {
		t.Fatalf("expected 30s default delay, got %v", s.Delay())
	}
}
