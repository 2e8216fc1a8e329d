package sink

import (
	"errors"
	"testing"
)

// countingSink fails its first failUntil calls, then succeeds.
type countingSink struct {
	calls     int
	failUntil int
	last      Event
}

func (c *countingSink) Write(e Event) error {
	c.calls++
	c.last = e
	if c.calls <= c.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

func TestRetrySinkSucceedsAfterTransientFailures(t *testing.T) {
	inner := &countingSink{failUntil: 2}
	s := NewRetrySink(inner, 5, 1)

	if err := s.Write(Event{"k": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("inner sink called %d times, want 3 (2 failures + 1 success)", inner.calls)
	}
}

func TestRetrySinkExhaustsAttemptsAndReturnsError(t *testing.T) {
	inner := &countingSink{failUntil: 100}
	s := NewRetrySink(inner, 3, 1)

	if err := s.Write(Event{"k": "v"}); err == nil {
		t.Fatal("expected an error once every attempt has failed")
	}
	if inner.calls != 3 {
		t.Errorf("inner sink called %d times, want 3 (the configured attempt count)", inner.calls)
	}
}

func TestRetrySinkDefaultsSubOneAttemptToOne(t *testing.T) {
	inner := &countingSink{failUntil: 0}
	s := NewRetrySink(inner, 0, 1)

	if err := s.Write(Event{"k": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner sink called %d times, want 1", inner.calls)
	}
}

func TestNewRetrySinkNilInnerReturnsNil(t *testing.T) {
	if s := NewRetrySink(nil, 3, 10); s != nil {
		t.Error("NewRetrySink(nil, ...) should return a nil Sink")
	}
}
