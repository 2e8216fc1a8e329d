package failover

import (
	"context"
	"testing"
)

// fakeNotifier records every message Notify receives, for asserting a
// switch message is emitted exactly once per Switch call.
type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(msg string) {
	f.messages = append(f.messages, msg)
}

// These endpoints are never dialed over the network: ethclient.DialContext
// against a plain http(s) URL only constructs the client lazily, it does not
// round-trip until the first RPC call, so New can build a pool against
// addresses that are never actually reachable in a test process.
var testEndpoints = []string{
	"http://127.0.0.1:18545",
	"http://127.0.0.1:18546",
	"http://127.0.0.1:18547",
}

func TestNewRequiresAtLeastOneEndpoint(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	if err == nil {
		t.Error("expected an error building a pool with no endpoints")
	}
}

func TestNewSetsCurrentToFirstEndpoint(t *testing.T) {
	p, err := New(context.Background(), testEndpoints, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Current().URL; got != testEndpoints[0] {
		t.Errorf("Current().URL = %s, want %s", got, testEndpoints[0])
	}
	if p.Len() != len(testEndpoints) {
		t.Errorf("Len() = %d, want %d", p.Len(), len(testEndpoints))
	}
}

func TestSwitchRotatesAndNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	p, err := New(context.Background(), testEndpoints, notifier)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Switch(context.Background()); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if got := p.Current().URL; got != testEndpoints[1] {
		t.Errorf("after one Switch, Current().URL = %s, want %s", got, testEndpoints[1])
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("notifier received %d messages, want exactly 1", len(notifier.messages))
	}
}

func TestSwitchWrapsAroundPool(t *testing.T) {
	p, err := New(context.Background(), testEndpoints, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < len(testEndpoints); i++ {
		if err := p.Switch(context.Background()); err != nil {
			t.Fatalf("Switch #%d: %v", i, err)
		}
	}

	// len(testEndpoints) switches from index 0 land back on index 0.
	if got := p.Current().URL; got != testEndpoints[0] {
		t.Errorf("after wrapping around the pool, Current().URL = %s, want %s", got, testEndpoints[0])
	}
}

func TestWaitAdmitsWithinBurst(t *testing.T) {
	p, err := New(context.Background(), testEndpoints, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The default limiter has burst 20, so a handful of immediate Wait
	// calls must not block.
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait #%d: %v", i, err)
		}
	}
}
