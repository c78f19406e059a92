package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

var epoch = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type writeCall struct {
	manual bool
	system remote.System
	value  bool
}

// fakeDevice is an in-memory device API. With blocking set, every write
// waits until the test releases it.
type fakeDevice struct {
	mu       sync.Mutex
	calls    []writeCall
	writeErr error
	failOff  error
	blocking bool
	pending  []chan error

	automation *remote.AutomationConfig
	status     *remote.SystemStatus
	configErr  error
	statusErr  error
}

func (f *fakeDevice) SetAutomation(ctx context.Context, system remote.System, active bool) error {
	return f.write(ctx, writeCall{system: system, value: active})
}

func (f *fakeDevice) ManualControl(ctx context.Context, system remote.System, turnOn bool) error {
	return f.write(ctx, writeCall{manual: true, system: system, value: turnOn})
}

func (f *fakeDevice) write(ctx context.Context, c writeCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	if !f.blocking {
		err := f.writeErr
		if c.manual && !c.value && f.failOff != nil {
			err = f.failOff
		}
		f.mu.Unlock()
		return err
	}
	ch := make(chan error, 1)
	f.pending = append(f.pending, ch)
	f.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeDevice) AutomationConfig(context.Context) (*remote.AutomationConfig, error) {
	return f.automation, f.configErr
}

func (f *fakeDevice) SystemStatus(context.Context) (*remote.SystemStatus, error) {
	return f.status, f.statusErr
}

// waitPending blocks until n writes are waiting for release.
func (f *fakeDevice) waitPending(t *testing.T, n int) {
	t.Helper()
	waitUntil(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.pending) >= n
	})
}

// release answers the i-th blocked write.
func (f *fakeDevice) release(t *testing.T, i int, err error) {
	t.Helper()
	f.waitPending(t, i+1)
	f.mu.Lock()
	ch := f.pending[i]
	f.mu.Unlock()
	ch <- err
}

func (f *fakeDevice) writes() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeCall(nil), f.calls...)
}

type shown struct {
	message string
	kind    notify.Kind
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []shown
	clears int
}

func (n *fakeNotifier) Show(message string, kind notify.Kind) notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, shown{message, kind})
	return notify.Notification{Message: message, Kind: kind}
}

func (n *fakeNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clears++
}

func (n *fakeNotifier) all() []shown {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]shown(nil), n.shown...)
}

func (n *fakeNotifier) last(t *testing.T) shown {
	t.Helper()
	all := n.all()
	if len(all) == 0 {
		t.Fatal("no notification shown")
	}
	return all[len(all)-1]
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []ledger.EventType
}

func (r *fakeRecorder) AppendWithSource(eventType ledger.EventType, _, _ string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *fakeRecorder) types() []ledger.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.EventType(nil), r.events...)
}

func readyStore(st State) *Store {
	s := NewStore(nil)
	s.replace(st)
	return s
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}
