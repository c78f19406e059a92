package reservoir

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

var epoch = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type fakeReader struct {
	mu     sync.Mutex
	levels []float64
	err    error
	calls  int
}

func (f *fakeReader) SystemStatus(context.Context) (*remote.SystemStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	level := f.levels[0]
	if len(f.levels) > 1 {
		f.levels = f.levels[1:]
	}
	return &remote.SystemStatus{ReservoirLevelCm: level}, nil
}

func (f *fakeReader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []string
}

func (n *fakeNotifier) Show(message string, kind notify.Kind) notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, string(kind)+":"+message)
	return notify.Notification{Message: message, Kind: kind}
}

func (n *fakeNotifier) Clear() {}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

type fakeRecorder struct {
	events []ledger.EventType
}

func (r *fakeRecorder) AppendWithSource(eventType ledger.EventType, _, _ string, _ map[string]any) error {
	r.events = append(r.events, eventType)
	return nil
}

func TestCheck_Threshold(t *testing.T) {
	tests := []struct {
		name    string
		level   float64
		wantLow bool
	}{
		{"full", 5, false},
		{"at_threshold", 26, false},
		{"just_above", 26.1, true},
		{"empty", 40, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			rec := &fakeRecorder{}
			w := New(Config{
				Clock:    clock.Fake(epoch),
				Reader:   &fakeReader{levels: []float64{tt.level}},
				Notifier: n,
				Recorder: rec,
			})

			st, ok := w.Check(context.Background())
			if !ok {
				t.Fatal("Check() failed")
			}
			if st.Low != tt.wantLow {
				t.Errorf("Low = %v, want %v", st.Low, tt.wantLow)
			}
			wantShown := 0
			if tt.wantLow {
				wantShown = 1
			}
			if n.count() != wantShown {
				t.Errorf("notifications = %v, want %d", n.shown, wantShown)
			}
			if tt.wantLow && n.shown[0] != "error:"+DefaultMessage {
				t.Errorf("notification = %q", n.shown[0])
			}
			if len(rec.events) != wantShown {
				t.Errorf("ledger = %v", rec.events)
			}
		})
	}
}

func TestCheck_FailureIsLoggedOnly(t *testing.T) {
	n := &fakeNotifier{}
	w := New(Config{
		Clock:    clock.Fake(epoch),
		Reader:   &fakeReader{err: errors.New("offline")},
		Notifier: n,
	})

	if _, ok := w.Check(context.Background()); ok {
		t.Fatal("Check() succeeded on read failure")
	}
	if n.count() != 0 {
		t.Error("notification shown for poll failure")
	}
	if _, ok := w.Last(); ok {
		t.Error("Last() reports a status after failed poll")
	}
}

func TestWatcher_PollsOnInterval(t *testing.T) {
	clk := clock.Fake(epoch)
	reader := &fakeReader{levels: []float64{10, 30}}
	n := &fakeNotifier{}
	w := New(Config{Clock: clk, Reader: reader, Notifier: n, Threshold: 20})

	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool { return reader.count() == 1 })
	if n.count() != 0 {
		t.Fatal("notification on healthy startup poll")
	}

	clk.Advance(DefaultPollInterval)
	waitFor(t, func() bool { return n.count() == 1 })

	st, ok := w.Last()
	if !ok || st.LevelCm != 30 || !st.Low {
		t.Errorf("Last() = %+v, %v", st, ok)
	}
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	reader := &fakeReader{levels: []float64{10}}
	w := New(Config{Clock: clock.Fake(epoch), Reader: reader, Notifier: &fakeNotifier{}})

	w.Stop()
	w.Start(context.Background())
	w.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := reader.count(); got != 0 {
		t.Fatalf("reader called %d times after Stop, want 0", got)
	}
}

func TestWatcher_ConcurrentStartStop(t *testing.T) {
	reader := &fakeReader{levels: []float64{10}}
	w := New(Config{Clock: clock.Fake(epoch), Reader: reader, Notifier: &fakeNotifier{}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		w.Stop()
	}()
	wg.Wait()

	// Whichever ran first, the watcher must end up halted.
	w.Stop()
	calls := reader.count()
	time.Sleep(20 * time.Millisecond)
	if got := reader.count(); got != calls {
		t.Fatalf("reader still polled after Stop: %d -> %d", calls, got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}
