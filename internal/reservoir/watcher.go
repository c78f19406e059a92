// Package reservoir polls the device status and warns when the water
// reservoir runs low.
package reservoir

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/eventbus"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

const (
	DefaultPollInterval = time.Minute
	// DefaultLowThreshold is in centimetres. The sensor measures the
	// distance down to the water surface, so a larger value means less water.
	DefaultLowThreshold = 26.0
	DefaultMessage      = "Reservoir level is low!"

	pollTimeout = 10 * time.Second
)

// StatusReader reads the device status snapshot.
type StatusReader interface {
	SystemStatus(ctx context.Context) (*remote.SystemStatus, error)
}

// Recorder appends to the action ledger.
type Recorder interface {
	AppendWithSource(eventType ledger.EventType, correlationID, source string, payload map[string]any) error
}

// Status is the result of the latest successful poll.
type Status struct {
	LevelCm   float64   `json:"level_cm"`
	Low       bool      `json:"low"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config holds the Watcher collaborators and thresholds.
type Config struct {
	Clock     clock.Clock
	Reader    StatusReader
	Notifier  notify.Notifier
	Recorder  Recorder
	Bus       eventbus.Publisher
	Interval  time.Duration
	Threshold float64
	Message   string
}

// Watcher polls the reservoir level on an interval.
type Watcher struct {
	cfg Config

	mu      sync.Mutex
	last    Status
	checked bool

	runMu   sync.Mutex
	halted  bool
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Watcher. Zero values in cfg take the package defaults.
func New(cfg Config) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLowThreshold
	}
	if cfg.Message == "" {
		cfg.Message = DefaultMessage
	}
	return &Watcher{cfg: cfg}
}

// Start polls once immediately and then on every interval until ctx is
// cancelled or Stop is called. Start after Stop, or a second Start, does
// nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.halted || w.stop != nil {
		return
	}
	stop := make(chan struct{})
	stopped := make(chan struct{})
	w.stop, w.stopped = stop, stopped

	ticker := w.cfg.Clock.NewTicker(w.cfg.Interval)

	go func() {
		defer close(stopped)
		defer ticker.Stop()

		w.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				w.Check(ctx)
			}
		}
	}()

	log.Debug().Dur("interval", w.cfg.Interval).Float64("threshold_cm", w.cfg.Threshold).Msg("Started reservoir watcher")
}

// Stop ends the polling goroutine and waits for it to exit. It is safe to
// call before Start, concurrently with it, and more than once.
func (w *Watcher) Stop() {
	w.runMu.Lock()
	w.halted = true
	stop, stopped := w.stop, w.stopped
	w.stop = nil
	w.runMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	log.Debug().Msg("Stopped reservoir watcher")
}

// Check performs one poll. Failures are logged and leave the last status
// unchanged.
func (w *Watcher) Check(ctx context.Context) (Status, bool) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	s, err := w.cfg.Reader.SystemStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to poll reservoir level")
		return Status{}, false
	}

	st := Status{
		LevelCm:   s.ReservoirLevelCm,
		Low:       s.ReservoirLevelCm > w.cfg.Threshold,
		CheckedAt: w.cfg.Clock.Now(),
	}

	w.mu.Lock()
	w.last = st
	w.checked = true
	w.mu.Unlock()

	if w.cfg.Bus != nil {
		w.cfg.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeReservoirStatus, Data: st})
	}

	if !st.Low {
		log.Debug().Float64("level_cm", st.LevelCm).Msg("Reservoir level ok")
		return st, true
	}

	log.Warn().Float64("level_cm", st.LevelCm).Float64("threshold_cm", w.cfg.Threshold).Msg("Reservoir level low")
	w.cfg.Notifier.Show(w.cfg.Message, notify.KindError)
	if w.cfg.Recorder != nil {
		if err := w.cfg.Recorder.AppendWithSource(ledger.EventReservoirLow, "", "reservoir", map[string]any{"level_cm": st.LevelCm}); err != nil {
			log.Warn().Err(err).Msg("Failed to append to ledger")
		}
	}
	return st, true
}

// Last returns the most recent successful poll, if any.
func (w *Watcher) Last() (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.checked
}
