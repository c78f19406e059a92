// Package notify implements the single-slot operator notification with
// timed auto-dismiss and a two-phase (exiting, then removed) dismissal.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/eventbus"
)

// Kind is the notification severity.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Phase is where a live notification is in its lifecycle.
type Phase string

const (
	PhaseVisible Phase = "visible"
	PhaseExiting Phase = "exiting"
)

// Default lifecycle timings
const (
	DefaultDisplay = 5000 * time.Millisecond
	DefaultExit    = 300 * time.Millisecond
)

// Notification is a read-only snapshot of the live notification.
type Notification struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Kind    Kind      `json:"kind"`
	Phase   Phase     `json:"phase"`
	ShownAt time.Time `json:"shown_at"`
}

// Change is published on the bus on every transition. Current is nil once
// the notification has been removed.
type Change struct {
	Current *Notification `json:"current"`
}

// Notifier is the subset used by the control engine.
type Notifier interface {
	Show(message string, kind Kind) Notification
	Clear()
}

// Dispatcher owns the live notification.
type Dispatcher struct {
	clock   clock.Clock
	bus     eventbus.Publisher
	display time.Duration
	exit    time.Duration

	mu      sync.Mutex
	current *entry
	closed  bool
}

type entry struct {
	n         Notification
	dismissAt *clock.Timer
	removeAt  *clock.Timer
}

// NewDispatcher creates a Dispatcher. A nil bus disables publishing.
func NewDispatcher(clk clock.Clock, bus eventbus.Publisher, display, exit time.Duration) *Dispatcher {
	if display <= 0 {
		display = DefaultDisplay
	}
	if exit <= 0 {
		exit = DefaultExit
	}
	return &Dispatcher{
		clock:   clk,
		bus:     bus,
		display: display,
		exit:    exit,
	}
}

// Show replaces any live notification with a new one and starts its
// auto-dismiss timer.
func (d *Dispatcher) Show(message string, kind Kind) Notification {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Notification{}
	}

	if d.current != nil {
		d.current.stopTimers()
	}

	e := &entry{n: Notification{
		ID:      uuid.NewString(),
		Message: message,
		Kind:    kind,
		Phase:   PhaseVisible,
		ShownAt: d.clock.Now(),
	}}
	d.current = e
	e.dismissAt = d.clock.AfterFunc(d.display, func() { d.beginExit(e) })
	snapshot := e.n
	d.publish(&snapshot)
	d.mu.Unlock()

	log.Debug().Str("id", snapshot.ID).Str("kind", string(kind)).Str("text", message).Msg("Notification shown")
	return snapshot
}

// Clear starts dismissal of the live notification, if any.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	e := d.current
	d.mu.Unlock()
	if e != nil {
		d.beginExit(e)
	}
}

// Dismiss is the operator's explicit close. It returns false if id is not
// the live notification.
func (d *Dispatcher) Dismiss(id string) bool {
	d.mu.Lock()
	e := d.current
	d.mu.Unlock()
	if e == nil || e.n.ID != id {
		return false
	}
	d.beginExit(e)
	return true
}

// Current returns the live notification, including one that is exiting.
func (d *Dispatcher) Current() (Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Notification{}, false
	}
	return d.current.n, true
}

// Close cancels all pending timers. Later calls are no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.current != nil {
		d.current.stopTimers()
	}
}

// beginExit moves e into the exiting phase. It is a no-op if e has been
// superseded or is already exiting.
func (d *Dispatcher) beginExit(e *entry) {
	d.mu.Lock()
	if d.closed || d.current != e || e.n.Phase == PhaseExiting {
		d.mu.Unlock()
		return
	}
	e.dismissAt.Stop()
	e.n.Phase = PhaseExiting
	e.removeAt = d.clock.AfterFunc(d.exit, func() { d.remove(e) })
	snapshot := e.n
	d.publish(&snapshot)
	d.mu.Unlock()
}

func (d *Dispatcher) remove(e *entry) {
	d.mu.Lock()
	if d.closed || d.current != e {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.publish(nil)
	d.mu.Unlock()

	log.Debug().Str("id", e.n.ID).Msg("Notification removed")
}

// publish must be called with d.mu held so bus sequence numbers follow the
// order of transitions. Publish never blocks.
func (d *Dispatcher) publish(n *Notification) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeNotificationChanged,
		Data: Change{Current: n},
	})
}

func (e *entry) stopTimers() {
	e.dismissAt.Stop()
	e.removeAt.Stop()
}
