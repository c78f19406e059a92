package control

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/eventbus"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

const pulseSource = "pulse"

// DefaultPulseHold is how long a manual pulse keeps the actuator on.
const DefaultPulseHold = 3000 * time.Millisecond

// Actuator names a momentary actuator that can be pulsed.
type Actuator string

const ActuatorIrrigation Actuator = "irrigation"

type actuatorSpec struct {
	system remote.System
	label  string
	locked func(State) bool
}

var actuatorSpecs = map[Actuator]actuatorSpec{
	ActuatorIrrigation: {
		system: remote.SystemIrrigation,
		label:  "Manual irrigation",
		locked: func(s State) bool { return s.AutoIrrigation },
	},
}

// Valid reports whether a names a pulseable actuator.
func (a Actuator) Valid() bool {
	_, ok := actuatorSpecs[a]
	return ok
}

// PendingPulse describes a pulse in progress. Deadline is zero until the
// turn-on has been confirmed and the reversal scheduled.
type PendingPulse struct {
	Actuator  Actuator  `json:"actuator"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// PulseChange is published on the bus when an actuator enters or leaves
// the pulsing state.
type PulseChange struct {
	Actuator Actuator      `json:"actuator"`
	Pulsing  bool          `json:"pulsing"`
	Pending  *PendingPulse `json:"pending,omitempty"`
}

type pulse struct {
	id      string
	pending PendingPulse
	timer   *clock.Timer
}

// PulseController drives momentary actuators through Idle → Pulsing → Idle.
// An actuator is Pulsing exactly while it has an entry in pulses.
type PulseController struct {
	clock    clock.Clock
	store    *Store
	writer   Writer
	notifier notify.Notifier
	recorder Recorder
	bus      eventbus.Publisher
	hold     time.Duration
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pulses map[Actuator]*pulse
	closed bool
}

// PulseConfig holds the PulseController collaborators.
type PulseConfig struct {
	Clock        clock.Clock
	Store        *Store
	Writer       Writer
	Notifier     notify.Notifier
	Recorder     Recorder
	Bus          eventbus.Publisher
	Hold         time.Duration
	WriteTimeout time.Duration
}

// NewPulseController creates a PulseController.
func NewPulseController(cfg PulseConfig) *PulseController {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultPulseHold
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PulseController{
		clock:    cfg.Clock,
		store:    cfg.Store,
		writer:   cfg.Writer,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		bus:      cfg.Bus,
		hold:     cfg.Hold,
		timeout:  cfg.WriteTimeout,
		ctx:      ctx,
		cancel:   cancel,
		pulses:   make(map[Actuator]*pulse),
	}
}

// PulseActuator starts a pulse. It returns false without side effects if
// the actuator is unknown, locked by its automation flag, already pulsing,
// or the state has not been loaded.
func (pc *PulseController) PulseActuator(a Actuator) bool {
	spec, ok := actuatorSpecs[a]
	if !ok {
		return false
	}

	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return false
	}
	st, ready := pc.store.Snapshot()
	if !ready || spec.locked(st) {
		pc.mu.Unlock()
		log.Debug().Str("actuator", string(a)).Bool("ready", ready).Msg("Pulse ignored: actuator locked")
		return false
	}
	if _, busy := pc.pulses[a]; busy {
		pc.mu.Unlock()
		log.Debug().Str("actuator", string(a)).Msg("Pulse ignored: already pulsing")
		return false
	}

	p := &pulse{
		id:      uuid.NewString(),
		pending: PendingPulse{Actuator: a, StartedAt: pc.clock.Now()},
	}
	pc.pulses[a] = p
	pc.wg.Add(1)
	pending := p.pending
	pc.publish(PulseChange{Actuator: a, Pulsing: true, Pending: &pending})
	pc.mu.Unlock()

	pc.notifier.Clear()
	record(pc.recorder, ledger.EventPulseStarted, p.id, pulseSource, map[string]any{"actuator": string(a)})
	log.Info().Str("actuator", string(a)).Msg("Pulse started")

	go pc.turnOn(spec, p)
	return true
}

func (pc *PulseController) turnOn(spec actuatorSpec, p *pulse) {
	defer pc.wg.Done()

	a := p.pending.Actuator
	ctx, cancel := context.WithTimeout(pc.ctx, pc.timeout)
	err := pc.writer.ManualControl(ctx, spec.system, true)
	cancel()

	pc.mu.Lock()
	if pc.closed || pc.pulses[a] != p {
		pc.mu.Unlock()
		return
	}
	if err != nil {
		delete(pc.pulses, a)
		pc.publish(PulseChange{Actuator: a, Pulsing: false})
		pc.mu.Unlock()

		log.Warn().Err(err).Str("actuator", string(a)).Msg("Pulse turn-on failed")
		pc.notifier.Show("Failed to start "+lowerFirst(spec.label), notify.KindError)
		record(pc.recorder, ledger.EventPulseFailed, p.id, pulseSource, map[string]any{"error": err.Error()})
		return
	}

	p.pending.Deadline = pc.clock.Now().Add(pc.hold)
	p.timer = pc.clock.AfterFunc(pc.hold, func() { pc.revert(spec, p) })
	pending := p.pending
	pc.publish(PulseChange{Actuator: a, Pulsing: true, Pending: &pending})
	pc.mu.Unlock()

	log.Info().Str("actuator", string(a)).Time("deadline", pending.Deadline).Msg("Pulse on, reversal scheduled")
	pc.notifier.Show(spec.label+" started", notify.KindSuccess)
}

// revert returns the actuator to Idle and sends the turn-off without
// waiting for it; a failed turn-off is logged only.
func (pc *PulseController) revert(spec actuatorSpec, p *pulse) {
	a := p.pending.Actuator

	pc.mu.Lock()
	if pc.closed || pc.pulses[a] != p {
		pc.mu.Unlock()
		return
	}
	delete(pc.pulses, a)
	pc.wg.Add(1)
	pc.publish(PulseChange{Actuator: a, Pulsing: false})
	pc.mu.Unlock()

	record(pc.recorder, ledger.EventPulseReverted, p.id, pulseSource, nil)

	go func() {
		defer pc.wg.Done()
		ctx, cancel := context.WithTimeout(pc.ctx, pc.timeout)
		defer cancel()
		if err := pc.writer.ManualControl(ctx, spec.system, false); err != nil {
			log.Error().Err(err).Str("actuator", string(a)).Msg("Pulse turn-off failed")
			record(pc.recorder, ledger.EventPulseOffFailed, p.id, pulseSource, map[string]any{"error": err.Error()})
			return
		}
		log.Info().Str("actuator", string(a)).Msg("Pulse complete")
	}()
}

// Pulsing reports whether a is mid-pulse.
func (pc *PulseController) Pulsing(a Actuator) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	_, ok := pc.pulses[a]
	return ok
}

// Pending returns the pulses in progress, ordered by actuator.
func (pc *PulseController) Pending() []PendingPulse {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	out := make([]PendingPulse, 0, len(pc.pulses))
	for _, p := range pc.pulses {
		out = append(out, p.pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actuator < out[j].Actuator })
	return out
}

// Wait blocks until every turn-on and turn-off request has returned.
func (pc *PulseController) Wait() {
	pc.wg.Wait()
}

// Close drops scheduled reversals and cancels in-flight requests.
func (pc *PulseController) Close() {
	pc.mu.Lock()
	pc.closed = true
	for _, p := range pc.pulses {
		p.timer.Stop()
	}
	pc.mu.Unlock()
	pc.cancel()
}

// publish is called with pc.mu held so bus sequence numbers follow the
// order of transitions.
func (pc *PulseController) publish(change PulseChange) {
	if pc.bus == nil {
		return
	}
	pc.bus.Publish(eventbus.Event{Type: eventbus.EventTypePulseChanged, Data: change})
}
