package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

const bootstrapSource = "bootstrap"

// ErrBootstrapFailed wraps the read failure that forced the default state.
var ErrBootstrapFailed = errors.New("bootstrap failed")

// DefaultBootstrapTimeout bounds the initial fetch.
const DefaultBootstrapTimeout = 15 * time.Second

// Source tells where the bootstrapped state came from.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceDefault Source = "default"
)

// Loader performs the initial full-state fetch.
type Loader struct {
	reader        Reader
	store         *Store
	notifier      notify.Notifier
	recorder      Recorder
	intervalHours int
	timeout       time.Duration
}

// NewLoader creates a Loader. intervalHours is the irrigation interval
// installed at bootstrap; the device does not report one.
func NewLoader(reader Reader, store *Store, notifier notify.Notifier, recorder Recorder, intervalHours int, timeout time.Duration) *Loader {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if intervalHours <= 0 {
		intervalHours = DefaultIntervalHours
	}
	if timeout <= 0 {
		timeout = DefaultBootstrapTimeout
	}
	return &Loader{
		reader:        reader,
		store:         store,
		notifier:      notifier,
		recorder:      recorder,
		intervalHours: intervalHours,
		timeout:       timeout,
	}
}

// Load reads the automation config and system status concurrently and
// installs the mapped state. If either read fails the default state is
// installed instead and an error notification is shown. The Store is
// always ready when Load returns.
func (l *Loader) Load(ctx context.Context) (State, Source) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var automation *remote.AutomationConfig
	var status *remote.SystemStatus

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		automation, err = l.reader.AutomationConfig(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		status, err = l.reader.SystemStatus(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		err = fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
		st := DefaultState()
		st.IrrigationIntervalHours = l.intervalHours
		l.store.replace(st)

		log.Warn().Err(err).Msg("Failed to fetch device state, using defaults")
		l.notifier.Show("Could not load device state, showing defaults", notify.KindError)
		record(l.recorder, ledger.EventBootstrapFallback, "", bootstrapSource, map[string]any{"error": err.Error()})
		return st, SourceDefault
	}

	st := mapState(automation, status, l.intervalHours)
	l.store.replace(st)

	log.Info().
		Bool("auto_irrigation", st.AutoIrrigation).
		Bool("auto_lighting", st.AutoLighting).
		Bool("auto_ventilation", st.AutoVentilation).
		Bool("lights_on", st.LightsOn).
		Bool("ventilation_on", st.VentilationOn).
		Msg("Device state loaded")
	record(l.recorder, ledger.EventBootstrapLoaded, "", bootstrapSource, nil)
	return st, SourceRemote
}

// mapState derives State from the two device snapshots. Manual actuator
// state is inferred from the measured light level and fan speed.
func mapState(a *remote.AutomationConfig, s *remote.SystemStatus, intervalHours int) State {
	return State{
		AutoIrrigation:          a.Irrigation,
		AutoLighting:            a.Lighting,
		AutoVentilation:         a.Ventilation,
		IrrigationIntervalHours: intervalHours,
		LightsOn:                s.LightLevel > 0,
		VentilationOn:           s.FanSpeed > 0,
	}
}
