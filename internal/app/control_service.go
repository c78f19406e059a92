package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/config"
	"github.com/smartgrow/growd/internal/control"
	"github.com/smartgrow/growd/internal/eventbus"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/remote"
)

// ControlService wraps the sync engine: device client, state store,
// notification dispatcher, coordinator, pulse controller and bootstrap loader.
type ControlService struct {
	cfg *config.Config

	Client      *remote.Client
	Bus         *eventbus.Bus
	Store       *control.Store
	Notifier    *notify.Dispatcher
	Coordinator *control.Coordinator
	Pulses      *control.PulseController
	Loader      *control.Loader

	bootstrapDone chan struct{}
	closeOnce     sync.Once
}

// NewControlService creates the engine components. Nothing talks to the
// device until Start.
func NewControlService(cfg *config.Config, clk clock.Clock, recorder *ledger.Ledger) *ControlService {
	client := remote.NewClient(
		cfg.Remote.BaseURL,
		remote.Paths{
			Automation: cfg.Remote.AutomationPath,
			Status:     cfg.Remote.StatusPath,
			Manual:     cfg.Remote.ManualPath,
		},
		cfg.Remote.Timeout.Duration(),
		cfg.Remote.RateLimitRPS,
	)

	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	store := control.NewStore(bus)
	notifier := notify.NewDispatcher(clk, bus, cfg.Notifications.Display.Duration(), cfg.Notifications.Exit.Duration())

	var rec control.Recorder
	if recorder != nil {
		rec = recorder
	}

	return &ControlService{
		cfg:         cfg,
		Client:      client,
		Bus:         bus,
		Store:       store,
		Notifier:    notifier,
		Coordinator: control.NewCoordinator(store, client, notifier, rec, cfg.Control.WriteTimeout.Duration()),
		Pulses: control.NewPulseController(control.PulseConfig{
			Clock:        clk,
			Store:        store,
			Writer:       client,
			Notifier:     notifier,
			Recorder:     rec,
			Bus:          bus,
			Hold:         cfg.Control.PulseHold.Duration(),
			WriteTimeout: cfg.Control.WriteTimeout.Duration(),
		}),
		Loader: control.NewLoader(
			client,
			store,
			notifier,
			rec,
			cfg.Control.DefaultIntervalHours,
			cfg.Control.BootstrapTimeout.Duration(),
		),
		bootstrapDone: make(chan struct{}),
	}
}

// Start runs the bootstrap fetch in the background. Intents are ignored
// until it completes.
func (s *ControlService) Start(ctx context.Context) {
	log.Info().Str("device", s.Client.BaseURL()).Msg("Loading device state")

	go func() {
		defer close(s.bootstrapDone)
		_, source := s.Loader.Load(ctx)
		log.Info().Str("source", string(source)).Msg("Control engine ready")
	}()
}

// BootstrapDone is closed once the initial state has been installed.
func (s *ControlService) BootstrapDone() <-chan struct{} {
	return s.bootstrapDone
}

// Close drops in-flight completions and pending timers, waits for the
// outstanding requests to return, then drains the event bus.
func (s *ControlService) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.Coordinator.Close()
		s.Pulses.Close()
		s.Notifier.Close()

		done := make(chan struct{})
		go func() {
			s.Coordinator.Wait()
			s.Pulses.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Msg("Timed out waiting for device requests to finish")
		}

		s.Bus.Close(ctx)
		if err := s.Client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close device client")
		}
	})
}
