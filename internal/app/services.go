package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/api"
	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/config"
	"github.com/smartgrow/growd/internal/db"
	"github.com/smartgrow/growd/internal/eventbus"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/reservoir"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg   *config.Config
	clock clock.Clock

	// Core infrastructure
	DB     *db.DB
	Ledger *LedgerService

	// Engine and its surfaces
	Control   *ControlService
	Reservoir *reservoir.Watcher
	API       *APIService

	started bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, clk clock.Clock) (*Services, error) {
	s := &Services{cfg: cfg, clock: clk}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	l := ledger.New(database.DB)
	s.Ledger = NewLedgerService(l, clk, cfg.Ledger.CleanupInterval.Duration(), cfg.Ledger.RetentionDays)

	s.Control = NewControlService(cfg, clk, l)

	if cfg.Reservoir.IsEnabled() {
		s.Reservoir = reservoir.New(reservoir.Config{
			Clock:     clk,
			Reader:    s.Control.Client,
			Notifier:  s.Control.Notifier,
			Recorder:  l,
			Bus:       s.Control.Bus,
			Interval:  cfg.Reservoir.PollInterval.Duration(),
			Threshold: cfg.Reservoir.LowThreshold,
			Message:   cfg.Reservoir.Message,
		})
	}

	deps := api.Deps{
		State:         s.Control.Store,
		Intents:       s.Control.Coordinator,
		Pulses:        s.Control.Pulses,
		Notifications: s.Control.Notifier,
		History:       l,
	}
	if s.Reservoir != nil {
		deps.Reservoir = s.Reservoir
	}
	s.API = NewAPIService(cfg, deps, s.Control.Bus)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.started = true

	// Subscribe before bootstrap publishes the first state.
	s.Control.Bus.Subscribe(eventbus.EventTypeStateChanged, logStateChange)

	if s.API != nil {
		s.API.Start(ctx, onFatalError)
	}
	s.Control.Start(ctx)
	s.Ledger.Start(ctx)

	if s.Reservoir != nil {
		go func() {
			select {
			case <-s.Control.BootstrapDone():
				s.Reservoir.Start(ctx)
			case <-ctx.Done():
			}
		}()
	}

	return nil
}

// ResetHistory deletes every ledger entry.
func (s *Services) ResetHistory() error {
	return s.Ledger.ledger.Clear()
}

// Stop gracefully stops all services. The context passed to Start must
// already be cancelled.
func (s *Services) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	if s.started && s.API != nil {
		s.API.Wait()
	}
	if s.Reservoir != nil {
		s.Reservoir.Stop()
	}
	s.Control.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
		s.DB = nil
	}
}

func logStateChange(ev eventbus.Event) {
	log.Debug().Uint64("seq", ev.Seq).Interface("change", ev.Data).Msg("State changed")
}
