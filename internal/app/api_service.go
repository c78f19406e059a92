package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/api"
	"github.com/smartgrow/growd/internal/config"
)

// APIService runs the operator HTTP and WebSocket server.
type APIService struct {
	cfg    *config.Config
	Server *api.Server
	done   chan struct{}
}

// NewAPIService creates the server. It returns nil when the API is disabled.
func NewAPIService(cfg *config.Config, deps api.Deps, bus api.Subscriber) *APIService {
	if !cfg.API.IsEnabled() {
		return nil
	}
	return &APIService{
		cfg:    cfg,
		Server: api.NewServer(cfg.API.Addr(), deps, bus),
		done:   make(chan struct{}),
	}
}

// Start serves in the background until ctx is cancelled. A listener
// failure is reported through onFatalError.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	go func() {
		defer close(s.done)
		if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Operator API server error")
			onFatalError(err)
		}
	}()
}

// Wait blocks until the server has shut down.
func (s *APIService) Wait() {
	<-s.done
}
