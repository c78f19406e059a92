// Package api exposes the control engine to operator UIs over HTTP and a
// WebSocket push stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/control"
	"github.com/smartgrow/growd/internal/eventbus"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/reservoir"
)

// StateView reads the believed device state.
type StateView interface {
	Snapshot() (control.State, bool)
}

// IntentApplier accepts operator intents.
type IntentApplier interface {
	ApplyIntent(in control.Intent) control.Result
}

// Pulser starts and reports manual pulses.
type Pulser interface {
	PulseActuator(a control.Actuator) bool
	Pending() []control.PendingPulse
}

// Notifications reads and dismisses the live notification.
type Notifications interface {
	Current() (notify.Notification, bool)
	Dismiss(id string) bool
}

// History reads the action ledger.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	GetByType(eventType ledger.EventType, limit int) ([]*ledger.Entry, error)
	GetByCorrelation(correlationID string) ([]*ledger.Entry, error)
}

// ReservoirView reads the latest reservoir poll.
type ReservoirView interface {
	Last() (reservoir.Status, bool)
}

// Subscriber is the subscribing half of the event bus.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler)
}

// Deps are the engine components served by the API. History and
// Reservoir may be nil.
type Deps struct {
	State         StateView
	Intents       IntentApplier
	Pulses        Pulser
	Notifications Notifications
	History       History
	Reservoir     ReservoirView
}

// Server is the operator HTTP server.
type Server struct {
	addr       string
	deps       Deps
	hub        *Hub
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a Server and subscribes its WebSocket hub to bus.
func NewServer(addr string, deps Deps, bus Subscriber) *Server {
	s := &Server{addr: addr, deps: deps}
	s.hub = NewHub(HubConfig{}, s.snapshot)
	if bus != nil {
		s.hub.SubscribeTo(bus)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/ws", s.wsConnect)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/state", s.getState)
		v1.POST("/intents", s.postIntent)
		v1.POST("/pulses/:actuator", s.postPulse)
		v1.DELETE("/notification/:id", s.deleteNotification)
		v1.GET("/history", s.getHistory)
	}

	return router
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting operator API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Operator API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs each request through zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
