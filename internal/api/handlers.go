package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/control"
	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/notify"
	"github.com/smartgrow/growd/internal/reservoir"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	errInvalidBodyPrefix = "invalid body: "
	errUnknownField      = "unknown field"
	errUnknownActuator   = "unknown actuator"
	errHistory           = "failed to load history"
	errHistoryDisabled   = "history is disabled"
)

// Snapshot is the full view served by GET /api/v1/state and sent as the
// first WebSocket frame.
type Snapshot struct {
	Ready        bool                   `json:"ready"`
	State        control.State          `json:"state"`
	Pulses       []control.PendingPulse `json:"pulses"`
	Notification *notify.Notification   `json:"notification"`
	Reservoir    *reservoir.Status      `json:"reservoir,omitempty"`
}

type intentResponse struct {
	Result string `json:"result"`
}

type pulseResponse struct {
	Accepted bool `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) snapshot() Snapshot {
	st, ready := s.deps.State.Snapshot()
	snap := Snapshot{
		Ready:  ready,
		State:  st,
		Pulses: s.deps.Pulses.Pending(),
	}
	if n, ok := s.deps.Notifications.Current(); ok {
		snap.Notification = &n
	}
	if s.deps.Reservoir != nil {
		if r, ok := s.deps.Reservoir.Last(); ok {
			snap.Reservoir = &r
		}
	}
	return snap
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) ready(c *gin.Context) {
	if _, ready := s.deps.State.Snapshot(); !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) postIntent(c *gin.Context) {
	var in control.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errInvalidBodyPrefix + err.Error()})
		return
	}
	if !in.Field.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errUnknownField})
		return
	}

	result := s.deps.Intents.ApplyIntent(in)
	c.JSON(http.StatusOK, intentResponse{Result: result.String()})
}

func (s *Server) postPulse(c *gin.Context) {
	a := control.Actuator(c.Param("actuator"))
	if !a.Valid() {
		c.JSON(http.StatusNotFound, errorResponse{Error: errUnknownActuator})
		return
	}
	c.JSON(http.StatusOK, pulseResponse{Accepted: s.deps.Pulses.PulseActuator(a)})
}

func (s *Server) deleteNotification(c *gin.Context) {
	if !s.deps.Notifications.Dismiss(c.Param("id")) {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getHistory(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: errHistoryDisabled})
		return
	}

	// ?correlation= returns every entry of one intent or pulse and ignores
	// limit; otherwise ?type= narrows the newest entries to one event type.
	var (
		entries []*ledger.Entry
		err     error
	)
	if id := c.Query("correlation"); id != "" {
		entries, err = s.deps.History.GetByCorrelation(id)
	} else if typ := c.Query("type"); typ != "" {
		entries, err = s.deps.History.GetByType(ledger.EventType(typ), parseLimit(c))
	} else {
		entries, err = s.deps.History.Recent(parseLimit(c))
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errHistory})
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

// parseLimit reads ?limit=N, clamped to (0, maxHistoryLimit].
func parseLimit(c *gin.Context) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil || v <= 0 {
		return defaultHistoryLimit
	}
	if v > maxHistoryLimit {
		return maxHistoryLimit
	}
	return v
}
