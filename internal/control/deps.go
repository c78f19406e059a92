package control

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/ledger"
	"github.com/smartgrow/growd/internal/remote"
)

// Reader is the read half of the device API.
type Reader interface {
	AutomationConfig(ctx context.Context) (*remote.AutomationConfig, error)
	SystemStatus(ctx context.Context) (*remote.SystemStatus, error)
}

// Writer is the write half of the device API.
type Writer interface {
	SetAutomation(ctx context.Context, system remote.System, active bool) error
	ManualControl(ctx context.Context, system remote.System, turnOn bool) error
}

// Recorder appends to the action ledger.
type Recorder interface {
	AppendWithSource(eventType ledger.EventType, correlationID, source string, payload map[string]any) error
}

type nopRecorder struct{}

func (nopRecorder) AppendWithSource(ledger.EventType, string, string, map[string]any) error {
	return nil
}

// record appends to the ledger; failures are logged and otherwise ignored.
func record(r Recorder, eventType ledger.EventType, correlationID, source string, payload map[string]any) {
	if err := r.AppendWithSource(eventType, correlationID, source, payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
	}
}
