package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/clock"
	"github.com/smartgrow/growd/internal/ledger"
)

// LedgerService prunes old ledger entries on an interval.
type LedgerService struct {
	ledger    *ledger.Ledger
	clock     clock.Clock
	interval  time.Duration
	retention time.Duration
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(l *ledger.Ledger, clk clock.Clock, interval time.Duration, retentionDays int) *LedgerService {
	return &LedgerService{
		ledger:    l,
		clock:     clk,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start launches the cleanup loop. It is a no-op when retention is disabled.
func (s *LedgerService) Start(ctx context.Context) {
	if s.retention <= 0 || s.interval <= 0 {
		log.Info().Msg("Ledger retention cleanup is disabled")
		return
	}
	go s.run(ctx)
}

func (s *LedgerService) run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *LedgerService) cleanup() {
	deleted, err := s.ledger.DeleteOlderThan(s.retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", s.retention).Msg("Cleaned up old ledger entries")
	}
}
