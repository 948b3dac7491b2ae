package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunMatchJob calls Match every interval until ctx is done.
func (s *OrderService) RunMatchJob(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// Failures are logged by Match; the next tick tries again.
			_, _ = s.Match(ctx)
		}
	}
}

// RunEpochJob calls AdvanceEpoch every interval until ctx is done.
func (s *OrderService) RunEpochJob(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.AdvanceEpoch(); n > 0 {
				s.log.Debug("reclaimed", zap.Int("slots", n))
			}
		}
	}
}
