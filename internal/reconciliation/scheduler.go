package reconciliation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run polls every interval until ctx is cancelled, starting right away. A failed cycle is
// logged and retried on the next tick.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("cycle failed", zap.Error(err), zap.Time("epoch", s.Epoch()))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("polling stopped")
			return
		case <-ticker.C:
		}
	}
}
