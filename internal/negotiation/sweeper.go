package negotiation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires proposals left unanswered for longer than a TTL.
type Sweeper struct {
	engine   *Engine
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive ttl disables expiry; a
// non-positive interval defaults to one minute.
func NewSweeper(engine *Engine, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, ttl: ttl, interval: interval, logger: logger}
}

// Sweep expires every SENT proposal older than the TTL once.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.engine.ExpireBefore(ctx, s.engine.now().Add(-s.ttl))
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		s.logger.Warn("proposal expiry disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
			n, err := s.Sweep(sweepCtx)
			cancel()
			if err != nil {
				s.logger.Error("proposal sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("proposals expired", "count", n)
			}
		}
	}
}
