package session

import (
	"context"
	"time"
)

const DefaultSweepInterval = time.Minute

// Delete sessions not refreshed for the configured idle timeout
// No-op when idle timeout is zero
func (a *Authority) SweepIdle(ctx context.Context) (int64, error) {
	if a.cfg.IdleTimeout == 0 {
		return 0, nil
	}

	before := a.clock().Add(-a.cfg.IdleTimeout)
	n, err := a.sessions.DeleteIdleSessions(ctx, before)
	if err != nil {
		return 0, err
	}

	a.metrics.SessionsRevoked("idle", n)
	return n, nil
}

// Sweep idle sessions every interval until ctx is done
// Returned channel is closed when the sweeper stopped; right away if sweeping is disabled
func (a *Authority) RunSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	idleStopped := make(chan struct{})

	if a.cfg.IdleTimeout == 0 {
		close(idleStopped)
		return idleStopped
	}

	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	a.logger.Debug("Starting session sweeper", "interval", interval, "idle_timeout", a.cfg.IdleTimeout)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.logger.Debug("Session sweeper stopped by context")
				return

			case <-ticker.C:
				n, err := a.SweepIdle(ctx)
				if err != nil {
					a.logger.Error("Failed to sweep idle sessions", "error", err)
					continue
				}
				if n > 0 {
					a.logger.Info("Idle sessions swept", "count", n)
				}
			}
		}
	}()

	return idleStopped
}
