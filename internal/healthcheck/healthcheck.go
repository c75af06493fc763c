package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Warmer is satisfied by *marine.Service.
type Warmer interface {
	Warm(ctx context.Context) int
}

// Prewarm refreshes missing or expired port snapshots once at start and then
// on every tick, until ctx is cancelled. Upstream health changes are recorded
// by the refreshes themselves.
func Prewarm(
	ctx context.Context,
	warmer Warmer,
	interval time.Duration,
	clock clockwork.Clock,
	logger *slog.Logger,
) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	warm := func() {
		start := clock.Now()
		warmed := warmer.Warm(ctx)
		logger.Debug("Pre-warm finished",
			slog.Int("warmed", warmed),
			slog.Duration("took", clock.Since(start)))
	}

	logger.Info("Pre-warm started", slog.Duration("interval", interval))
	warm()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pre-warm stopped")
			return

		case <-ticker.Chan():
			warm()
		}
	}
}
