package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-recommend/logger"
)

// RunSweeper calls s.Sweep every interval until ctx is done. It blocks, so
// run it in its own goroutine. A non-positive interval returns immediately.
func RunSweeper(ctx context.Context, interval time.Duration, s Sweeper, log logger.Logger) {
	if interval <= 0 || s == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 && log != nil {
				log.Debug("sweep removed %d expired entries", removed)
			}
		}
	}
}
