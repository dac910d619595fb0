package usercontext

import (
	"context"
	"time"
)

// StartSweeper launches a background goroutine that reclaims expired
// contexts every interval until ctx is cancelled.
func (f *Factory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.Sweep()
			}
		}
	}()
}
