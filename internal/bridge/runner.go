// internal/bridge/runner.go
package bridge

import (
	"context"
	"time"
)

// Run drives the main loop until ctx is done, invoking emit on the stats
// interval. The loop never sleeps: the design depends on Task being
// called often enough that ring consumers keep pace with producers.
func (b *Bridge) Run(ctx context.Context, statsInterval time.Duration, emit func()) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if emit != nil {
				emit()
			}
		default:
		}
		b.Task()
	}
}
