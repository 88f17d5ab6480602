package jobs

import (
	"context"
	"time"

	"sparklenote/server/internal/hub"
)

// StartKeepaliveJob periodically pings every live event stream so that
// subscribers whose connection died in an idle roll are pruned instead of
// lingering until the roll's next publish.
func StartKeepaliveJob(ctx context.Context, eventHub *hub.Hub, interval time.Duration) {
	if interval <= 0 {
		interval = 25 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eventHub.Ping()
			}
		}
	}()
}
