package worker

import (
	"context"

	"github.com/spec-kit/support-service/internal/service"
)

// Background bundles the jobs that run alongside the HTTP server.
type Background struct {
	Notifications *service.NotificationService
	Sweeper       *SLASweeper
}

// Start subscribes notification handlers before the sweeper begins
// publishing breach events.
func (b *Background) Start(ctx context.Context) {
	if b.Notifications != nil {
		b.Notifications.RegisterHandlers()
	}
	if b.Sweeper != nil {
		b.Sweeper.Start(ctx)
	}
}

// Stop halts the sweeper.
func (b *Background) Stop() {
	if b.Sweeper != nil {
		b.Sweeper.Stop()
	}
}
