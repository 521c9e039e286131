package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-service/internal/cache"
	"github.com/spec-kit/support-service/internal/events"
	"github.com/spec-kit/support-service/internal/observability"
	"github.com/spec-kit/support-service/internal/repository"
)

const sweepBatchSize = 100

// SLASweeper records SLA breaches on tickets whose deadline has passed and
// announces each breach exactly once.
type SLASweeper struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	stats      cache.StatsCache
	logger     *zap.Logger
	interval   time.Duration
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSLASweeper builds a sweeper running every interval. stats may be nil.
func NewSLASweeper(tickets repository.TicketRepository, dispatcher events.Dispatcher, stats cache.StatsCache, logger *zap.Logger, interval time.Duration) *SLASweeper {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	return &SLASweeper{
		tickets:    tickets,
		dispatcher: dispatcher,
		stats:      stats,
		logger:     logger,
		interval:   interval,
		now:        time.Now,
	}
}

// Start runs a sweep immediately and then on every tick until ctx is done
// or Stop is called.
func (s *SLASweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sla sweep failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	s.logger.Info("sla sweeper started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for the in-flight sweep.
func (s *SLASweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sla sweeper stopped")
}

// Sweep processes overdue tickets in batches and returns how many breaches
// were newly recorded.
func (s *SLASweeper) Sweep(ctx context.Context) (recorded int, err error) {
	defer func() {
		if recorded == 0 {
			return
		}
		if err := s.stats.Invalidate(ctx); err != nil {
			s.logger.Warn("unable to invalidate stats cache", zap.Error(err))
		}
	}()

	for {
		now := s.now()
		candidates, err := s.tickets.ListSLABreachCandidates(ctx, now, sweepBatchSize)
		if err != nil {
			return recorded, err
		}
		for i := range candidates {
			ticket := &candidates[i]
			flipped, err := s.tickets.MarkSLABreached(ctx, ticket.ID)
			if err != nil {
				return recorded, err
			}
			if !flipped {
				continue
			}
			recorded++
			ticket.SLABreachRecorded = true
			observability.TicketSLABreaches.WithLabelValues(string(ticket.Priority)).Inc()
			s.logger.Warn("ticket breached sla",
				zap.String("ticket_id", ticket.ID),
				zap.String("priority", string(ticket.Priority)),
				zap.Time("sla_deadline", ticket.SLADeadline))
			s.publish(ctx, events.New(events.EventTicketSLABreached, ticket, events.SystemActor, now,
				events.TicketSLABreachedPayload{
					Priority:    ticket.Priority,
					SLADeadline: ticket.SLADeadline,
					AssigneeID:  ticket.AssignedToID,
				}))
		}
		if len(candidates) < sweepBatchSize {
			return recorded, nil
		}
	}
}

func (s *SLASweeper) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}
