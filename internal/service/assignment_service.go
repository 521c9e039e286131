package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/events"
	"github.com/spec-kit/support-service/internal/repository"
	apperrors "github.com/spec-kit/support-service/pkg/util/errorutil"
)

// AssignTicketToSelf makes the calling staff member the assignee. Any
// previous assignee is replaced. OPEN tickets move to IN_PROGRESS.
func (s *TicketService) AssignTicketToSelf(ctx context.Context, ticketID, adminID string) (*domain.Ticket, error) {
	var (
		ticket     *domain.Ticket
		oldStatus  domain.TicketStatus
		previous   *string
		assignment *events.TicketAssignedPayload
		now        time.Time
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}

		now = s.now()
		oldStatus = ticket.Status
		previous = ticket.AssignedToID

		assignment, err = s.applyAssignment(ctx, ticket, &adminID)
		if err != nil {
			return err
		}
		if ticket.Status == domain.TicketStatusOpen {
			ticket.Status = domain.TicketStatusInProgress
		}
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		return s.appendSystemMessage(ctx, ticket.ID, fmt.Sprintf(msgAssignedToUser, assignment.AssigneeName), now)
	})
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}

	if previous != nil && *previous != adminID {
		s.logger.Info("ticket reassigned",
			zap.String("ticket_id", ticket.ID),
			zap.String("previous_assignee_id", *previous),
			zap.String("assignee_id", adminID))
	}

	ticket.SLABreached = ticket.IsSLABreached(now)
	actor := events.UserActor(adminID, "")
	evts := []events.Event{events.New(events.EventTicketAssigned, ticket, actor, now, *assignment)}
	if ticket.Status != oldStatus {
		evts = append(evts, s.statusChanged(ticket, actor, oldStatus, now))
	}
	s.afterMutation(ctx, evts...)
	return ticket, nil
}

// applyAssignment points the ticket at assigneeID, or clears the assignment
// when it is nil. Only ADMIN and SUPPORT accounts can be assigned.
func (s *TicketService) applyAssignment(ctx context.Context, ticket *domain.Ticket, assigneeID *string) (*events.TicketAssignedPayload, error) {
	if assigneeID == nil {
		ticket.AssignedToID = nil
		ticket.Assignee = nil
		return &events.TicketAssignedPayload{}, nil
	}

	staff, err := s.users.GetStaffByID(ctx, *assigneeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("staff member", map[string]any{"id": *assigneeID})
		}
		return nil, err
	}
	ticket.AssignedToID = &staff.ID
	ticket.Assignee = &domain.UserRef{ID: staff.ID, Name: staff.Name}
	return &events.TicketAssignedPayload{AssigneeID: &staff.ID, AssigneeName: staff.Name}, nil
}
