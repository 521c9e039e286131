package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-service/internal/cache"
	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/events"
	"github.com/spec-kit/support-service/internal/observability"
	"github.com/spec-kit/support-service/internal/repository"
	apperrors "github.com/spec-kit/support-service/pkg/util/errorutil"
)

// System message bodies.
const (
	msgClosedByUser   = "Ticket closed by user"
	msgStatusChanged  = "Status changed from %s to %s"
	msgAssignedToUser = "Ticket assigned to %s"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	users      repository.UserRepository
	tx         repository.Transactor
	stats      cache.StatsCache
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	UserRepo    repository.UserRepository
	Transactor  repository.Transactor
	StatsCache  cache.StatsCache
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		users:      deps.UserRepo,
		tx:         deps.Transactor,
		stats:      deps.StatsCache,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        deps.Clock,
	}
	if s.stats == nil {
		s.stats = cache.NoopStatsCache{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateTicketInput describes ticket creation payload. Priority and category
// are raw client values; unknown values fall back to MEDIUM and OTHER.
type CreateTicketInput struct {
	Subject     string
	Description string
	Priority    string
	Category    string
}

// AddMessageInput describes a reply posted to a ticket.
type AddMessageInput struct {
	Content     string
	IsInternal  bool
	Attachments []string
}

// OptionalString distinguishes an absent field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

// UpdateTicketInput carries staff edits. Nil or unparseable status and
// priority values are ignored.
type UpdateTicketInput struct {
	Status       *string
	Priority     *string
	AssignedToID OptionalString
}

// UserTicketFilter describes end-user listing filters.
type UserTicketFilter struct {
	Status string
	Page   int
	Limit  int
}

// StaffTicketFilter describes staff listing filters.
type StaffTicketFilter struct {
	Status       string
	Priority     string
	Category     string
	Search       string
	AssignedToMe bool
	Page         int
	Limit        int
}

// Pagination describes the page returned by list operations.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// TicketPage is a page of tickets.
type TicketPage struct {
	Items      []domain.Ticket
	Pagination Pagination
}

// TicketDetail is a ticket with its visible thread.
type TicketDetail struct {
	Ticket   *domain.Ticket
	Messages []domain.TicketMessage
}

// CreateTicket opens a ticket and records the description as its first message.
func (s *TicketService) CreateTicket(ctx context.Context, userID string, input CreateTicketInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	description := strings.TrimSpace(input.Description)
	if subject == "" || description == "" {
		return nil, apperrors.NewValidationError("subject and description are required", map[string]any{
			"subject":     subject == "",
			"description": description == "",
		})
	}

	now := s.now()
	priority := domain.ParseTicketPriorityOrDefault(input.Priority)
	ticket := &domain.Ticket{
		UserID:      userID,
		Subject:     subject,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    priority,
		Category:    domain.ParseTicketCategoryOrDefault(input.Category),
		SLADeadline: domain.SLADeadlineFor(now, priority),
		CreatedAt:   now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return err
		}
		return s.messages.Create(ctx, &domain.TicketMessage{
			TicketID:    ticket.ID,
			UserID:      &userID,
			Content:     description,
			Type:        domain.MessageTypeUser,
			Attachments: []string{},
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, s.mapError(err, "ticket", ticket.ID)
	}

	observability.TicketsCreated.WithLabelValues(string(ticket.Priority), string(ticket.Category)).Inc()
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("user_id", userID),
		zap.String("priority", string(ticket.Priority)))
	s.afterMutation(ctx, events.New(events.EventTicketCreated, ticket, events.UserActor(userID, domain.RoleUser), now,
		events.TicketCreatedPayload{
			Subject:  ticket.Subject,
			Priority: ticket.Priority,
			Category: ticket.Category,
			Deadline: ticket.SLADeadline,
		}))
	return ticket, nil
}

// GetTicketByID returns the ticket and the thread visible to the requester.
func (s *TicketService) GetTicketByID(ctx context.Context, ticketID, requesterID string, requesterRole domain.Role) (*TicketDetail, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}
	if !canView(ticket, requesterID, requesterRole) {
		return nil, apperrors.NewForbidden("access denied")
	}

	msgs, err := s.messages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}
	visible := make([]domain.TicketMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.VisibleTo(requesterRole) {
			visible = append(visible, msg)
		}
	}
	ticket.SLABreached = ticket.IsSLABreached(s.now())
	return &TicketDetail{Ticket: ticket, Messages: visible}, nil
}

// AddMessage appends a reply and advances the two-party status ping-pong.
func (s *TicketService) AddMessage(ctx context.Context, ticketID, userID string, userRole domain.Role, input AddMessageInput) (*domain.TicketMessage, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, apperrors.NewValidationError("content is required", map[string]any{"content": true})
	}

	staff := userRole.IsStaff()
	msg := &domain.TicketMessage{
		TicketID:    ticketID,
		UserID:      &userID,
		Content:     content,
		Type:        domain.MessageTypeUser,
		IsInternal:  staff && input.IsInternal,
		Attachments: input.Attachments,
	}
	if staff {
		msg.Type = domain.MessageTypeSupport
	}
	if msg.Attachments == nil {
		msg.Attachments = []string{}
	}

	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !canView(ticket, userID, userRole) {
			return apperrors.NewForbidden("access denied")
		}

		now := s.now()
		msg.CreatedAt = now
		oldStatus = ticket.Status
		applyReplyTransition(ticket, msg, now)

		if err := s.messages.Create(ctx, msg); err != nil {
			return err
		}
		if ticket.Status != oldStatus {
			return s.tickets.Update(ctx, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}

	if author, err := s.users.GetByID(ctx, userID); err == nil {
		msg.Author = &domain.UserRef{ID: author.ID, Name: author.Name}
	}

	actor := events.UserActor(userID, userRole)
	evts := []events.Event{events.New(events.EventTicketMessageAdded, ticket, actor, msg.CreatedAt,
		events.TicketMessageAddedPayload{
			MessageID:   msg.ID,
			MessageType: msg.Type,
			IsInternal:  msg.IsInternal,
			BodyPreview: events.Preview(msg.Content),
		})}
	if ticket.Status != oldStatus {
		evts = append(evts, s.statusChanged(ticket, actor, oldStatus, msg.CreatedAt))
	}
	s.afterMutation(ctx, evts...)
	return msg, nil
}

// applyReplyTransition moves the ticket between the staff and requester
// courts. Internal notes leave the status alone.
func applyReplyTransition(ticket *domain.Ticket, msg *domain.TicketMessage, now time.Time) {
	if msg.IsInternal {
		return
	}
	switch {
	case msg.Type == domain.MessageTypeSupport:
		if ticket.Status == domain.TicketStatusOpen {
			ticket.Status = domain.TicketStatusInProgress
			if ticket.FirstResponseAt == nil {
				ticket.FirstResponseAt = &now
			}
		}
		ticket.Status = domain.TicketStatusWaitingResponse
	case msg.UserID != nil && ticket.IsOwnedBy(*msg.UserID):
		if ticket.Status == domain.TicketStatusWaitingResponse {
			ticket.Status = domain.TicketStatusOpen
		}
	}
}

// CloseTicket lets the owner close their own ticket.
func (s *TicketService) CloseTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
		now       time.Time
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.IsOwnedBy(userID) {
			return apperrors.NewForbidden("only the ticket owner can close it")
		}

		now = s.now()
		oldStatus = ticket.Status
		ticket.Status = domain.TicketStatusClosed
		if ticket.ClosedAt == nil {
			ticket.ClosedAt = &now
		}
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		return s.appendSystemMessage(ctx, ticket.ID, msgClosedByUser, now)
	})
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}

	ticket.SLABreached = ticket.IsSLABreached(now)
	s.logger.Info("ticket closed", zap.String("ticket_id", ticket.ID), zap.String("user_id", userID))
	var evts []events.Event
	if oldStatus != ticket.Status {
		evts = append(evts, s.statusChanged(ticket, events.UserActor(userID, domain.RoleUser), oldStatus, now))
	}
	s.afterMutation(ctx, evts...)
	return ticket, nil
}

// UpdateTicket applies staff edits to status, priority and assignment.
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID, actorID string, input UpdateTicketInput) (*domain.Ticket, error) {
	var (
		ticket      *domain.Ticket
		oldStatus   domain.TicketStatus
		oldPriority domain.TicketPriority
		assignment  *events.TicketAssignedPayload
		now         time.Time
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ticket, err = s.tickets.GetForUpdate(ctx, ticketID)
		if err != nil {
			return err
		}

		now = s.now()
		oldStatus = ticket.Status
		oldPriority = ticket.Priority

		if input.Status != nil {
			if status, ok := domain.ParseTicketStatus(*input.Status); ok {
				ticket.Status = status
				if status == domain.TicketStatusResolved && ticket.ResolvedAt == nil {
					ticket.ResolvedAt = &now
				}
				if status == domain.TicketStatusClosed && ticket.ClosedAt == nil {
					ticket.ClosedAt = &now
				}
			}
		}
		if input.Priority != nil {
			if priority, ok := domain.ParseTicketPriority(*input.Priority); ok {
				ticket.Priority = priority
				ticket.SLADeadline = domain.SLADeadlineFor(ticket.CreatedAt, priority)
			}
		}
		if input.AssignedToID.Set {
			assignment, err = s.applyAssignment(ctx, ticket, input.AssignedToID.Value)
			if err != nil {
				return err
			}
		}

		if err := s.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		if ticket.Status != oldStatus {
			return s.appendSystemMessage(ctx, ticket.ID, statusChangeMessage(oldStatus, ticket.Status), now)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "ticket", ticketID)
	}

	ticket.SLABreached = ticket.IsSLABreached(now)
	actor := events.UserActor(actorID, "")
	var evts []events.Event
	if ticket.Status != oldStatus {
		evts = append(evts, s.statusChanged(ticket, actor, oldStatus, now))
	}
	if ticket.Priority != oldPriority {
		evts = append(evts, events.New(events.EventTicketPriorityChanged, ticket, actor, now,
			events.TicketPriorityChangedPayload{
				OldPriority: oldPriority,
				NewPriority: ticket.Priority,
				SLADeadline: ticket.SLADeadline,
			}))
	}
	if assignment != nil {
		evts = append(evts, events.New(events.EventTicketAssigned, ticket, actor, now, *assignment))
	}
	s.logger.Info("ticket updated",
		zap.String("ticket_id", ticket.ID),
		zap.String("actor_id", actorID),
		zap.String("status", string(ticket.Status)),
		zap.String("priority", string(ticket.Priority)))
	s.afterMutation(ctx, evts...)
	return ticket, nil
}

func statusChangeMessage(from, to domain.TicketStatus) string {
	return fmt.Sprintf(msgStatusChanged, from.Label(), to.Label())
}

// ListUserTickets returns the caller's own tickets, newest first.
func (s *TicketService) ListUserTickets(ctx context.Context, userID string, filter UserTicketFilter) (*TicketPage, error) {
	page, limit, offset := pageBounds(filter.Page, filter.Limit)
	repoFilter := repository.TicketFilter{
		UserID: &userID,
		Now:    s.now(),
		Limit:  limit,
		Offset: offset,
	}
	if status, ok := domain.ParseTicketStatus(filter.Status); ok {
		repoFilter.Statuses = []domain.TicketStatus{status}
	}
	return s.list(ctx, repoFilter, page, limit)
}

// ListAllTickets returns every ticket matching the staff filters.
func (s *TicketService) ListAllTickets(ctx context.Context, actorID string, filter StaffTicketFilter) (*TicketPage, error) {
	page, limit, offset := pageBounds(filter.Page, filter.Limit)
	repoFilter := repository.TicketFilter{
		Now:    s.now(),
		Limit:  limit,
		Offset: offset,
	}
	if status, ok := domain.ParseTicketStatus(filter.Status); ok {
		repoFilter.Statuses = []domain.TicketStatus{status}
	}
	if priority, ok := domain.ParseTicketPriority(filter.Priority); ok {
		repoFilter.Priorities = []domain.TicketPriority{priority}
	}
	if category, ok := domain.ParseTicketCategory(filter.Category); ok {
		repoFilter.Categories = []domain.TicketCategory{category}
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		repoFilter.SearchTerm = &search
	}
	if filter.AssignedToMe {
		repoFilter.AssignedToID = &actorID
	}
	return s.list(ctx, repoFilter, page, limit)
}

func (s *TicketService) list(ctx context.Context, filter repository.TicketFilter, page, limit int) (*TicketPage, error) {
	items, total, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &TicketPage{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

func pageBounds(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	limit, _ = repository.NormalizePage(limit, 0)
	return page, limit, (page - 1) * limit
}

// GetStats returns the dashboard counters, served from cache when possible.
// The breach count depends on the clock rather than on writes, so it is
// always recounted at query time.
func (s *TicketService) GetStats(ctx context.Context) (*domain.TicketStats, error) {
	cached, ok, err := s.stats.Get(ctx)
	switch {
	case err != nil:
		s.logger.Warn("stats cache unavailable", zap.Error(err))
		observability.StatsCacheLookups.WithLabelValues("error").Inc()
	case ok:
		observability.StatsCacheLookups.WithLabelValues("hit").Inc()
		breached, err := s.tickets.CountSLABreached(ctx, s.now())
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		stats := *cached
		stats.SLABreached = breached
		return &stats, nil
	default:
		observability.StatsCacheLookups.WithLabelValues("miss").Inc()
	}

	stats, err := s.tickets.Stats(ctx, s.now())
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	stats.AvgResolutionTimeHours = math.Round(stats.AvgResolutionTimeHours*10) / 10

	if err := s.stats.Set(ctx, stats); err != nil {
		s.logger.Warn("unable to cache stats", zap.Error(err))
	}
	return stats, nil
}

func canView(ticket *domain.Ticket, userID string, role domain.Role) bool {
	return ticket.IsOwnedBy(userID) || role.IsStaff()
}

func (s *TicketService) appendSystemMessage(ctx context.Context, ticketID, content string, at time.Time) error {
	return s.messages.Create(ctx, &domain.TicketMessage{
		TicketID:    ticketID,
		Content:     content,
		Type:        domain.MessageTypeSystem,
		Attachments: []string{},
		CreatedAt:   at,
	})
}

func (s *TicketService) statusChanged(ticket *domain.Ticket, actor events.Actor, old domain.TicketStatus, at time.Time) events.Event {
	observability.TicketStatusTransitions.WithLabelValues(string(old), string(ticket.Status)).Inc()
	return events.New(events.EventTicketStatusChanged, ticket, actor, at, events.TicketStatusChangedPayload{
		OldStatus: old,
		NewStatus: ticket.Status,
	})
}

// afterMutation runs once the transaction committed: the cached stats are
// dropped and the events delivered.
func (s *TicketService) afterMutation(ctx context.Context, evts ...events.Event) {
	if err := s.stats.Invalidate(ctx); err != nil {
		s.logger.Warn("unable to invalidate stats cache", zap.Error(err))
	}
	if s.dispatcher == nil {
		return
	}
	for _, event := range evts {
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("event publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
}

func (s *TicketService) mapError(err error, resource, id string) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	default:
		return apperrors.NewInternalError(err)
	}
}
