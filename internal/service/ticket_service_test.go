package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/events"
	"github.com/spec-kit/support-service/internal/repository"
	"github.com/spec-kit/support-service/internal/repository/memory"
	apperrors "github.com/spec-kit/support-service/pkg/util/errorutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingCache struct {
	mu          sync.Mutex
	stored      *domain.TicketStats
	invalidated int
}

func (c *countingCache) Get(context.Context) (*domain.TicketStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored, c.stored != nil, nil
}

func (c *countingCache) Set(_ context.Context, stats *domain.TicketStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = stats
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = nil
	c.invalidated++
	return nil
}

type fixture struct {
	svc      *TicketService
	store    *memory.Store
	clock    *fakeClock
	cache    *countingCache
	events   []events.Event
	owner    *domain.User
	agent    *domain.User
	admin    *domain.User
	stranger *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		clock: &fakeClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
		cache: &countingCache{},
	}
	ctx := context.Background()
	f.owner = f.user(t, ctx, "Olivia Owner", domain.RoleUser)
	f.stranger = f.user(t, ctx, "Sam Stranger", domain.RoleUser)
	f.agent = f.user(t, ctx, "Alex Agent", domain.RoleSupport)
	f.admin = f.user(t, ctx, "Ada Admin", domain.RoleAdmin)

	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketStatusChanged,
		events.EventTicketPriorityChanged,
		events.EventTicketAssigned,
		events.EventTicketMessageAdded,
	} {
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			f.events = append(f.events, e)
			return nil
		})
	}

	f.svc = NewTicketService(TicketDependencies{
		TicketRepo:  f.store.Tickets(),
		MessageRepo: f.store.Messages(),
		UserRepo:    f.store.Users(),
		Transactor:  f.store.Transactor(),
		StatsCache:  f.cache,
		Dispatcher:  dispatcher,
		Clock:       f.clock.Now,
	})
	return f
}

func (f *fixture) user(t *testing.T, ctx context.Context, name string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Name: name, Email: name + "@example.com", Role: role}
	require.NoError(t, f.store.Users().Create(ctx, u))
	return u
}

func (f *fixture) createTicket(t *testing.T, priority string) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), f.owner.ID, CreateTicketInput{
		Subject:     "Custom domain broken",
		Description: "My portfolio shows a 404 on my domain",
		Priority:    priority,
		Category:    "TECHNICAL",
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.store.Tickets().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) thread(t *testing.T, id string) []domain.TicketMessage {
	t.Helper()
	msgs, err := f.store.Messages().ListByTicket(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) eventTypes() []events.EventType {
	types := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

func TestCreateTicketSetsSLADeadlinePerPriority(t *testing.T) {
	cases := map[string]time.Duration{
		"LOW":    72 * time.Hour,
		"MEDIUM": 48 * time.Hour,
		"HIGH":   24 * time.Hour,
		"URGENT": 4 * time.Hour,
	}
	for priority, window := range cases {
		t.Run(priority, func(t *testing.T) {
			f := newFixture(t)
			ticket := f.createTicket(t, priority)

			assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
			assert.Equal(t, domain.TicketPriority(priority), ticket.Priority)
			assert.Equal(t, ticket.CreatedAt.Add(window), ticket.SLADeadline)
			assert.False(t, ticket.SLABreachRecorded)
		})
	}
}

func TestCreateTicketDefaultsInvalidEnums(t *testing.T) {
	f := newFixture(t)
	ticket, err := f.svc.CreateTicket(context.Background(), f.owner.ID, CreateTicketInput{
		Subject:     "Help",
		Description: "Something is off",
		Priority:    "critical",
		Category:    "",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, domain.TicketCategoryOther, ticket.Category)
	assert.Equal(t, ticket.CreatedAt.Add(48*time.Hour), ticket.SLADeadline)
}

func TestCreateTicketRecordsInitialUserMessage(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "HIGH")

	msgs := f.thread(t, ticket.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageTypeUser, msgs[0].Type)
	assert.Equal(t, ticket.Description, msgs[0].Content)
	require.NotNil(t, msgs[0].UserID)
	assert.Equal(t, f.owner.ID, *msgs[0].UserID)
	assert.False(t, msgs[0].IsInternal)
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.eventTypes())
}

func TestCreateTicketRequiresSubjectAndDescription(t *testing.T) {
	f := newFixture(t)
	inputs := []CreateTicketInput{
		{Subject: "", Description: "body"},
		{Subject: "subject", Description: "   "},
		{},
	}
	for _, input := range inputs {
		_, err := f.svc.CreateTicket(context.Background(), f.owner.ID, input)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	}

	_, total, err := f.store.Tickets().List(context.Background(), repository.TicketFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, f.events)
}

func TestStaffReplyMovesOpenTicketToWaitingAndStampsFirstResponseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "MEDIUM")

	f.clock.Advance(time.Hour)
	firstReplyAt := f.clock.Now()
	_, err := f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{Content: "Looking into it"})
	require.NoError(t, err)

	got := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusWaitingResponse, got.Status)
	require.NotNil(t, got.FirstResponseAt)
	assert.Equal(t, firstReplyAt, *got.FirstResponseAt)

	f.clock.Advance(time.Hour)
	_, err = f.svc.AddMessage(ctx, ticket.ID, f.owner.ID, f.owner.Role, AddMessageInput{Content: "Still broken"})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, f.reload(t, ticket.ID).Status)

	f.clock.Advance(time.Hour)
	_, err = f.svc.AddMessage(ctx, ticket.ID, f.admin.ID, f.admin.Role, AddMessageInput{Content: "Fixed DNS"})
	require.NoError(t, err)

	got = f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusWaitingResponse, got.Status)
	require.NotNil(t, got.FirstResponseAt)
	assert.Equal(t, firstReplyAt, *got.FirstResponseAt)
}

func TestStaffReplyFromOtherStatusesEndsWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "MEDIUM")
	status := "IN_PROGRESS"
	_, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{Status: &status})
	require.NoError(t, err)

	_, err = f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{Content: "Any update?"})
	require.NoError(t, err)

	got := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusWaitingResponse, got.Status)
	assert.Nil(t, got.FirstResponseAt)
}

func TestInternalNoteNeverChangesStatus(t *testing.T) {
	for _, status := range domain.TicketStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ticket := f.createTicket(t, "LOW")
			raw := string(status)
			_, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{Status: &raw})
			require.NoError(t, err)

			msg, err := f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{
				Content:    "Customer is on the legacy plan",
				IsInternal: true,
			})
			require.NoError(t, err)
			assert.True(t, msg.IsInternal)
			assert.Equal(t, domain.MessageTypeSupport, msg.Type)

			got := f.reload(t, ticket.ID)
			assert.Equal(t, status, got.Status)
			assert.Nil(t, got.FirstResponseAt)
		})
	}
}

func TestUserReplyOnlyReopensWaitingTickets(t *testing.T) {
	for _, status := range domain.TicketStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ticket := f.createTicket(t, "LOW")
			raw := string(status)
			_, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{Status: &raw})
			require.NoError(t, err)

			msg, err := f.svc.AddMessage(ctx, ticket.ID, f.owner.ID, f.owner.Role, AddMessageInput{Content: "ping"})
			require.NoError(t, err)
			assert.Equal(t, domain.MessageTypeUser, msg.Type)

			want := status
			if status == domain.TicketStatusWaitingResponse {
				want = domain.TicketStatusOpen
			}
			assert.Equal(t, want, f.reload(t, ticket.ID).Status)
		})
	}
}

func TestUserCannotPostInternalMessages(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "LOW")

	msg, err := f.svc.AddMessage(context.Background(), ticket.ID, f.owner.ID, f.owner.Role, AddMessageInput{
		Content:    "secret?",
		IsInternal: true,
	})
	require.NoError(t, err)
	assert.False(t, msg.IsInternal)
	assert.Equal(t, domain.MessageTypeUser, msg.Type)
	require.NotNil(t, msg.Author)
	assert.Equal(t, f.owner.Name, msg.Author.Name)
}

func TestAddMessageRequiresContent(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "LOW")

	_, err := f.svc.AddMessage(context.Background(), ticket.ID, f.owner.ID, f.owner.Role, AddMessageInput{Content: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	assert.Len(t, f.thread(t, ticket.ID), 1)
}

func TestNonStaffNeverSeeInternalMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "HIGH")

	_, err := f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{Content: "internal", IsInternal: true})
	require.NoError(t, err)
	_, err = f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{Content: "public"})
	require.NoError(t, err)

	detail, err := f.svc.GetTicketByID(ctx, ticket.ID, f.owner.ID, f.owner.Role)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	for _, msg := range detail.Messages {
		assert.False(t, msg.IsInternal)
	}
	assert.Equal(t, "public", detail.Messages[1].Content)

	staffView, err := f.svc.GetTicketByID(ctx, ticket.ID, f.agent.ID, f.agent.Role)
	require.NoError(t, err)
	require.Len(t, staffView.Messages, 3)
	assert.Equal(t, "internal", staffView.Messages[1].Content)
	require.NotNil(t, staffView.Messages[1].Author)
	assert.Equal(t, f.agent.Name, staffView.Messages[1].Author.Name)
}

func TestStrangerIsDeniedAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "HIGH")

	_, err := f.svc.GetTicketByID(ctx, ticket.ID, f.stranger.ID, f.stranger.Role)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.AddMessage(ctx, ticket.ID, f.stranger.ID, f.stranger.Role, AddMessageInput{Content: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.CloseTicket(ctx, ticket.ID, f.stranger.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	assert.Len(t, f.thread(t, ticket.ID), 1)
	assert.Equal(t, domain.TicketStatusOpen, f.reload(t, ticket.ID).Status)
}

func TestMissingTicketIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetTicketByID(ctx, "missing", f.admin.ID, f.admin.Role)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.svc.AddMessage(ctx, "missing", f.admin.ID, f.admin.Role, AddMessageInput{Content: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.svc.AssignTicketToSelf(ctx, "missing", f.admin.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestCloseTicketByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "HIGH")
	f.clock.Advance(30 * time.Minute)

	closed, err := f.svc.CloseTicket(ctx, ticket.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	closedAt := *closed.ClosedAt
	assert.Equal(t, f.clock.Now(), closedAt)

	msgs := f.thread(t, ticket.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageTypeSystem, msgs[1].Type)
	assert.Equal(t, "Ticket closed by user", msgs[1].Content)
	assert.Nil(t, msgs[1].UserID)

	f.clock.Advance(time.Hour)
	_, err = f.svc.CloseTicket(ctx, ticket.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, closedAt, *f.reload(t, ticket.ID).ClosedAt)
}

func TestStaffCannotCloseOnBehalfOfOwner(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "HIGH")

	_, err := f.svc.CloseTicket(context.Background(), ticket.ID, f.admin.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestPriorityChangeRecomputesDeadlineFromCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "LOW")

	f.clock.Advance(10 * time.Hour)
	priority := "urgent"
	updated, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{Priority: &priority})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)
	assert.Equal(t, ticket.CreatedAt.Add(4*time.Hour), updated.SLADeadline)
	assert.True(t, updated.SLABreached)
	assert.Equal(t, ticket.CreatedAt.Add(4*time.Hour), f.reload(t, ticket.ID).SLADeadline)
	assert.Contains(t, f.eventTypes(), events.EventTicketPriorityChanged)
	assert.Len(t, f.thread(t, ticket.ID), 1)
}

func TestUpdateTicketIgnoresInvalidValues(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "LOW")

	status, priority := "REOPENED", "whenever"
	updated, err := f.svc.UpdateTicket(context.Background(), ticket.ID, f.admin.ID, UpdateTicketInput{
		Status:   &status,
		Priority: &priority,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, updated.Status)
	assert.Equal(t, domain.TicketPriorityLow, updated.Priority)
	assert.Len(t, f.thread(t, ticket.ID), 1)
}

func TestUpdateTicketStatusStampsAndRecordsSystemMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "MEDIUM")

	resolved := "RESOLVED"
	f.clock.Advance(2 * time.Hour)
	updated, err := f.svc.UpdateTicket(ctx, ticket.ID, f.agent.ID, UpdateTicketInput{Status: &resolved})
	require.NoError(t, err)
	require.NotNil(t, updated.ResolvedAt)
	resolvedAt := *updated.ResolvedAt

	closed := "CLOSED"
	f.clock.Advance(time.Hour)
	updated, err = f.svc.UpdateTicket(ctx, ticket.ID, f.agent.ID, UpdateTicketInput{Status: &closed})
	require.NoError(t, err)
	require.NotNil(t, updated.ClosedAt)
	assert.Equal(t, resolvedAt, *updated.ResolvedAt)

	msgs := f.thread(t, ticket.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Status changed from Open to Resolved", msgs[1].Content)
	assert.Equal(t, "Status changed from Resolved to Closed", msgs[2].Content)
	assert.Equal(t, domain.MessageTypeSystem, msgs[2].Type)
}

func TestUpdateTicketAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "MEDIUM")

	updated, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{
		AssignedToID: OptionalString{Set: true, Value: &f.agent.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedToID)
	assert.Equal(t, f.agent.ID, *updated.AssignedToID)
	require.NotNil(t, updated.Assignee)
	assert.Equal(t, f.agent.Name, updated.Assignee.Name)

	updated, err = f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{})
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedToID)

	updated, err = f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{
		AssignedToID: OptionalString{Set: true},
	})
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedToID)
	assert.Nil(t, f.reload(t, ticket.ID).AssignedToID)
}

func TestUpdateTicketRejectsNonStaffAssigneeAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "MEDIUM")

	resolved := "RESOLVED"
	for _, assignee := range []string{f.stranger.ID, "no-such-user"} {
		id := assignee
		_, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{
			Status:       &resolved,
			AssignedToID: OptionalString{Set: true, Value: &id},
		})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
		assert.Equal(t, "staff member not found", apperrors.ToDomainError(err).Message)
	}

	got := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Nil(t, got.AssignedToID)
	assert.Len(t, f.thread(t, ticket.ID), 1)
}

func TestAssignTicketToSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "HIGH")

	assigned, err := f.svc.AssignTicketToSelf(ctx, ticket.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, assigned.Status)
	require.NotNil(t, assigned.AssignedToID)
	assert.Equal(t, f.admin.ID, *assigned.AssignedToID)

	msgs := f.thread(t, ticket.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Ticket assigned to Ada Admin", msgs[1].Content)
	assert.Equal(t, domain.MessageTypeSystem, msgs[1].Type)

	// Reassignment overwrites without complaint and leaves status alone.
	reassigned, err := f.svc.AssignTicketToSelf(ctx, ticket.ID, f.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, f.agent.ID, *reassigned.AssignedToID)
	assert.Equal(t, domain.TicketStatusInProgress, reassigned.Status)
}

func TestAssignTicketToSelfKeepsNonOpenStatus(t *testing.T) {
	for _, status := range domain.TicketStatuses {
		if status == domain.TicketStatusOpen {
			continue
		}
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			ticket := f.createTicket(t, "HIGH")
			raw := string(status)
			_, err := f.svc.UpdateTicket(ctx, ticket.ID, f.admin.ID, UpdateTicketInput{Status: &raw})
			require.NoError(t, err)

			assigned, err := f.svc.AssignTicketToSelf(ctx, ticket.ID, f.agent.ID)
			require.NoError(t, err)
			assert.Equal(t, status, assigned.Status)
		})
	}
}

func TestListUserTicketsPaginatesOwnTicketsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.createTicket(t, "LOW").ID)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.CreateTicket(ctx, f.stranger.ID, CreateTicketInput{Subject: "other", Description: "other"})
	require.NoError(t, err)

	page, err := f.svc.ListUserTickets(ctx, f.owner.ID, UserTicketFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)

	page, err = f.svc.ListUserTickets(ctx, f.owner.ID, UserTicketFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = f.svc.ListUserTickets(ctx, f.owner.ID, UserTicketFilter{Status: "closed"})
	require.NoError(t, err)
	assert.Zero(t, page.Pagination.Total)
	assert.Zero(t, page.Pagination.TotalPages)
}

func TestListAllTicketsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	billing, err := f.svc.CreateTicket(ctx, f.owner.ID, CreateTicketInput{
		Subject:     "Invoice missing",
		Description: "No invoice for March",
		Priority:    "HIGH",
		Category:    "BILLING",
	})
	require.NoError(t, err)
	technical := f.createTicket(t, "LOW")
	_, err = f.svc.AssignTicketToSelf(ctx, technical.ID, f.agent.ID)
	require.NoError(t, err)

	page, err := f.svc.ListAllTickets(ctx, f.agent.ID, StaffTicketFilter{Category: "billing"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, billing.ID, page.Items[0].ID)

	page, err = f.svc.ListAllTickets(ctx, f.agent.ID, StaffTicketFilter{Search: "INVOICE"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, billing.ID, page.Items[0].ID)

	page, err = f.svc.ListAllTickets(ctx, f.agent.ID, StaffTicketFilter{AssignedToMe: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, technical.ID, page.Items[0].ID)
	require.NotNil(t, page.Items[0].Assignee)
	assert.Equal(t, f.agent.Name, page.Items[0].Assignee.Name)
	require.NotNil(t, page.Items[0].User)
	assert.Equal(t, f.owner.Email, page.Items[0].User.Email)

	page, err = f.svc.ListAllTickets(ctx, f.admin.ID, StaffTicketFilter{Status: "bogus", Priority: "HIGH"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestGetStatsUsesCacheUntilMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createTicket(t, "LOW")

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	require.NotNil(t, f.cache.stored)

	cached, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.cache.stored, cached)
	assert.NotSame(t, f.cache.stored, cached)

	invalidations := f.cache.invalidated
	f.createTicket(t, "HIGH")
	assert.Equal(t, invalidations+1, f.cache.invalidated)
	assert.Nil(t, f.cache.stored)

	stats, err = f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestGetStatsRecountsBreachesOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.createTicket(t, "URGENT")

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SLABreached)
	require.NotNil(t, f.cache.stored)

	f.clock.Advance(5 * time.Hour)

	page, err := f.svc.ListAllTickets(ctx, f.admin.ID, StaffTicketFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].SLABreached)

	stats, err = f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.NotNil(t, f.cache.stored, "counters still served from cache")
	assert.Equal(t, 1, stats.SLABreached)
	assert.Zero(t, f.cache.stored.SLABreached)
	assert.Equal(t, ticket.ID, page.Items[0].ID)
}

type failingCache struct{ countingCache }

func (*failingCache) Get(context.Context) (*domain.TicketStats, bool, error) {
	return nil, false, errors.New("redis down")
}

func TestGetStatsFallsBackWhenCacheFails(t *testing.T) {
	f := newFixture(t)
	f.svc.stats = &failingCache{}
	f.createTicket(t, "LOW")

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestStatsRoundsAverageResolutionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolved := "RESOLVED"

	first := f.createTicket(t, "LOW")
	f.clock.Advance(time.Hour + 20*time.Minute)
	_, err := f.svc.UpdateTicket(ctx, first.ID, f.admin.ID, UpdateTicketInput{Status: &resolved})
	require.NoError(t, err)

	second := f.createTicket(t, "LOW")
	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.UpdateTicket(ctx, second.ID, f.admin.ID, UpdateTicketInput{Status: &resolved})
	require.NoError(t, err)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	// (1.333 + 2) / 2 = 1.666
	assert.Equal(t, 1.7, stats.AvgResolutionTimeHours)
	assert.Equal(t, 2, stats.Resolved)
	assert.Zero(t, stats.OpenLike)
}

func TestStatsWithoutResolvedTicketsReportsZeroAverage(t *testing.T) {
	f := newFixture(t)
	f.createTicket(t, "LOW")

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.AvgResolutionTimeHours)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.ByCategory[domain.TicketCategoryTechnical])
}

func TestUrgentTicketLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket := f.createTicket(t, "URGENT")
	assert.Equal(t, ticket.CreatedAt.Add(4*time.Hour), ticket.SLADeadline)

	f.clock.Advance(30 * time.Minute)
	_, err := f.svc.AddMessage(ctx, ticket.ID, f.agent.ID, f.agent.Role, AddMessageInput{Content: "On it"})
	require.NoError(t, err)
	got := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusWaitingResponse, got.Status)
	require.NotNil(t, got.FirstResponseAt)

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.AddMessage(ctx, ticket.ID, f.owner.ID, f.owner.Role, AddMessageInput{Content: "Thanks, details attached", Attachments: []string{"https://cdn.example.com/a.png"}})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, f.reload(t, ticket.ID).Status)

	f.clock.Advance(time.Hour)
	resolved := "RESOLVED"
	updated, err := f.svc.UpdateTicket(ctx, ticket.ID, f.agent.ID, UpdateTicketInput{Status: &resolved})
	require.NoError(t, err)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, ticket.CreatedAt.Add(2*time.Hour), *updated.ResolvedAt)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats.AvgResolutionTimeHours)
	assert.Equal(t, 1, stats.Resolved)

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketMessageAdded,
		events.EventTicketStatusChanged,
		events.EventTicketMessageAdded,
		events.EventTicketStatusChanged,
		events.EventTicketStatusChanged,
	}, f.eventTypes())
}

func TestLowBillingTicketBreachIsComputedNotStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateTicket(ctx, f.owner.ID, CreateTicketInput{
		Subject:     "Charged twice",
		Description: "Two charges this month",
		Priority:    "LOW",
		Category:    "BILLING",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.False(t, ticket.SLABreached)
	assert.False(t, ticket.SLABreachRecorded)

	f.clock.Advance(73 * time.Hour)
	page, err := f.svc.ListAllTickets(ctx, f.admin.ID, StaffTicketFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].SLABreached)
	assert.False(t, page.Items[0].SLABreachRecorded)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SLABreached)
	assert.Equal(t, 1, stats.ByCategory[domain.TicketCategoryBilling])
}
