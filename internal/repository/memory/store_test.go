package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/repository"
)

func seedTicket(t *testing.T, store *Store, userID string, createdAt time.Time, status domain.TicketStatus, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		UserID:      userID,
		Subject:     "Domain not resolving",
		Description: "example.com shows a blank page",
		Status:      status,
		Priority:    priority,
		Category:    domain.TicketCategoryTechnical,
		SLADeadline: domain.SLADeadlineFor(createdAt, priority),
		CreatedAt:   createdAt,
	}
	require.NoError(t, store.Tickets().Create(context.Background(), ticket))
	return ticket
}

func TestTicketsListFiltersAndOrdersNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	owner := &domain.User{Name: "Ana", Email: "ana@example.com"}
	require.NoError(t, store.Users().Create(ctx, owner))

	older := seedTicket(t, store, owner.ID, base, domain.TicketStatusOpen, domain.TicketPriorityLow)
	newer := seedTicket(t, store, owner.ID, base.Add(time.Hour), domain.TicketStatusOpen, domain.TicketPriorityHigh)
	seedTicket(t, store, "someone-else", base.Add(2*time.Hour), domain.TicketStatusOpen, domain.TicketPriorityHigh)

	items, total, err := store.Tickets().List(ctx, repository.TicketFilter{UserID: &owner.ID, Now: base})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, newer.ID, items[0].ID)
	assert.Equal(t, older.ID, items[1].ID)
	require.NotNil(t, items[0].User)
	assert.Equal(t, "ana@example.com", items[0].User.Email)

	items, total, err = store.Tickets().List(ctx, repository.TicketFilter{
		Priorities: []domain.TicketPriority{domain.TicketPriorityHigh},
		Limit:      1,
		Offset:     1,
		Now:        base,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)
}

func TestTicketsListSearchIsCaseInsensitive(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()
	seedTicket(t, store, "u1", now, domain.TicketStatusOpen, domain.TicketPriorityMedium)

	term := "BLANK page"
	items, total, err := store.Tickets().List(ctx, repository.TicketFilter{SearchTerm: &term})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)

	miss := "invoice"
	_, total, err = store.Tickets().List(ctx, repository.TicketFilter{SearchTerm: &miss})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTicketsListComputesBreach(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedTicket(t, store, "u1", created, domain.TicketStatusOpen, domain.TicketPriorityUrgent)

	items, _, err := store.Tickets().List(ctx, repository.TicketFilter{Now: created.Add(5 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].SLABreached)

	items, _, err = store.Tickets().List(ctx, repository.TicketFilter{Now: created.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, items[0].SLABreached)
}

func TestTransactorRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transactor().WithinTx(ctx, func(ctx context.Context) error {
		seedTicket(t, store, "u1", time.Now(), domain.TicketStatusOpen, domain.TicketPriorityMedium)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := store.Tickets().List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTransactorNestedCallsJoinOuter(t *testing.T) {
	store := NewStore()
	tx := store.Transactor()

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			seedTicket(t, store, "u1", time.Now(), domain.TicketStatusOpen, domain.TicketPriorityMedium)
			return nil
		})
	})
	require.NoError(t, err)

	_, total, err := store.Tickets().List(context.Background(), repository.TicketFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMessagesKeepInsertionOrderOnTies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	at := time.Now()
	ticket := seedTicket(t, store, "u1", at, domain.TicketStatusOpen, domain.TicketPriorityMedium)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.Messages().Create(ctx, &domain.TicketMessage{
			TicketID:  ticket.ID,
			Content:   content,
			Type:      domain.MessageTypeSystem,
			CreatedAt: at,
		}))
	}

	msgs, err := store.Messages().ListByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)

	err = store.Messages().Create(ctx, &domain.TicketMessage{TicketID: "missing", Content: "x"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStatsAggregates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seedTicket(t, store, "u1", created, domain.TicketStatusOpen, domain.TicketPriorityUrgent)
	seedTicket(t, store, "u1", created, domain.TicketStatusWaitingResponse, domain.TicketPriorityLow)
	resolved := seedTicket(t, store, "u1", created, domain.TicketStatusResolved, domain.TicketPriorityHigh)
	resolvedAt := created.Add(3 * time.Hour)
	resolved.ResolvedAt = &resolvedAt
	require.NoError(t, store.Tickets().Update(ctx, resolved))
	seedTicket(t, store, "u1", created, domain.TicketStatusClosed, domain.TicketPriorityHigh)

	stats, err := store.Tickets().Stats(ctx, created.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.OpenLike)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 1, stats.SLABreached)
	assert.Equal(t, 1, stats.ByPriority[domain.TicketPriorityHigh])
	assert.Equal(t, 3, stats.ByCategory[domain.TicketCategoryTechnical])
	assert.InDelta(t, 3.0, stats.AvgResolutionTimeHours, 0.0001)
}

func TestSLABreachCandidatesAndMark(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ticket := seedTicket(t, store, "u1", created, domain.TicketStatusOpen, domain.TicketPriorityUrgent)
	seedTicket(t, store, "u1", created, domain.TicketStatusResolved, domain.TicketPriorityUrgent)

	candidates, err := store.Tickets().ListSLABreachCandidates(ctx, created.Add(5*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, ticket.ID, candidates[0].ID)

	flipped, err := store.Tickets().MarkSLABreached(ctx, ticket.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = store.Tickets().MarkSLABreached(ctx, ticket.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	candidates, err = store.Tickets().ListSLABreachCandidates(ctx, created.Add(5*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCountSLABreachedFollowsClock(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	seedTicket(t, store, "u1", created, domain.TicketStatusOpen, domain.TicketPriorityUrgent)
	seedTicket(t, store, "u1", created, domain.TicketStatusClosed, domain.TicketPriorityUrgent)

	count, err := store.Tickets().CountSLABreached(ctx, created.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = store.Tickets().CountSLABreached(ctx, created.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetStaffByIDRejectsRegularUsers(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	user := &domain.User{Name: "Ana", Role: domain.RoleUser}
	agent := &domain.User{Name: "Sam", Role: domain.RoleSupport}
	require.NoError(t, store.Users().Create(ctx, user))
	require.NoError(t, store.Users().Create(ctx, agent))

	_, err := store.Users().GetStaffByID(ctx, user.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.Users().GetStaffByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam", got.Name)
}
