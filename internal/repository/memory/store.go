// Package memory holds in-process repositories used when no database is
// configured and as test doubles.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/repository"
)

// Store holds all data in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	tickets  map[string]domain.Ticket
	messages []domain.TicketMessage

	// txMu serializes units of work the way row locks would.
	txMu sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]domain.User),
		tickets: make(map[string]domain.Ticket),
	}
}

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return &users{s} }

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return &tickets{s} }

// Messages returns the message repository view.
func (s *Store) Messages() repository.TicketMessageRepository { return &messages{s} }

// Transactor returns a Transactor that rolls back the store when fn fails.
func (s *Store) Transactor() repository.Transactor { return &transactor{s} }

type txKey struct{}

type transactor struct {
	s *Store
}

func (t *transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	snap := t.s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users    map[string]domain.User
	tickets  map[string]domain.Ticket
	messages []domain.TicketMessage
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		users:    make(map[string]domain.User, len(s.users)),
		tickets:  make(map[string]domain.Ticket, len(s.tickets)),
		messages: append([]domain.TicketMessage(nil), s.messages...),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.tickets {
		snap.tickets[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.tickets = snap.tickets
	s.messages = snap.messages
}

// ---- users ----

type users struct {
	s *Store
}

func (r *users) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *users) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *users) GetStaffByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.Role.IsStaff() {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

// ---- tickets ----

type tickets struct {
	s *Store
}

func (r *tickets) Create(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ticket.ID = uuid.NewString()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	stored.User, stored.Assignee, stored.SLABreached = nil, nil, false
	r.s.tickets[ticket.ID] = stored
	return nil
}

func (r *tickets) Update(_ context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.AssignedToID = ticket.AssignedToID
	existing.Status = ticket.Status
	existing.Priority = ticket.Priority
	existing.Category = ticket.Category
	existing.SLADeadline = ticket.SLADeadline
	existing.FirstResponseAt = ticket.FirstResponseAt
	existing.ResolvedAt = ticket.ResolvedAt
	existing.ClosedAt = ticket.ClosedAt
	existing.UpdatedAt = time.Now()
	r.s.tickets[ticket.ID] = existing
	ticket.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *tickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.s.hydrate(ticket), nil
}

func (r *tickets) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *tickets) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}

	matched := []domain.Ticket{}
	for _, ticket := range r.s.tickets {
		if !matches(ticket, filter) {
			continue
		}
		hydrated := r.s.hydrate(ticket)
		hydrated.SLABreached = hydrated.IsSLABreached(now)
		matched = append(matched, *hydrated)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit, offset := repository.NormalizePage(filter.Limit, filter.Offset)
	if offset >= total {
		return []domain.Ticket{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matches(ticket domain.Ticket, filter repository.TicketFilter) bool {
	if filter.UserID != nil && ticket.UserID != *filter.UserID {
		return false
	}
	if filter.AssignedToID != nil && (ticket.AssignedToID == nil || *ticket.AssignedToID != *filter.AssignedToID) {
		return false
	}
	if len(filter.Statuses) > 0 && !contains(filter.Statuses, ticket.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !contains(filter.Priorities, ticket.Priority) {
		return false
	}
	if len(filter.Categories) > 0 && !contains(filter.Categories, ticket.Category) {
		return false
	}
	if filter.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(ticket.Subject), term) &&
			!strings.Contains(strings.ToLower(ticket.Description), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (r *tickets) Stats(_ context.Context, now time.Time) (*domain.TicketStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &domain.TicketStats{
		ByPriority: map[domain.TicketPriority]int{},
		ByCategory: map[domain.TicketCategory]int{},
	}
	var resolvedHours float64
	var resolvedCount int
	for _, ticket := range r.s.tickets {
		stats.Total++
		switch ticket.Status {
		case domain.TicketStatusOpen:
			stats.Open++
		case domain.TicketStatusInProgress:
			stats.InProgress++
		case domain.TicketStatusWaitingResponse:
			stats.WaitingResponse++
		case domain.TicketStatusResolved:
			stats.Resolved++
		case domain.TicketStatusClosed:
			stats.Closed++
		}
		if ticket.IsSLABreached(now) {
			stats.SLABreached++
		}
		if ticket.Status != domain.TicketStatusClosed {
			stats.ByPriority[ticket.Priority]++
			stats.ByCategory[ticket.Category]++
		}
		if ticket.ResolvedAt != nil {
			resolvedHours += ticket.ResolvedAt.Sub(ticket.CreatedAt).Hours()
			resolvedCount++
		}
	}
	stats.OpenLike = stats.Open + stats.InProgress + stats.WaitingResponse
	if resolvedCount > 0 {
		stats.AvgResolutionTimeHours = resolvedHours / float64(resolvedCount)
	}
	return stats, nil
}

func (r *tickets) CountSLABreached(_ context.Context, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, ticket := range r.s.tickets {
		if ticket.IsSLABreached(now) {
			count++
		}
	}
	return count, nil
}

func (r *tickets) ListSLABreachCandidates(_ context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	limit, _ = repository.NormalizePage(limit, 0)
	var result []domain.Ticket
	for _, ticket := range r.s.tickets {
		if ticket.SLABreachRecorded || !ticket.IsSLABreached(now) {
			continue
		}
		hydrated := r.s.hydrate(ticket)
		hydrated.SLABreached = true
		result = append(result, *hydrated)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SLADeadline.Before(result[j].SLADeadline)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *tickets) MarkSLABreached(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ticket, ok := r.s.tickets[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if ticket.SLABreachRecorded {
		return false, nil
	}
	ticket.SLABreachRecorded = true
	r.s.tickets[id] = ticket
	return true, nil
}

// hydrate attaches user references; callers hold at least a read lock.
func (s *Store) hydrate(ticket domain.Ticket) *domain.Ticket {
	if owner, ok := s.users[ticket.UserID]; ok {
		ticket.User = owner.Ref()
	}
	if ticket.AssignedToID != nil {
		if assignee, ok := s.users[*ticket.AssignedToID]; ok {
			ticket.Assignee = &domain.UserRef{ID: assignee.ID, Name: assignee.Name}
		}
	}
	return &ticket
}

// ---- messages ----

type messages struct {
	s *Store
}

func (r *messages) Create(_ context.Context, msg *domain.TicketMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tickets[msg.TicketID]; !ok {
		return repository.ErrNotFound
	}
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	stored := *msg
	stored.Author = nil
	stored.Attachments = append([]string{}, msg.Attachments...)
	r.s.messages = append(r.s.messages, stored)
	return nil
}

func (r *messages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []domain.TicketMessage{}
	for _, msg := range r.s.messages {
		if msg.TicketID != ticketID {
			continue
		}
		if msg.UserID != nil {
			if author, ok := r.s.users[*msg.UserID]; ok {
				msg.Author = &domain.UserRef{ID: author.ID, Name: author.Name}
			}
		}
		result = append(result, msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
