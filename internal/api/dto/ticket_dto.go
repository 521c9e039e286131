package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/service"
)

// CreateTicketRequest payload. Priority and category are validated by the
// service and fall back to defaults.
type CreateTicketRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
}

// CreateMessageRequest payload. IsInternal is ignored for non-staff callers.
type CreateMessageRequest struct {
	Content     string   `json:"content"`
	IsInternal  bool     `json:"is_internal"`
	Attachments []string `json:"attachments"`
}

// UpdateTicketRequest payload for staff edits.
type UpdateTicketRequest struct {
	Status       *string        `json:"status"`
	Priority     *string        `json:"priority"`
	AssignedToID NullableString `json:"assigned_to_id"`
}

// NullableString records whether the field was present so an explicit
// null can clear a value.
type NullableString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// UserRefResponse is the abbreviated user.
type UserRefResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TicketResponse is the ticket as rendered to clients.
type TicketResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"user_id"`
	AssignedToID    *string               `json:"assigned_to_id"`
	Subject         string                `json:"subject"`
	Description     string                `json:"description"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	Category        domain.TicketCategory `json:"category"`
	SLADeadline     time.Time             `json:"sla_deadline"`
	SLABreach       bool                  `json:"sla_breach"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	FirstResponseAt *time.Time            `json:"first_response_at"`
	ResolvedAt      *time.Time            `json:"resolved_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
	User            *UserRefResponse      `json:"user,omitempty"`
	AssignedTo      *UserRefResponse      `json:"assigned_to"`
}

// TicketDetailResponse adds the visible thread.
type TicketDetailResponse struct {
	TicketResponse
	Messages []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID          string                   `json:"id"`
	TicketID    string                   `json:"ticket_id"`
	UserID      *string                  `json:"user_id"`
	Content     string                   `json:"content"`
	Type        domain.TicketMessageType `json:"type"`
	IsInternal  bool                     `json:"is_internal"`
	Attachments []string                 `json:"attachments"`
	CreatedAt   time.Time                `json:"created_at"`
	User        *UserRefResponse         `json:"user"`
}

// PaginationResponse mirrors service.Pagination.
type PaginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// TicketListResponse is a page of tickets.
type TicketListResponse struct {
	Data       []TicketResponse   `json:"data"`
	Pagination PaginationResponse `json:"pagination"`
}

// StatsResponse is the staff dashboard payload.
type StatsResponse struct {
	Total                  int            `json:"total"`
	Open                   int            `json:"open"`
	InProgress             int            `json:"in_progress"`
	WaitingResponse        int            `json:"waiting_response"`
	OpenLike               int            `json:"open_like"`
	Resolved               int            `json:"resolved"`
	Closed                 int            `json:"closed"`
	SLABreached            int            `json:"sla_breached"`
	ByPriority             map[string]int `json:"by_priority"`
	ByCategory             map[string]int `json:"by_category"`
	AvgResolutionTimeHours float64        `json:"avg_resolution_time_hours"`
}

func userRef(ref *domain.UserRef) *UserRefResponse {
	if ref == nil {
		return nil
	}
	return &UserRefResponse{ID: ref.ID, Name: ref.Name, Email: ref.Email}
}

// NewTicketResponse renders a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:              t.ID,
		UserID:          t.UserID,
		AssignedToID:    t.AssignedToID,
		Subject:         t.Subject,
		Description:     t.Description,
		Status:          t.Status,
		Priority:        t.Priority,
		Category:        t.Category,
		SLADeadline:     t.SLADeadline,
		SLABreach:       t.SLABreached,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		FirstResponseAt: t.FirstResponseAt,
		ResolvedAt:      t.ResolvedAt,
		ClosedAt:        t.ClosedAt,
		User:            userRef(t.User),
	}
	if t.Assignee != nil {
		resp.AssignedTo = &UserRefResponse{ID: t.Assignee.ID, Name: t.Assignee.Name}
	}
	return resp
}

// NewTicketMessageResponse renders a message.
func NewTicketMessageResponse(m *domain.TicketMessage) TicketMessageResponse {
	resp := TicketMessageResponse{
		ID:          m.ID,
		TicketID:    m.TicketID,
		UserID:      m.UserID,
		Content:     m.Content,
		Type:        m.Type,
		IsInternal:  m.IsInternal,
		Attachments: m.Attachments,
		CreatedAt:   m.CreatedAt,
	}
	if resp.Attachments == nil {
		resp.Attachments = []string{}
	}
	if m.Author != nil {
		resp.User = &UserRefResponse{ID: m.Author.ID, Name: m.Author.Name}
	}
	return resp
}

// NewTicketDetailResponse renders a ticket with its thread.
func NewTicketDetailResponse(detail *service.TicketDetail) TicketDetailResponse {
	msgs := make([]TicketMessageResponse, 0, len(detail.Messages))
	for i := range detail.Messages {
		msgs = append(msgs, NewTicketMessageResponse(&detail.Messages[i]))
	}
	return TicketDetailResponse{
		TicketResponse: NewTicketResponse(detail.Ticket),
		Messages:       msgs,
	}
}

// NewTicketListResponse renders a page.
func NewTicketListResponse(page *service.TicketPage) TicketListResponse {
	items := make([]TicketResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, NewTicketResponse(&page.Items[i]))
	}
	return TicketListResponse{
		Data: items,
		Pagination: PaginationResponse{
			Page:       page.Pagination.Page,
			Limit:      page.Pagination.Limit,
			Total:      page.Pagination.Total,
			TotalPages: page.Pagination.TotalPages,
		},
	}
}

// NewStatsResponse renders the dashboard counters.
func NewStatsResponse(s *domain.TicketStats) StatsResponse {
	resp := StatsResponse{
		Total:                  s.Total,
		Open:                   s.Open,
		InProgress:             s.InProgress,
		WaitingResponse:        s.WaitingResponse,
		OpenLike:               s.OpenLike,
		Resolved:               s.Resolved,
		Closed:                 s.Closed,
		SLABreached:            s.SLABreached,
		ByPriority:             make(map[string]int, len(s.ByPriority)),
		ByCategory:             make(map[string]int, len(s.ByCategory)),
		AvgResolutionTimeHours: s.AvgResolutionTimeHours,
	}
	for k, v := range s.ByPriority {
		resp.ByPriority[string(k)] = v
	}
	for k, v := range s.ByCategory {
		resp.ByCategory[string(k)] = v
	}
	return resp
}

// ToInput converts the request into service input.
func (r UpdateTicketRequest) ToInput() service.UpdateTicketInput {
	return service.UpdateTicketInput{
		Status:       r.Status,
		Priority:     r.Priority,
		AssignedToID: service.OptionalString{Set: r.AssignedToID.Set, Value: r.AssignedToID.Value},
	}
}
