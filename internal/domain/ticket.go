package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen            TicketStatus = "OPEN"
	TicketStatusInProgress      TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingResponse TicketStatus = "WAITING_RESPONSE"
	TicketStatusResolved        TicketStatus = "RESOLVED"
	TicketStatusClosed          TicketStatus = "CLOSED"
)

// TicketStatuses lists every status in display order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusWaitingResponse,
	TicketStatusResolved,
	TicketStatusClosed,
}

var statusLabels = map[TicketStatus]string{
	TicketStatusOpen:            "Open",
	TicketStatusInProgress:      "In Progress",
	TicketStatusWaitingResponse: "Waiting for Response",
	TicketStatusResolved:        "Resolved",
	TicketStatusClosed:          "Closed",
}

// Label returns the human readable status used in system messages.
func (s TicketStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsTerminal reports whether the SLA clock has stopped for the status.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// ParseTicketStatus parses a status; unknown values report false.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	candidate := TicketStatus(normalizeEnum(raw))
	if _, ok := statusLabels[candidate]; ok {
		return candidate, true
	}
	return "", false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// TicketPriorities lists every priority from least to most urgent.
var TicketPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityUrgent,
}

var slaHours = map[TicketPriority]int{
	TicketPriorityLow:    72,
	TicketPriorityMedium: 48,
	TicketPriorityHigh:   24,
	TicketPriorityUrgent: 4,
}

// SLAWindow returns the response window granted to the priority.
func (p TicketPriority) SLAWindow() time.Duration {
	hours, ok := slaHours[p]
	if !ok {
		hours = slaHours[TicketPriorityMedium]
	}
	return time.Duration(hours) * time.Hour
}

// ParseTicketPriority parses a priority; unknown values report false.
func ParseTicketPriority(raw string) (TicketPriority, bool) {
	candidate := TicketPriority(normalizeEnum(raw))
	if _, ok := slaHours[candidate]; ok {
		return candidate, true
	}
	return "", false
}

// ParseTicketPriorityOrDefault falls back to MEDIUM.
func ParseTicketPriorityOrDefault(raw string) TicketPriority {
	if p, ok := ParseTicketPriority(raw); ok {
		return p
	}
	return TicketPriorityMedium
}

// TicketCategory groups tickets by subject area.
type TicketCategory string

const (
	TicketCategoryTechnical      TicketCategory = "TECHNICAL"
	TicketCategoryBilling        TicketCategory = "BILLING"
	TicketCategoryAccount        TicketCategory = "ACCOUNT"
	TicketCategoryFeatureRequest TicketCategory = "FEATURE_REQUEST"
	TicketCategoryBugReport      TicketCategory = "BUG_REPORT"
	TicketCategoryOther          TicketCategory = "OTHER"
)

// TicketCategories lists every category.
var TicketCategories = []TicketCategory{
	TicketCategoryTechnical,
	TicketCategoryBilling,
	TicketCategoryAccount,
	TicketCategoryFeatureRequest,
	TicketCategoryBugReport,
	TicketCategoryOther,
}

// ParseTicketCategory parses a category; unknown values report false.
func ParseTicketCategory(raw string) (TicketCategory, bool) {
	candidate := TicketCategory(normalizeEnum(raw))
	for _, c := range TicketCategories {
		if c == candidate {
			return c, true
		}
	}
	return "", false
}

// ParseTicketCategoryOrDefault falls back to OTHER.
func ParseTicketCategoryOrDefault(raw string) TicketCategory {
	if c, ok := ParseTicketCategory(raw); ok {
		return c
	}
	return TicketCategoryOther
}

func normalizeEnum(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID           string
	UserID       string
	AssignedToID *string
	Subject      string
	Description  string
	Status       TicketStatus
	Priority     TicketPriority
	Category     TicketCategory
	SLADeadline  time.Time
	// SLABreachRecorded is the persisted flag, set once by the SLA sweeper.
	SLABreachRecorded bool
	// SLABreached is derived at read time and is what API consumers see.
	SLABreached     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FirstResponseAt *time.Time
	ResolvedAt      *time.Time
	ClosedAt        *time.Time

	User     *UserRef
	Assignee *UserRef
}

// SLADeadlineFor anchors the SLA window for priority at createdAt.
func SLADeadlineFor(createdAt time.Time, priority TicketPriority) time.Time {
	return createdAt.Add(priority.SLAWindow())
}

// IsSLABreached evaluates the breach rule at the given instant.
func (t *Ticket) IsSLABreached(now time.Time) bool {
	return !t.Status.IsTerminal() && t.SLADeadline.Before(now)
}

// IsOwnedBy reports whether userID submitted the ticket.
func (t *Ticket) IsOwnedBy(userID string) bool {
	return t.UserID == userID
}
