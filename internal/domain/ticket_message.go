package domain

import "time"

// TicketMessageType indicates who authored a message.
type TicketMessageType string

const (
	MessageTypeUser    TicketMessageType = "user"
	MessageTypeSupport TicketMessageType = "support"
	MessageTypeSystem  TicketMessageType = "system"
)

// TicketMessage captures communications in a ticket thread.
type TicketMessage struct {
	ID          string
	TicketID    string
	UserID      *string
	Content     string
	Type        TicketMessageType
	IsInternal  bool
	Attachments []string
	CreatedAt   time.Time

	Author *UserRef
}

// VisibleTo reports whether a viewer with role may see the message.
func (m *TicketMessage) VisibleTo(role Role) bool {
	return !m.IsInternal || role.IsStaff()
}
