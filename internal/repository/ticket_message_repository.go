package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-service/internal/domain"
)

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, user_id, content, type, is_internal, attachments, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return conn(ctx, r.pool).QueryRow(ctx, query,
		msg.TicketID,
		msg.UserID,
		msg.Content,
		msg.Type,
		msg.IsInternal,
		attachments,
		msg.CreatedAt,
	).Scan(&msg.ID)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	const query = `
        SELECT m.id, m.ticket_id, m.user_id, m.content, m.type, m.is_internal, m.attachments, m.created_at, u.name
        FROM ticket_messages m
        LEFT JOIN users u ON u.id = m.user_id
        WHERE m.ticket_id=$1 ORDER BY m.created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketMessage{}
	for rows.Next() {
		var (
			msg        domain.TicketMessage
			authorName *string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.UserID,
			&msg.Content,
			&msg.Type,
			&msg.IsInternal,
			&msg.Attachments,
			&msg.CreatedAt,
			&authorName,
		); err != nil {
			return nil, err
		}
		if msg.UserID != nil && authorName != nil {
			msg.Author = &domain.UserRef{ID: *msg.UserID, Name: *authorName}
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
