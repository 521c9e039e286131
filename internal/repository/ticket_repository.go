package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-service/internal/domain"
)

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `
        t.id, t.user_id, t.assigned_to_id, t.subject, t.description, t.status, t.priority,
        t.category, t.sla_deadline, t.sla_breach, t.created_at, t.updated_at,
        t.first_response_at, t.resolved_at, t.closed_at,
        u.name, u.email, a.name`

const ticketJoins = `
        FROM tickets t
        JOIN users u ON u.id = t.user_id
        LEFT JOIN users a ON a.id = t.assigned_to_id`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (user_id, assigned_to_id, subject, description, status, priority, category,
            sla_deadline, sla_breach, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
        RETURNING id, updated_at`
	return conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.UserID,
		ticket.AssignedToID,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		ticket.SLADeadline,
		ticket.SLABreachRecorded,
		ticket.CreatedAt,
	).Scan(&ticket.ID, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assigned_to_id=$1, status=$2, priority=$3, category=$4, sla_deadline=$5,
            first_response_at=$6, resolved_at=$7, closed_at=$8, updated_at=NOW()
        WHERE id=$9
        RETURNING updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		ticket.AssignedToID,
		ticket.Status,
		ticket.Priority,
		ticket.Category,
		ticket.SLADeadline,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return notFound(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + ticketJoins + ` WHERE t.id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT` + ticketColumns + ticketJoins + ` WHERE t.id=$1`
	if inTx(ctx) {
		query += ` FOR UPDATE OF t`
	}
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	ticket, err := scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, args...), false)
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	where, args := buildTicketWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM tickets t WHERE ` + where
	if err := conn(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	args = append(args, now)
	breach := fmt.Sprintf(`,
        CASE WHEN t.status NOT IN ('RESOLVED','CLOSED') AND t.sla_deadline < $%d THEN TRUE ELSE FALSE END`, len(args))

	limit, offset := NormalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT%s%s%s WHERE %s ORDER BY t.created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, breach, ticketJoins, where, limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []domain.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows, true)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *ticket)
	}
	return result, total, rows.Err()
}

// buildTicketWhere renders the WHERE clause for filter using positional args.
func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		clauses = append(clauses, fmt.Sprintf("t.user_id=$%d", len(args)))
	}
	if filter.AssignedToID != nil {
		args = append(args, *filter.AssignedToID)
		clauses = append(clauses, fmt.Sprintf("t.assigned_to_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, string(pr))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Categories) > 0 {
		placeholders := make([]string, len(filter.Categories))
		for i, cat := range filter.Categories {
			args = append(args, string(cat))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("t.category IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(t.subject) LIKE %s OR LOWER(t.description) LIKE %s)", placeholder, placeholder))
	}

	return strings.Join(clauses, " AND "), args
}

func (r *ticketRepository) Stats(ctx context.Context, now time.Time) (*domain.TicketStats, error) {
	const totals = `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE status='OPEN'),
            COUNT(*) FILTER (WHERE status='IN_PROGRESS'),
            COUNT(*) FILTER (WHERE status='WAITING_RESPONSE'),
            COUNT(*) FILTER (WHERE status='RESOLVED'),
            COUNT(*) FILTER (WHERE status='CLOSED'),
            COUNT(*) FILTER (WHERE status NOT IN ('RESOLVED','CLOSED') AND sla_deadline < $1),
            COALESCE(AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0)
                FILTER (WHERE resolved_at IS NOT NULL), 0)::float8
        FROM tickets`

	db := conn(ctx, r.pool)
	stats := &domain.TicketStats{
		ByPriority: map[domain.TicketPriority]int{},
		ByCategory: map[domain.TicketCategory]int{},
	}
	if err := db.QueryRow(ctx, totals, now).Scan(
		&stats.Total,
		&stats.Open,
		&stats.InProgress,
		&stats.WaitingResponse,
		&stats.Resolved,
		&stats.Closed,
		&stats.SLABreached,
		&stats.AvgResolutionTimeHours,
	); err != nil {
		return nil, err
	}
	stats.OpenLike = stats.Open + stats.InProgress + stats.WaitingResponse

	byPriority, err := groupCount(ctx, db, `SELECT priority, COUNT(*) FROM tickets WHERE status <> 'CLOSED' GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	for key, count := range byPriority {
		stats.ByPriority[domain.TicketPriority(key)] = count
	}

	byCategory, err := groupCount(ctx, db, `SELECT category, COUNT(*) FROM tickets WHERE status <> 'CLOSED' GROUP BY category`)
	if err != nil {
		return nil, err
	}
	for key, count := range byCategory {
		stats.ByCategory[domain.TicketCategory(key)] = count
	}
	return stats, nil
}

func (r *ticketRepository) CountSLABreached(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM tickets WHERE status NOT IN ('RESOLVED','CLOSED') AND sla_deadline < $1`
	var count int
	if err := conn(ctx, r.pool).QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func groupCount(ctx context.Context, db dbtx, query string) (map[string]int, error) {
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		result[key] = count
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListSLABreachCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	limit, _ = NormalizePage(limit, 0)
	query := `SELECT` + ticketColumns + ticketJoins + `
        WHERE t.status NOT IN ('RESOLVED','CLOSED') AND t.sla_deadline < $1 AND t.sla_breach = FALSE
        ORDER BY t.sla_deadline ASC LIMIT $2`

	rows, err := conn(ctx, r.pool).Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows, false)
		if err != nil {
			return nil, err
		}
		ticket.SLABreached = true
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) MarkSLABreached(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE tickets SET sla_breach=TRUE WHERE id=$1 AND sla_breach=FALSE`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func scanTicket(row pgx.Row, withBreach bool) (*domain.Ticket, error) {
	var (
		ticket       domain.Ticket
		ownerName    string
		ownerEmail   string
		assigneeName *string
	)
	dest := []any{
		&ticket.ID,
		&ticket.UserID,
		&ticket.AssignedToID,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Category,
		&ticket.SLADeadline,
		&ticket.SLABreachRecorded,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.FirstResponseAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ownerName,
		&ownerEmail,
		&assigneeName,
	}
	if withBreach {
		dest = append(dest, &ticket.SLABreached)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	ticket.User = &domain.UserRef{ID: ticket.UserID, Name: ownerName, Email: ownerEmail}
	if ticket.AssignedToID != nil && assigneeName != nil {
		ticket.Assignee = &domain.UserRef{ID: *ticket.AssignedToID, Name: *assigneeName}
	}
	return &ticket, nil
}
