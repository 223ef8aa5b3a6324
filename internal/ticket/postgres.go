package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(ctx context.Context, databaseURL string) (*PostgresRegistry, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTicketSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRegistry{pool: pool}, nil
}

func initTicketSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS support_tickets (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_support_tickets_status_created ON support_tickets (status, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_support_tickets_session ON support_tickets (session_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init ticket schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const ticketColumns = `id, session_id, subject, description, priority, category, status, created_at, updated_at, resolved_at`

func (r *PostgresRegistry) Create(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO support_tickets (`+ticketColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			subject=EXCLUDED.subject,
			description=EXCLUDED.description,
			priority=EXCLUDED.priority,
			category=EXCLUDED.category,
			status=EXCLUDED.status,
			updated_at=EXCLUDED.updated_at,
			resolved_at=EXCLUDED.resolved_at`,
		t.ID,
		t.SessionID,
		t.Subject,
		t.Description,
		string(t.Priority),
		t.Category,
		string(t.Status),
		t.CreatedAt,
		t.UpdatedAt,
		t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, ticketID string) (Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM support_tickets WHERE id=$1`, ticketID)
	t, err := scanTicketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r *PostgresRegistry) Update(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE support_tickets SET session_id=$2, subject=$3, description=$4, priority=$5, category=$6,
			status=$7, updated_at=$8, resolved_at=$9
		 WHERE id=$1`,
		t.ID,
		t.SessionID,
		t.Subject,
		t.Description,
		string(t.Priority),
		t.Category,
		string(t.Status),
		t.UpdatedAt,
		t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) List(ctx context.Context, filter Filter) ([]Ticket, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM support_tickets
		 WHERE ($1 = '' OR status = $1)
		   AND ($2 = '' OR session_id = $2)
		   AND ($3 = '' OR priority = $3)
		   AND ($4 = '' OR category = $4)
		 ORDER BY created_at DESC LIMIT $5`,
		string(filter.Status), filter.SessionID, string(filter.Priority), filter.Category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := make([]Ticket, 0)
	for rows.Next() {
		t, err := scanTicketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket rows: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM support_tickets WHERE id=$1`, ticketID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) Close() error {
	r.pool.Close()
	return nil
}

func scanTicketRow(row pgx.Row) (Ticket, error) {
	var (
		t                  Ticket
		priority, status   string
		resolvedAtNullable *time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.SessionID,
		&t.Subject,
		&t.Description,
		&priority,
		&t.Category,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&resolvedAtNullable,
	); err != nil {
		return Ticket{}, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.ResolvedAt = resolvedAtNullable
	return t, nil
}
