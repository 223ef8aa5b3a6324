package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed width so created_at sorts lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) a SQLite database and runs migrations.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket registry: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket registry: wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket registry: busy timeout: %w", err)
	}

	r := &SQLiteRegistry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS support_tickets (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL DEFAULT '',
			subject     TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority    TEXT NOT NULL DEFAULT 'medium',
			category    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'open',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			resolved_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_support_tickets_status ON support_tickets(status);
		CREATE INDEX IF NOT EXISTS idx_support_tickets_session ON support_tickets(session_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket registry: migrate: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Create(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO support_tickets (id, session_id, subject, description, priority, category, status, created_at, updated_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, subject=excluded.subject, description=excluded.description,
			priority=excluded.priority, category=excluded.category, status=excluded.status,
			updated_at=excluded.updated_at, resolved_at=excluded.resolved_at
	`, t.ID, t.SessionID, t.Subject, t.Description, string(t.Priority), t.Category, string(t.Status),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatOptionalTime(t.ResolvedAt))
	if err != nil {
		return fmt.Errorf("ticket registry: create: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, ticketID string) (Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, session_id, subject, description, priority, category, status, created_at, updated_at, resolved_at FROM support_tickets WHERE id = ?`, ticketID)
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ticket{}, ErrNotFound
		}
		return Ticket{}, fmt.Errorf("ticket registry: get: %w", err)
	}
	return t, nil
}

func (r *SQLiteRegistry) Update(ctx context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE support_tickets SET session_id = ?, subject = ?, description = ?, priority = ?, category = ?,
			status = ?, updated_at = ?, resolved_at = ?
		WHERE id = ?
	`, t.SessionID, t.Subject, t.Description, string(t.Priority), t.Category, string(t.Status),
		formatTime(t.UpdatedAt), formatOptionalTime(t.ResolvedAt), t.ID)
	if err != nil {
		return fmt.Errorf("ticket registry: update: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRegistry) List(ctx context.Context, filter Filter) ([]Ticket, error) {
	query := "SELECT id, session_id, subject, description, priority, category, status, created_at, updated_at, resolved_at FROM support_tickets WHERE 1=1"
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket registry: list: %w", err)
	}
	defer rows.Close()

	tickets := make([]Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket registry: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *SQLiteRegistry) Delete(ctx context.Context, ticketID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM support_tickets WHERE id = ?`, ticketID)
	if err != nil {
		return fmt.Errorf("ticket registry: delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(s scannable) (Ticket, error) {
	var (
		t                    Ticket
		priority, status     string
		createdAt, updatedAt string
		resolvedAt           *string
	)
	err := s.Scan(&t.ID, &t.SessionID, &t.Subject, &t.Description, &priority, &t.Category, &status,
		&createdAt, &updatedAt, &resolvedAt)
	if err != nil {
		return Ticket{}, err
	}
	t.Priority = Priority(priority)
	t.Status = Status(status)
	t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	t.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
	if resolvedAt != nil {
		at, _ := time.Parse(sqliteTimeLayout, *resolvedAt)
		t.ResolvedAt = &at
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}
