package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps sessions in chat_sessions and their append-only
// history in chat_messages.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			language TEXT NOT NULL,
			ticket_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			contact_name TEXT NULL,
			contact_email TEXT NULL,
			contact_phone TEXT NULL,
			feedback_resolved BOOLEAN NULL,
			feedback_comment TEXT NULL,
			feedback_at TIMESTAMPTZ NULL,
			queued_at TIMESTAMPTZ NULL,
			resolved_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_state ON chat_sessions (state, last_activity_at);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sessionColumns = `id, user_id, state, language, ticket_id, agent_id, agent_name,
	contact_name, contact_email, contact_phone, feedback_resolved, feedback_comment, feedback_at,
	queued_at, resolved_at, created_at, updated_at, last_activity_at`

func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chat_sessions WHERE id=$1)`, sess.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists {
		return ErrAlreadyExists
	}
	return s.write(ctx, sess)
}

func (s *PostgresStore) Save(ctx context.Context, sess Session) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chat_sessions WHERE id=$1)`, sess.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return s.write(ctx, sess)
}

func (s *PostgresStore) write(ctx context.Context, sess Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		contactName, contactEmail, contactPhone *string
		feedbackResolved                        *bool
		feedbackComment                         *string
		feedbackAt                              *time.Time
	)
	if sess.Contact != nil {
		contactName, contactEmail, contactPhone = &sess.Contact.Name, &sess.Contact.Email, &sess.Contact.Phone
	}
	if sess.Feedback != nil {
		feedbackResolved = &sess.Feedback.Resolved
		feedbackComment = &sess.Feedback.Comment
		feedbackAt = &sess.Feedback.SubmittedAt
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO chat_sessions (`+sessionColumns+`) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			state=EXCLUDED.state,
			language=EXCLUDED.language,
			ticket_id=EXCLUDED.ticket_id,
			agent_id=EXCLUDED.agent_id,
			agent_name=EXCLUDED.agent_name,
			contact_name=EXCLUDED.contact_name,
			contact_email=EXCLUDED.contact_email,
			contact_phone=EXCLUDED.contact_phone,
			feedback_resolved=EXCLUDED.feedback_resolved,
			feedback_comment=EXCLUDED.feedback_comment,
			feedback_at=EXCLUDED.feedback_at,
			queued_at=EXCLUDED.queued_at,
			resolved_at=EXCLUDED.resolved_at,
			updated_at=EXCLUDED.updated_at,
			last_activity_at=EXCLUDED.last_activity_at`,
		sess.ID,
		sess.UserID,
		string(sess.State),
		sess.Language,
		sess.TicketID,
		sess.AgentID,
		sess.AgentName,
		contactName,
		contactEmail,
		contactPhone,
		feedbackResolved,
		feedbackComment,
		feedbackAt,
		nullableTime(sess.QueuedAt),
		nullableTime(sess.ResolvedAt),
		sess.CreatedAt,
		sess.UpdatedAt,
		sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	// History is append-only, so only rows past the stored tail are new.
	var stored int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id=$1`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("read message tail: %w", err)
	}
	for _, msg := range sess.Messages {
		if msg.Seq <= stored {
			continue
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (session_id, seq, id, sender, text, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			sess.ID, msg.Seq, msg.ID, string(msg.Sender), msg.Text, msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, sender, text, created_at FROM chat_messages WHERE session_id=$1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return Session{}, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			msg    Message
			sender string
		)
		if err := rows.Scan(&msg.ID, &msg.Seq, &sender, &msg.Text, &msg.Timestamp); err != nil {
			return Session{}, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = Sender(sender)
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Session{}, fmt.Errorf("iterate message rows: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListByState(ctx context.Context, state State) ([]Session, error) {
	return s.list(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE state=$1 ORDER BY created_at ASC`,
		string(state),
	)
}

func (s *PostgresStore) ListIdle(ctx context.Context, before time.Time) ([]Session, error) {
	return s.list(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE state<>$1 AND last_activity_at<$2 ORDER BY created_at ASC`,
		string(StateClosed), before,
	)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess                                    Session
		state                                   string
		contactName, contactEmail, contactPhone *string
		feedbackResolved                        *bool
		feedbackComment                         *string
		feedbackAt, queuedAt, resolvedAt        *time.Time
	)
	if err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&state,
		&sess.Language,
		&sess.TicketID,
		&sess.AgentID,
		&sess.AgentName,
		&contactName,
		&contactEmail,
		&contactPhone,
		&feedbackResolved,
		&feedbackComment,
		&feedbackAt,
		&queuedAt,
		&resolvedAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.LastActivityAt,
	); err != nil {
		return Session{}, err
	}
	sess.State = State(state)
	sess.Messages = []Message{}
	if contactName != nil {
		sess.Contact = &ContactInfo{Name: *contactName, Email: deref(contactEmail), Phone: deref(contactPhone)}
	}
	if feedbackResolved != nil {
		sess.Feedback = &Feedback{Resolved: *feedbackResolved, Comment: deref(feedbackComment)}
		if feedbackAt != nil {
			sess.Feedback.SubmittedAt = *feedbackAt
		}
	}
	if queuedAt != nil {
		sess.QueuedAt = *queuedAt
	}
	if resolvedAt != nil {
		sess.ResolvedAt = *resolvedAt
	}
	return sess, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
