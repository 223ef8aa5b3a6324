package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS language_preferences (
		user_id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init preference schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Preference, error) {
	var p Preference
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, language, updated_at FROM language_preferences WHERE user_id=$1`,
		userID,
	).Scan(&p.UserID, &p.Language, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Preference{}, ErrNotFound
		}
		return Preference{}, fmt.Errorf("get preference: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Set(ctx context.Context, userID, language string) (Preference, error) {
	p := Preference{UserID: userID, Language: language, UpdatedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO language_preferences (user_id, language, updated_at) VALUES ($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET language=EXCLUDED.language, updated_at=EXCLUDED.updated_at`,
		p.UserID, p.Language, p.UpdatedAt,
	)
	if err != nil {
		return Preference{}, fmt.Errorf("save preference: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
