package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists each session as a JSONB document keyed by id.
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
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			phase TEXT NOT NULL,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_sessions_updated ON conversation_sessions (updated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Session, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM conversation_sessions WHERE id=$1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	next := sess.Clone()
	next.Version = sess.Version + 1
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_sessions (id, version, phase, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			version=EXCLUDED.version,
			phase=EXCLUDED.phase,
			state=EXCLUDED.state,
			updated_at=EXCLUDED.updated_at
		 WHERE conversation_sessions.version = $6`,
		next.ID,
		next.Version,
		string(next.Phase),
		raw,
		next.LastUpdatedAt,
		sess.Version,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	sess.Version = next.Version
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
