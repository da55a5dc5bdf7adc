package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists personas in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL,
			source_variant_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_personas_created ON personas (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p Persona, overwrite bool) (Persona, error) {
	name, err := NormalizeName(p.Name)
	if err != nil {
		return Persona{}, err
	}
	p.Name = name
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	params, err := json.Marshal(p.Params)
	if err != nil {
		return Persona{}, fmt.Errorf("encode persona params: %w", err)
	}

	query := `INSERT INTO personas (id, name, name_key, description, params, source_variant_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name_key) DO NOTHING
		 RETURNING id, created_at`
	if overwrite {
		query = `INSERT INTO personas (id, name, name_key, description, params, source_variant_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name_key) DO UPDATE SET
			name=EXCLUDED.name,
			description=EXCLUDED.description,
			params=EXCLUDED.params,
			source_variant_id=EXCLUDED.source_variant_id
		 RETURNING id, created_at`
	}
	err = s.pool.QueryRow(ctx, query,
		p.ID, p.Name, nameKey(p.Name), p.Description, params, p.SourceVariantID, p.CreatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Persona{}, ErrAlreadyExists
	}
	if err != nil {
		return Persona{}, fmt.Errorf("save persona: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) (Persona, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, params, source_variant_id, created_at FROM personas WHERE name_key=$1`,
		nameKey(name),
	)
	p, err := scanPostgresPersona(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Persona{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) List(ctx context.Context) ([]Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, params, source_variant_id, created_at FROM personas ORDER BY created_at DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPostgresPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM personas WHERE name_key=$1`, nameKey(name))
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresPersona(row pgx.Row) (Persona, error) {
	var (
		p      Persona
		params []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &params, &p.SourceVariantID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Persona{}, err
		}
		return Persona{}, fmt.Errorf("scan persona row: %w", err)
	}
	if err := json.Unmarshal(params, &p.Params); err != nil {
		return Persona{}, fmt.Errorf("decode persona params: %w", err)
	}
	return p, nil
}
