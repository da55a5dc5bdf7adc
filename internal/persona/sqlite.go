package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps personas in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create persona db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open persona db: %w", err)
	}
	// A single connection serializes writers; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL,
			source_variant_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_personas_created ON personas (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init persona schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, p Persona, overwrite bool) (Persona, error) {
	name, err := NormalizeName(p.Name)
	if err != nil {
		return Persona{}, err
	}
	p.Name = name
	params, err := json.Marshal(p.Params)
	if err != nil {
		return Persona{}, fmt.Errorf("encode persona params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Persona{}, fmt.Errorf("begin persona tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		existingID string
		created    int64
	)
	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM personas WHERE name_key=?`, nameKey(name)).Scan(&existingID, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p.CreatedAt = s.now()
	case err != nil:
		return Persona{}, fmt.Errorf("lookup persona: %w", err)
	case !overwrite:
		return Persona{}, ErrAlreadyExists
	default:
		p.ID = existingID
		p.CreatedAt = time.Unix(0, created).UTC()
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO personas (id, name, name_key, description, params, source_variant_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name_key) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			params=excluded.params,
			source_variant_id=excluded.source_variant_id`,
		p.ID, p.Name, nameKey(p.Name), p.Description, string(params), p.SourceVariantID, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Persona{}, fmt.Errorf("save persona: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Persona{}, fmt.Errorf("commit persona: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (Persona, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, params, source_variant_id, created_at FROM personas WHERE name_key=?`,
		nameKey(name),
	)
	p, err := scanSQLitePersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Persona{}, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, params, source_variant_id, created_at FROM personas ORDER BY created_at DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanSQLitePersona(rows)
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

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE name_key=?`, nameKey(name))
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePersona(row rowScanner) (Persona, error) {
	var (
		p       Persona
		params  string
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &params, &p.SourceVariantID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Persona{}, err
		}
		return Persona{}, fmt.Errorf("scan persona row: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &p.Params); err != nil {
		return Persona{}, fmt.Errorf("decode persona params: %w", err)
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}
