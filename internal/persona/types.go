// Package persona persists named, reusable music generation parameter bundles.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/tunesmith/internal/music"
)

const maxNameLength = 64

var (
	ErrAlreadyExists = errors.New("persona already exists")
	ErrNotFound      = errors.New("persona not found")
	ErrInvalidName   = errors.New("invalid persona name")
)

// Persona is a saved generation parameter bundle. Names are unique ignoring case.
type Persona struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Params          music.Params `json:"params"`
	SourceVariantID string       `json:"source_variant_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Store persists personas. Save fails with ErrAlreadyExists when the name is taken and
// overwrite is false. Load and Delete fail with ErrNotFound. List is newest first.
type Store interface {
	Save(ctx context.Context, p Persona, overwrite bool) (Persona, error)
	Load(ctx context.Context, name string) (Persona, error)
	List(ctx context.Context) ([]Persona, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// NormalizeName trims the name and validates it.
func NormalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
