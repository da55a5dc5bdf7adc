package persona

import (
	"context"
	"fmt"
	"strings"
)

// NewStore opens the configured driver. In auto mode postgres is used when a database
// URL is set, otherwise the SQLite file. The returned name identifies the driver.
func NewStore(ctx context.Context, kind, databaseURL, sqlitePath string) (Store, string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || kind == "auto" {
		kind = "sqlite"
		if strings.TrimSpace(databaseURL) != "" {
			kind = "postgres"
		}
	}
	switch kind {
	case "memory":
		return NewInMemoryStore(), kind, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, sqlitePath)
		if err != nil {
			return nil, "", err
		}
		return s, kind, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, kind, nil
	default:
		return nil, "", fmt.Errorf("unsupported persona store %q", kind)
	}
}
