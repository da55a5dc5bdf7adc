package session

import "context"

// Store is the durable holder of sessions.
//
// Save performs an optimistic write: it succeeds only if the stored version equals
// s.Version (zero for a session that was never saved), and increments s.Version on success.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Evicter is implemented by volatile stores whose memory must be released when the
// manager drops an idle session.
type Evicter interface {
	Evict(ctx context.Context, id string) error
}
