package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultIdleTTL         = 30 * time.Minute
	defaultJanitorInterval = time.Minute
)

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// Manager serializes turns per session id and tracks which sessions are active in this
// process. Different ids proceed in parallel.
type Manager struct {
	store   Store
	idleTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	locks   map[string]*sessionLock
	active  map[string]time.Time
	onEvict func(id string, active int)
}

func NewManager(store Store, idleTTL time.Duration, logger *zap.Logger) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		idleTTL: idleTTL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sessionLock),
		active:  make(map[string]time.Time),
	}
}

// SetEvictHook registers a callback invoked after an idle session is dropped.
func (m *Manager) SetEvictHook(hook func(id string, active int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = hook
}

// WithSession runs fn against a working copy of the session, creating an Idle session
// when none exists. The copy is persisted only when fn returns nil; on error the stored
// state is left untouched. Calls for the same id never overlap.
func (m *Manager) WithSession(ctx context.Context, id string, fn func(*Session) error) error {
	if id == "" {
		return errors.New("session id is required")
	}
	release, err := m.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	m.touch(id)

	current, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		current = New(id, m.now())
	} else if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}

	work := current.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.LastUpdatedAt = m.now()
	if err := m.store.Save(ctx, work); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Snapshot returns a copy of the stored session without modifying it.
func (m *Manager) Snapshot(ctx context.Context, id string) (*Session, error) {
	release, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.store.Load(ctx, id)
}

// Reset returns the session to Idle.
func (m *Manager) Reset(ctx context.Context, id string) error {
	return m.WithSession(ctx, id, func(s *Session) error {
		s.Reset()
		return nil
	})
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle(ctx)
			}
		}
	}()
}

// evictIdle drops sessions idle longer than the TTL. A session whose turn is in flight
// is skipped and reconsidered on the next sweep.
func (m *Manager) evictIdle(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	var idle []string
	for id, last := range m.active {
		if now.Sub(last) >= m.idleTTL {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	evicter, volatile := m.store.(Evicter)
	var evicted []string
	for _, id := range idle {
		release, ok := m.tryAcquire(id)
		if !ok {
			continue
		}
		m.mu.Lock()
		last, tracked := m.active[id]
		stillIdle := tracked && now.Sub(last) >= m.idleTTL
		if stillIdle {
			delete(m.active, id)
		}
		m.mu.Unlock()
		if stillIdle {
			if volatile {
				if err := evicter.Evict(ctx, id); err != nil {
					m.logger.Warn("session evict failed", zap.String("session_id", id), zap.Error(err))
				}
			}
			evicted = append(evicted, id)
		}
		release()
	}

	m.mu.Lock()
	hook := m.onEvict
	remaining := len(m.active)
	m.mu.Unlock()
	for _, id := range evicted {
		m.logger.Debug("session evicted", zap.String("session_id", id))
		if hook != nil {
			hook(id, remaining)
		}
	}
	return len(evicted)
}

func (m *Manager) touch(id string) {
	m.mu.Lock()
	m.active[id] = m.now()
	m.mu.Unlock()
}

func (m *Manager) lockFor(id string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *Manager) unref(id string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *Manager) acquire(ctx context.Context, id string) (func(), error) {
	l := m.lockFor(id)
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.unref(id, l)
		}, nil
	case <-ctx.Done():
		m.unref(id, l)
		return nil, ctx.Err()
	}
}

func (m *Manager) tryAcquire(id string) (func(), bool) {
	l := m.lockFor(id)
	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			m.unref(id, l)
		}, true
	default:
		m.unref(id, l)
		return nil, false
	}
}
