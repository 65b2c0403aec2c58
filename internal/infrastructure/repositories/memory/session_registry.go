package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

type sessionEntry struct {
	session   domain.StreamSession
	expiresAt time.Time
}

type viewerEntry struct {
	count     int64
	expiresAt time.Time
}

// SessionRegistry is the single-process registry used when Redis is disabled.
// Each method holds the mutex for its whole read-modify-write.
type SessionRegistry struct {
	mu         sync.Mutex
	sessions   map[domain.StreamKey]sessionEntry
	viewers    map[domain.StreamKey]viewerEntry
	clock      clockwork.Clock
	sessionTTL time.Duration
	viewerTTL  time.Duration
}

func NewSessionRegistry(clock clockwork.Clock, sessionTTL, viewerTTL time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions:   make(map[domain.StreamKey]sessionEntry),
		viewers:    make(map[domain.StreamKey]viewerEntry),
		clock:      clock,
		sessionTTL: sessionTTL,
		viewerTTL:  viewerTTL,
	}
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)

func (r *SessionRegistry) Begin(_ context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if e, ok := r.sessions[session.StreamKey]; ok && now.Before(e.expiresAt) {
		return domain.ErrStreamAlreadyLive
	}

	session.State = domain.SessionLive
	session.ViewerCount = 0
	r.sessions[session.StreamKey] = sessionEntry{session: *session, expiresAt: now.Add(r.sessionTTL)}
	delete(r.viewers, session.StreamKey)
	return nil
}

func (r *SessionRegistry) End(_ context.Context, key domain.StreamKey) (*domain.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	viewers := r.viewerCount(key)
	delete(r.sessions, key)
	delete(r.viewers, key)
	if !ok || !r.clock.Now().Before(e.expiresAt) {
		return nil, nil
	}

	session := e.session
	session.State = domain.SessionIdle
	session.ViewerCount = viewers
	return &session, nil
}

func (r *SessionRegistry) ViewerDelta(_ context.Context, key domain.StreamKey, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if len(r.viewers) > sweepThreshold {
		r.sweep(now)
	}
	n := r.viewerCount(key) + delta
	if n < 0 {
		n = 0
	}
	r.viewers[key] = viewerEntry{count: n, expiresAt: now.Add(r.viewerTTL)}
	return n, nil
}

func (r *SessionRegistry) Refresh(_ context.Context, key domain.StreamKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if v, ok := r.viewers[key]; ok && now.Before(v.expiresAt) {
		v.expiresAt = now.Add(r.viewerTTL)
		r.viewers[key] = v
	}
	e, ok := r.sessions[key]
	if !ok || !now.Before(e.expiresAt) {
		return false, nil
	}
	e.expiresAt = now.Add(r.sessionTTL)
	r.sessions[key] = e
	return true, nil
}

func (r *SessionRegistry) IsLive(_ context.Context, key domain.StreamKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live(key)
	return ok, nil
}

func (r *SessionRegistry) Get(_ context.Context, key domain.StreamKey) (*domain.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.live(key)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *SessionRegistry) ListLive(_ context.Context) ([]*domain.StreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.StreamSession, 0, len(r.sessions))
	for key := range r.sessions {
		if session, ok := r.live(key); ok {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out, nil
}

// live must be called with mu held; it drops the entry when expired.
func (r *SessionRegistry) live(key domain.StreamKey) (*domain.StreamSession, bool) {
	e, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	if !r.clock.Now().Before(e.expiresAt) {
		delete(r.sessions, key)
		return nil, false
	}
	session := e.session
	session.ViewerCount = r.viewerCount(key)
	return &session, true
}

// sweep drops expired sessions and viewer counters; mu must be held.
func (r *SessionRegistry) sweep(now time.Time) {
	for k, v := range r.viewers {
		if !now.Before(v.expiresAt) {
			delete(r.viewers, k)
		}
	}
	for k, e := range r.sessions {
		if !now.Before(e.expiresAt) {
			delete(r.sessions, k)
		}
	}
}

func (r *SessionRegistry) viewerCount(key domain.StreamKey) int64 {
	v, ok := r.viewers[key]
	if !ok || !r.clock.Now().Before(v.expiresAt) {
		return 0
	}
	return v.count
}
