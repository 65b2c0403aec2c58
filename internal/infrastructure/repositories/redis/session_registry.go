package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"streamgate/internal/core/domain"
	"streamgate/internal/core/ports"
)

// SessionRegistry keeps live sessions in Redis. The session record expires
// after sessionTTL, the viewer counter after viewerTTL of inactivity.
type SessionRegistry struct {
	client     *redis.Client
	keys       Keyspace
	clock      clockwork.Clock
	sessionTTL time.Duration
	viewerTTL  time.Duration
}

func NewSessionRegistry(client *redis.Client, keys Keyspace, clock clockwork.Clock, sessionTTL, viewerTTL time.Duration) *SessionRegistry {
	return &SessionRegistry{
		client:     client,
		keys:       keys,
		clock:      clock,
		sessionTTL: sessionTTL,
		viewerTTL:  viewerTTL,
	}
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)

func (r *SessionRegistry) Begin(ctx context.Context, session *domain.StreamSession) error {
	record := *session
	record.State = domain.SessionLive
	record.ViewerCount = 0
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	expiry := r.clock.Now().Add(r.sessionTTL).UnixMilli()
	claimed, err := beginSessionScript.Run(ctx, r.client,
		[]string{r.keys.Session(session.StreamKey), r.keys.Viewers(session.StreamKey), r.keys.ActiveSessions()},
		data, r.sessionTTL.Milliseconds(), expiry, string(session.StreamKey),
	).Int()
	if err != nil {
		return fmt.Errorf("begin session script failed: %w", err)
	}
	if claimed == 0 {
		return domain.ErrStreamAlreadyLive
	}

	session.State = domain.SessionLive
	session.ViewerCount = 0
	return nil
}

func (r *SessionRegistry) End(ctx context.Context, key domain.StreamKey) (*domain.StreamSession, error) {
	res, err := endSessionScript.Run(ctx, r.client,
		[]string{r.keys.Session(key), r.keys.Viewers(key), r.keys.ActiveSessions()},
		string(key),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("end session script failed: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("end session script returned %d values", len(res))
	}

	session, err := decodeSession(res[0], res[1])
	if err != nil {
		return nil, err
	}
	session.State = domain.SessionIdle
	return session, nil
}

func (r *SessionRegistry) ViewerDelta(ctx context.Context, key domain.StreamKey, delta int64) (int64, error) {
	n, err := viewerDeltaScript.Run(ctx, r.client,
		[]string{r.keys.Viewers(key)},
		delta, r.viewerTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("viewer delta script failed: %w", err)
	}
	return n, nil
}

func (r *SessionRegistry) Refresh(ctx context.Context, key domain.StreamKey) (bool, error) {
	expiry := r.clock.Now().Add(r.sessionTTL).UnixMilli()
	live, err := refreshSessionScript.Run(ctx, r.client,
		[]string{r.keys.Session(key), r.keys.Viewers(key), r.keys.ActiveSessions()},
		r.sessionTTL.Milliseconds(), r.viewerTTL.Milliseconds(), expiry, string(key),
	).Int()
	if err != nil {
		return false, fmt.Errorf("refresh session script failed: %w", err)
	}
	return live == 1, nil
}

func (r *SessionRegistry) IsLive(ctx context.Context, key domain.StreamKey) (bool, error) {
	n, err := r.client.Exists(ctx, r.keys.Session(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n == 1, nil
}

func (r *SessionRegistry) Get(ctx context.Context, key domain.StreamKey) (*domain.StreamSession, error) {
	vals, err := r.client.MGet(ctx, r.keys.Session(key), r.keys.Viewers(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	viewers, _ := vals[1].(string)
	return decodeSession(raw, viewers)
}

// ListLive returns sessions from the active index, pruning entries whose TTL
// has passed.
func (r *SessionRegistry) ListLive(ctx context.Context) ([]*domain.StreamSession, error) {
	now := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
	if err := r.client.ZRemRangeByScore(ctx, r.keys.ActiveSessions(), "-inf", "("+now).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune active index: %w", err)
	}

	members, err := r.client.ZRangeByScore(ctx, r.keys.ActiveSessions(), &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active index: %w", err)
	}
	if len(members) == 0 {
		return []*domain.StreamSession{}, nil
	}

	keys := make([]string, 0, len(members)*2)
	for _, m := range members {
		keys = append(keys, r.keys.Session(domain.StreamKey(m)), r.keys.Viewers(domain.StreamKey(m)))
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	sessions := make([]*domain.StreamSession, 0, len(members))
	for i := 0; i < len(vals); i += 2 {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		viewers, _ := vals[i+1].(string)
		session, err := decodeSession(raw, viewers)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func decodeSession(raw, viewers string) (*domain.StreamSession, error) {
	var session domain.StreamSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if viewers != "" {
		n, err := strconv.ParseInt(viewers, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid viewer counter %q: %w", viewers, err)
		}
		session.ViewerCount = n
	}
	return &session, nil
}
