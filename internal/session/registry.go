package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/metrics"
)

// ErrSessionActive means the user already has a live session for the exam.
var ErrSessionActive = errors.New("an exam session is already active for this user")

// Locker is a cross-instance lock on (user, exam).
type Locker interface {
	Acquire(ctx context.Context, userID string, examID uuid.UUID, token string) (bool, error)
	Release(ctx context.Context, userID string, examID uuid.UUID, token string) error
}

type sessionKey struct {
	userID string
	examID uuid.UUID
}

type entry struct {
	controller *Controller
	token      string
}

// Registry holds the live controllers of this instance and guarantees at most
// one live session per (user, exam) across instances.
type Registry struct {
	mu       sync.Mutex
	sessions map[sessionKey]entry
	locker   Locker
}

// NewRegistry creates an empty registry. A nil locker keeps the guarantee local to this instance.
func NewRegistry(locker Locker) *Registry {
	return &Registry{
		sessions: make(map[sessionKey]entry),
		locker:   locker,
	}
}

// Register claims (userID, examID) for c. It fails with ErrSessionActive when
// another live session holds the claim here or on another instance.
func (r *Registry) Register(ctx context.Context, userID string, examID uuid.UUID, c *Controller) error {
	key := sessionKey{userID: userID, examID: examID}

	r.mu.Lock()
	if _, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return ErrSessionActive
	}
	token := uuid.NewString()
	r.sessions[key] = entry{controller: c, token: token}
	r.mu.Unlock()

	if r.locker == nil {
		metrics.LiveSessions.Inc()
		return nil
	}
	ok, err := r.locker.Acquire(ctx, userID, examID, token)
	if err != nil || !ok {
		r.mu.Lock()
		delete(r.sessions, key)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		return ErrSessionActive
	}
	metrics.LiveSessions.Inc()
	return nil
}

// Get returns the live controller for (userID, examID).
func (r *Registry) Get(userID string, examID uuid.UUID) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionKey{userID: userID, examID: examID}]
	return e.controller, ok
}

// Release drops the claim held by c. A stale c does not release a newer session.
func (r *Registry) Release(ctx context.Context, userID string, examID uuid.UUID, c *Controller) error {
	key := sessionKey{userID: userID, examID: examID}

	r.mu.Lock()
	e, ok := r.sessions[key]
	if !ok || e.controller != c {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, key)
	r.mu.Unlock()
	metrics.LiveSessions.Dec()

	if r.locker == nil {
		return nil
	}
	return r.locker.Release(ctx, userID, examID, e.token)
}

// Len is the number of live sessions on this instance.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ─── Redis lock ────────────────────────────────────────────────────

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX and a TTL so a crashed instance
// cannot hold a session forever.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker creates a locker whose claims expire after ttl.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, userID string, examID uuid.UUID, token string) (bool, error) {
	return l.rdb.SetNX(ctx, config.CacheKey.ActiveSessionKey(examID.String(), userID), token, l.ttl).Result()
}

// Release deletes the lock only while it still holds token.
func (l *RedisLocker) Release(ctx context.Context, userID string, examID uuid.UUID, token string) error {
	key := config.CacheKey.ActiveSessionKey(examID.String(), userID)
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}
