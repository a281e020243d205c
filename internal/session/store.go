package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-grader/internal/config"
)

// RedisStore keeps the parts of a live session that must survive a reconnect:
// the first start time and the autosaved answers. Nothing here is a submission.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a store whose keys expire ttl after the last write.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// StartedAt records now as the start time unless one is already stored, and
// returns the stored value.
func (s *RedisStore) StartedAt(ctx context.Context, userID string, examID uuid.UUID, now time.Time) (time.Time, error) {
	key := config.CacheKey.SessionStartKey(examID.String(), userID)
	if err := s.rdb.SetNX(ctx, key, now.Unix(), s.ttl).Err(); err != nil {
		return time.Time{}, fmt.Errorf("set session start: %w", err)
	}
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("get session start: %w", err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session start %q: %w", raw, err)
	}
	return time.Unix(unix, 0), nil
}

// Answers returns the autosaved answers keyed by question id.
func (s *RedisStore) Answers(ctx context.Context, userID string, examID uuid.UUID) (map[string]string, error) {
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(examID.String(), userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load autosaved answers: %w", err)
	}
	return answers, nil
}

// SaveAnswer mirrors one answer and refreshes the hash TTL.
func (s *RedisStore) SaveAnswer(ctx context.Context, userID string, examID uuid.UUID, questionID, value string) error {
	key := config.CacheKey.SessionAnswersKey(examID.String(), userID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, questionID, value)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}
	return nil
}

// Clear drops the start time and the mirror once the submission is frozen.
func (s *RedisStore) Clear(ctx context.Context, userID string, examID uuid.UUID) error {
	err := s.rdb.Del(ctx,
		config.CacheKey.SessionStartKey(examID.String(), userID),
		config.CacheKey.SessionAnswersKey(examID.String(), userID),
	).Err()
	if err != nil {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}
