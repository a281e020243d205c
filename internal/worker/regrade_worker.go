package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/service"
)

const (
	RegradePollTimeout = 1 * time.Second
	RegradeRetryDelay  = 5 * time.Second
	RegradeMaxAttempts = 5
)

// Regrader re-runs grading for a user's frozen submission.
type Regrader interface {
	Regrade(ctx context.Context, userID string, examID uuid.UUID) (*model.FeedbackBundle, error)
}

type regradeJob struct {
	UserID  string `json:"user_id"`
	ExamID  string `json:"exam_id"`
	Attempt int    `json:"attempt"`
}

// RegradeQueue pushes jobs onto the Redis list consumed by RegradeWorker.
type RegradeQueue struct {
	rdb *redis.Client
}

func NewRegradeQueue(rdb *redis.Client) *RegradeQueue {
	return &RegradeQueue{rdb: rdb}
}

// Enqueue schedules a regrade of (userID, examID).
func (q *RegradeQueue) Enqueue(ctx context.Context, userID string, examID uuid.UUID) error {
	raw, err := json.Marshal(regradeJob{UserID: userID, ExamID: examID.String()})
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.RegradeQueue, raw).Err()
}

// RegradeWorker consumes the regrade queue. Failed jobs are requeued with a
// bumped attempt counter and dropped after RegradeMaxAttempts.
type RegradeWorker struct {
	rdb        *redis.Client
	regrader   Regrader
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewRegradeWorker(rdb *redis.Client, regrader Regrader, log zerolog.Logger) *RegradeWorker {
	return &RegradeWorker{
		rdb:        rdb,
		regrader:   regrader,
		retryDelay: RegradeRetryDelay,
		log:        log.With().Str("component", "regrade_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
// Jobs still queued at shutdown stay in Redis for the next start.
func (w *RegradeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RegradeWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, RegradePollTimeout, config.WorkerKey.RegradeQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	retry, ok := w.handle(ctx, result[1])
	if !ok {
		return
	}
	metrics.RegradeJobs.WithLabelValues("requeued").Inc()

	// Push back to queue for retry.
	if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.RegradeQueue, retry).Err(); err != nil {
		w.log.Error().Err(err).Str("job", retry).Msg("Requeue failed, job lost")
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.retryDelay):
	}
}

// handle runs one job. It returns the payload to requeue and true when the
// job should be tried again.
func (w *RegradeWorker) handle(ctx context.Context, raw string) (string, bool) {
	var job regradeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Str("job", raw).Msg("Invalid JSON payload, discarding")
		metrics.RegradeJobs.WithLabelValues("discarded").Inc()
		return "", false
	}
	examID, err := uuid.Parse(job.ExamID)
	if err != nil || job.UserID == "" {
		w.log.Error().Str("job", raw).Msg("Invalid regrade job, discarding")
		metrics.RegradeJobs.WithLabelValues("discarded").Inc()
		return "", false
	}

	log := w.log.With().Str("user_id", job.UserID).Str("exam_id", job.ExamID).Int("attempt", job.Attempt).Logger()

	bundle, err := w.regrader.Regrade(ctx, job.UserID, examID)
	if err == nil {
		log.Info().Int("score", bundle.TotalScore).Int("max_score", bundle.MaxScore).Msg("Regraded")
		metrics.RegradeJobs.WithLabelValues("done").Inc()
		return "", false
	}
	if errors.Is(err, service.ErrSubmissionNotFound) || errors.Is(err, service.ErrExamNotFound) {
		log.Warn().Err(err).Msg("Nothing to regrade, discarding")
		metrics.RegradeJobs.WithLabelValues("discarded").Inc()
		return "", false
	}

	job.Attempt++
	if job.Attempt >= RegradeMaxAttempts {
		log.Error().Err(err).Msg("Regrade failed, giving up")
		metrics.RegradeJobs.WithLabelValues("failed").Inc()
		return "", false
	}
	log.Warn().Err(err).Msg("Regrade failed, requeueing")
	next, _ := json.Marshal(job)
	return string(next), true
}
