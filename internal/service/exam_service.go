package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrExamClosed   = errors.New("exam is closed or past its deadline")
)

const paperCacheTTL = 6 * time.Hour

// ExamStore reads exam papers from the relational store.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListTopics(ctx context.Context, examID uuid.UUID) ([]model.Topic, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// PaperCache caches assembled papers. Get returns (nil, nil) on a miss.
type PaperCache interface {
	Get(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
	Set(ctx context.Context, paper *model.ExamPaper) error
}

// ExamService loads exam papers, cache first.
type ExamService struct {
	exams ExamStore
	cache PaperCache
	now   func() time.Time
	log   zerolog.Logger
}

// NewExamService creates a new ExamService. cache may be nil.
func NewExamService(exams ExamStore, cache PaperCache, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams: exams,
		cache: cache,
		now:   time.Now,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// Paper returns the exam with its topics and questions regardless of status.
// A broken cache entry is logged and rebuilt from the database.
func (s *ExamService) Paper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	if s.cache != nil {
		paper, err := s.cache.Get(ctx, examID)
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Paper cache read failed, falling back to database")
		} else if paper != nil {
			return paper, nil
		}
	}

	paper, err := s.loadFromDB(ctx, examID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, paper); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Paper cache write failed")
		}
	}
	return paper, nil
}

// LoadExam returns the paper for a new session. Closed exams and exams past
// their deadline are rejected with ErrExamClosed.
func (s *ExamService) LoadExam(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	paper, err := s.Paper(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !paper.Exam.AcceptsSessions(s.now()) {
		return nil, ErrExamClosed
	}
	return paper, nil
}

// StudentView returns the paper without answer keys.
func (s *ExamService) StudentView(ctx context.Context, examID uuid.UUID) (*model.StudentPaper, error) {
	paper, err := s.LoadExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return paper.ForStudent(), nil
}

// RefreshCache reloads the paper from the database and overwrites the cache.
// Called when questions are edited after students have started loading the exam.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID) error {
	paper, err := s.loadFromDB(ctx, examID)
	if err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Set(ctx, paper); err != nil {
		return fmt.Errorf("cache paper: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int("questions", len(paper.Questions)).Msg("Cache refreshed")
	return nil
}

func (s *ExamService) loadFromDB(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	topics, err := s.exams.ListTopics(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	questions, err := s.exams.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return &model.ExamPaper{Exam: *exam, Topics: topics, Questions: questions}, nil
}

// ─── Redis cache ───────────────────────────────────────────────────

// RedisPaperCache stores papers as JSON strings.
type RedisPaperCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPaperCache(rdb *redis.Client) *RedisPaperCache {
	return &RedisPaperCache{rdb: rdb, ttl: paperCacheTTL}
}

func (c *RedisPaperCache) Get(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamPaperKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var paper model.ExamPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil, fmt.Errorf("unmarshal paper: %w", err)
	}
	return &paper, nil
}

func (c *RedisPaperCache) Set(ctx context.Context, paper *model.ExamPaper) error {
	data, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}
	return c.rdb.Set(ctx, config.CacheKey.ExamPaperKey(paper.Exam.ID.String()), data, c.ttl).Err()
}
