package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPaperKey returns the cache key for an exam's full paper (exam, topics, questions).
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

// ActiveSessionKey returns the lock key held while a user has a live session for an exam.
func (r *CacheKeyStruct) ActiveSessionKey(examID, userID string) string {
	return fmt.Sprintf("user:%s:exam:%s:active_session", userID, examID)
}

// SessionStartKey returns the cache key for a user's session start time (unix seconds).
func (r *CacheKeyStruct) SessionStartKey(examID, userID string) string {
	return fmt.Sprintf("user:%s:exam:%s:session_start", userID, examID)
}

// SessionAnswersKey returns the cache key for a user's autosaved answers.
func (r *CacheKeyStruct) SessionAnswersKey(examID, userID string) string {
	return fmt.Sprintf("user:%s:exam:%s:answers", userID, examID)
}

var CacheKey = NewCacheKeyStruct()
