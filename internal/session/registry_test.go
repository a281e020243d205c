package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-grader/internal/metrics"
)

// memLocker stands in for another instance sharing the same Redis.
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	freed []string
}

func (m *memLocker) Acquire(_ context.Context, userID string, examID uuid.UUID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.held == nil {
		m.held = map[string]string{}
	}
	key := userID + "/" + examID.String()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = token
	return true, nil
}

func (m *memLocker) Release(_ context.Context, userID string, examID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + examID.String()
	if m.held[key] == token {
		delete(m.held, key)
		m.freed = append(m.freed, key)
	}
	return nil
}

func TestRegistryOneSessionPerUserAndExam(t *testing.T) {
	locker := &memLocker{}
	reg := NewRegistry(locker)
	examID := uuid.New()
	first := NewController(testPaper(), "u1", &fakeFinalizer{})
	second := NewController(testPaper(), "u1", &fakeFinalizer{})

	require.NoError(t, reg.Register(context.Background(), "u1", examID, first))
	assert.ErrorIs(t, reg.Register(context.Background(), "u1", examID, second), ErrSessionActive)

	// Other users and other exams are independent.
	require.NoError(t, reg.Register(context.Background(), "u2", examID, second))
	require.NoError(t, reg.Register(context.Background(), "u1", uuid.New(), second))
	assert.Equal(t, 3, reg.Len())

	got, ok := reg.Get("u1", examID)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistryHonoursLockHeldElsewhere(t *testing.T) {
	examID := uuid.New()
	locker := &memLocker{held: map[string]string{"u1/" + examID.String(): "other-instance"}}
	reg := NewRegistry(locker)

	err := reg.Register(context.Background(), "u1", examID, NewController(testPaper(), "u1", &fakeFinalizer{}))

	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryLockErrorRollsBack(t *testing.T) {
	reg := NewRegistry(&memLocker{err: errors.New("redis down")})

	err := reg.Register(context.Background(), "u1", uuid.New(), NewController(testPaper(), "u1", &fakeFinalizer{}))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryRelease(t *testing.T) {
	locker := &memLocker{}
	reg := NewRegistry(locker)
	examID := uuid.New()
	first := NewController(testPaper(), "u1", &fakeFinalizer{})
	stale := NewController(testPaper(), "u1", &fakeFinalizer{})

	require.NoError(t, reg.Register(context.Background(), "u1", examID, first))
	require.NoError(t, reg.Release(context.Background(), "u1", examID, stale))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Release(context.Background(), "u1", examID, first))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, []string{"u1/" + examID.String()}, locker.freed)

	require.NoError(t, reg.Register(context.Background(), "u1", examID, stale))
}

func TestRegistryTracksLiveSessionsGauge(t *testing.T) {
	reg := NewRegistry(&memLocker{})
	examID := uuid.New()
	c := NewController(testPaper(), "u1", &fakeFinalizer{})
	before := testutil.ToFloat64(metrics.LiveSessions)

	require.NoError(t, reg.Register(context.Background(), "u1", examID, c))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LiveSessions))

	require.ErrorIs(t, reg.Register(context.Background(), "u1", examID, c), ErrSessionActive)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LiveSessions))

	require.NoError(t, reg.Release(context.Background(), "u1", examID, c))
	assert.Equal(t, before, testutil.ToFloat64(metrics.LiveSessions))
}
