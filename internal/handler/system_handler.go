package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-grader/internal/response"
)

const healthCheckTimeout = 2 * time.Second

// DependencyCheck pings one backing service.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// SessionCounter is satisfied by *session.Registry.
type SessionCounter interface {
	Len() int
}

// SystemHandler reports process and dependency health.
type SystemHandler struct {
	checks    []DependencyCheck
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(sessions SessionCounter, log zerolog.Logger, checks ...DependencyCheck) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string            `json:"status"`
	Uptime       string            `json:"uptime"`
	LiveSessions int               `json:"live_sessions"`
	Goroutines   int               `json:"goroutines"`
	HeapAlloc    uint64            `json:"heap_alloc_bytes"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health godoc
// GET /health
// 200 when every dependency answers, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Goroutines:   runtime.NumGoroutine(),
		Dependencies: make(map[string]string, len(h.checks)),
	}
	if h.sessions != nil {
		report.LiveSessions = h.sessions.Len()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.HeapAlloc = mem.HeapAlloc

	status := http.StatusOK
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", chk.Name).Msg("health check failed")
			report.Dependencies[chk.Name] = "down"
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		report.Dependencies[chk.Name] = "up"
	}

	response.Success(c, status, report)
}
