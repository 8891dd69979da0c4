package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilikepancakes-ink/twittwebot/internal/http/dto"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// TaskReporter exposes the scheduler's per-task state.
type TaskReporter interface {
	Statuses() []model.TaskStatus
}

// CooldownReporter exposes the gate's shared cooldown window.
type CooldownReporter interface {
	CooldownRemaining() time.Duration
}

type StatusHandler struct {
	account  model.Account
	env      string
	backend  string
	started  time.Time
	tasks    TaskReporter
	cooldown CooldownReporter
	threads  ThreadDirectory
}

func NewStatusHandler(account model.Account, env, backend string, tasks TaskReporter, cooldown CooldownReporter, threads ThreadDirectory) *StatusHandler {
	return &StatusHandler{
		account:  account,
		env:      env,
		backend:  backend,
		started:  time.Now().UTC(),
		tasks:    tasks,
		cooldown: cooldown,
		threads:  threads,
	}
}

func (h *StatusHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.threads.Threads(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read thread store", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read thread store"})
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{
		Account:         h.account,
		Env:             h.env,
		StateBackend:    h.backend,
		UptimeSeconds:   int64(time.Since(h.started).Seconds()),
		CooldownSeconds: h.cooldown.CooldownRemaining().Seconds(),
		TrackedThreads:  len(summaries),
		Tasks:           h.tasks.Statuses(),
	})
}
