package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilikepancakes-ink/twittwebot/internal/http/dto"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

// ThreadDirectory is the tracker surface the ops endpoints read from.
type ThreadDirectory interface {
	Threads(ctx context.Context) ([]model.ThreadSummary, error)
	Thread(ctx context.Context, rootID string) (*model.ConversationThread, error)
}

type ThreadHandler struct {
	threads ThreadDirectory
}

func NewThreadHandler(threads ThreadDirectory) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

func (h *ThreadHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.threads.Threads(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list threads", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threads"})
		return
	}

	c.JSON(http.StatusOK, dto.ThreadListResponse{
		Threads: summaries,
		Count:   len(summaries),
	})
}

func (h *ThreadHandler) GetByRoot(c *gin.Context) {
	ctx := c.Request.Context()

	rootID := c.Param("root_id")
	thread, err := h.threads.Thread(ctx, rootID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to load thread", "root_id", rootID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load thread"})
		return
	}

	c.JSON(http.StatusOK, thread)
}
