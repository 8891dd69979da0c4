package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ilikepancakes-ink/twittwebot/internal/http/handler"
)

func StatusRouter(rg *gin.RouterGroup, h *handler.StatusHandler) {
	rg.GET("/status", h.Get)
}
