package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ilikepancakes-ink/twittwebot/internal/http/handler"
)

func ThreadRouter(rg *gin.RouterGroup, h *handler.ThreadHandler) {
	rg.GET("", h.List)
	rg.GET("/:root_id", h.GetByRoot)
}
