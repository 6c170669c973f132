package routes

import (
	"github.com/gin-gonic/gin"

	"reconflow/internal/handlers"
)

func InitConfigRoutes(router *gin.RouterGroup, h *handlers.ConfigHandler) {
	configRoutes := router.Group("/config")
	{
		configRoutes.GET("/tools", h.GetTools)
	}
}
