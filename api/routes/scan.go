package routes

import (
	"github.com/gin-gonic/gin"

	"reconflow/internal/handlers"
)

func InitScanRoutes(router *gin.RouterGroup, h *handlers.ScanHandler) {
	scanRoutes := router.Group("/scans")
	{
		scanRoutes.POST("", h.StartScan)
		scanRoutes.GET("", h.ListJobs)
		scanRoutes.GET("/:domain", h.GetJob)
		scanRoutes.DELETE("/:domain", h.DeleteJob)
		scanRoutes.GET("/:domain/subdomains", h.ListSubdomains)
		scanRoutes.GET("/:domain/results", h.GetResults)
	}

	router.POST("/subdomains/:id/vulnscan", h.TriggerVulnScan)
	router.GET("/progress", h.GetProgress)
	router.GET("/categories", h.Categories)
}
