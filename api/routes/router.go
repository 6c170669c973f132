package routes

import (
	"github.com/gin-gonic/gin"

	"reconflow/internal/handlers"
	"reconflow/internal/services"
	"reconflow/pkg/logger"
	"reconflow/pkg/metrics"
)

// Deps are the services the HTTP API is built on.
type Deps struct {
	ScanService   services.ScanServiceMethods
	ConfigService services.ConfigServiceMethods
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

func InitRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger))

	scanHandlers := handlers.NewScanHandler(deps.ScanService, deps.Logger)

	// REST APIs
	api := router.Group("/api")
	{
		InitScanRoutes(api, scanHandlers)
		InitConfigRoutes(api, handlers.NewConfigHandler(deps.ConfigService))
	}

	router.GET("/healthz", scanHandlers.Health)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logger.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("Request handled")
	}
}
