package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "reconflow/pkg/errors"
)

// respondError writes the status matching a service error. Unknown errors
// are logged and answered with a generic 500 message.
func respondError(c *gin.Context, log *logrus.Entry, err error, fallback string) {
	var conflict *apperrors.ConflictError
	switch {
	case apperrors.As(err, &conflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: conflict.Error(), JobID: conflict.JobID})
	case apperrors.Is(err, apperrors.ErrInvalidDomain), apperrors.Is(err, apperrors.ErrInvalidCategory):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case apperrors.Is(err, apperrors.ErrScanNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Scan not found"})
	case apperrors.Is(err, apperrors.ErrSubdomainNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Subdomain not found"})
	case apperrors.Is(err, apperrors.ErrSchedulerClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Server is shutting down"})
	default:
		log.WithError(err).Error(fallback)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: fallback})
	}
}

// aliveOnly reads the http_alive query flag.
func aliveOnly(c *gin.Context) bool {
	switch c.Query("http_alive") {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}
