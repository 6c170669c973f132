package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reconflow/internal/services"
	"reconflow/pkg/logger"
)

type ScanHandler struct {
	scanService services.ScanServiceMethods
	logger      *logger.Logger
}

func NewScanHandler(scanService services.ScanServiceMethods, log *logger.Logger) *ScanHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ScanHandler{scanService: scanService, logger: log}
}

func (h *ScanHandler) StartScan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Failed to bind scan request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}

	log := h.logger.WithFields(logger.Fields{"domain": req.Domain})
	job, err := h.scanService.StartScan(c.Request.Context(), req.Domain)
	if err != nil {
		respondError(c, log, err, "Failed to start scan")
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *ScanHandler) ListJobs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.scanService.ListJobs(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, h.logger.WithField("page", page), err, "Failed to list scans")
		return
	}
	c.JSON(http.StatusOK, JobListResponse{Jobs: result.Jobs, Total: result.Total, Page: result.Page, Limit: result.Limit})
}

func (h *ScanHandler) GetJob(c *gin.Context) {
	domain := c.Param("domain")
	job, err := h.scanService.GetJob(c.Request.Context(), domain)
	if err != nil {
		respondError(c, h.logger.WithField("domain", domain), err, "Failed to get scan")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *ScanHandler) DeleteJob(c *gin.Context) {
	domain := c.Param("domain")
	if err := h.scanService.DeleteJob(c.Request.Context(), domain); err != nil {
		respondError(c, h.logger.WithField("domain", domain), err, "Failed to delete scan")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ScanHandler) ListSubdomains(c *gin.Context) {
	domain := c.Param("domain")
	subdomains, err := h.scanService.ListSubdomains(c.Request.Context(), domain, aliveOnly(c))
	if err != nil {
		respondError(c, h.logger.WithField("domain", domain), err, "Failed to list subdomains")
		return
	}
	c.JSON(http.StatusOK, subdomains)
}

func (h *ScanHandler) GetResults(c *gin.Context) {
	domain := c.Param("domain")
	grouped, err := h.scanService.GroupedFindings(c.Request.Context(), domain, aliveOnly(c))
	if err != nil {
		respondError(c, h.logger.WithField("domain", domain), err, "Failed to get results")
		return
	}
	c.JSON(http.StatusOK, grouped)
}

func (h *ScanHandler) TriggerVulnScan(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid subdomain id"})
		return
	}

	var req VulnScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Failed to bind vulnerability scan request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}

	log := h.logger.WithFields(logger.Fields{"subdomain_id": id, "categories": req.Categories})
	if err := h.scanService.TriggerVulnerabilityScan(c.Request.Context(), uint(id), req.Categories); err != nil {
		respondError(c, log, err, "Failed to start vulnerability scan")
		return
	}
	c.JSON(http.StatusAccepted, StatusResponse{Status: "started"})
}

func (h *ScanHandler) GetProgress(c *gin.Context) {
	progress, err := h.scanService.GetProgress(c.Request.Context())
	if err != nil {
		respondError(c, h.logger.WithField("handler", "progress"), err, "Failed to get progress")
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *ScanHandler) Categories(c *gin.Context) {
	c.JSON(http.StatusOK, h.scanService.Categories())
}

// Health reports liveness together with the scheduler pools.
func (h *ScanHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Scheduler: h.scanService.SchedulerStatus()})
}
