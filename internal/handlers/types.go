package handlers

import (
	"reconflow/internal/models"
	"reconflow/pkg/engine"
)

type ScanRequest struct {
	Domain string `json:"domain" binding:"required"`
}

type VulnScanRequest struct {
	Categories []string `json:"categories" binding:"required"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type JobListResponse struct {
	Jobs  []models.ScanJob `json:"jobs"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

type HealthResponse struct {
	Status    string              `json:"status"`
	Scheduler []engine.PoolStatus `json:"scheduler"`
}

type ToolResponse struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Args    []string `json:"args"`
	Timeout string   `json:"timeout"`
}

type ConfigsResponse struct {
	Tools        []ToolResponse `json:"tools"`
	TemplatesDir string         `json:"templates_dir,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	JobID uint   `json:"job_id,omitempty"`
}
