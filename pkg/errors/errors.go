package errors

import (
	"errors"
	"fmt"
)

var (
	ErrToolTimeout         = errors.New("tool execution timed out")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidDomain       = errors.New("invalid domain")
	ErrInvalidCategory     = errors.New("invalid finding category")
	ErrScanNotFound        = errors.New("scan not found")
	ErrSubdomainNotFound   = errors.New("subdomain not found")
	ErrSchedulerClosed     = errors.New("scheduler is not accepting tasks")
	ErrNotifierDisabled    = errors.New("notifier not configured")
)

// ToolError is returned by the command runner when the failure policy
// surfaces tool failures instead of absorbing them.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func NewToolError(toolName string, err error) *ToolError {
	return &ToolError{
		ToolName: toolName,
		Err:      err,
	}
}

// ConflictError reports a domain whose job cannot be started, replaced or
// deleted because it, or a vulnerability scan on one of its subdomains, is
// still running.
type ConflictError struct {
	Domain    string
	JobID     uint
	VulnScans bool
}

func (e *ConflictError) Error() string {
	if e.VulnScans {
		return fmt.Sprintf("job %d for %s has vulnerability scans in progress", e.JobID, e.Domain)
	}
	if e.JobID == 0 {
		return fmt.Sprintf("a scan for %s is already running", e.Domain)
	}
	return fmt.Sprintf("a scan for %s is already running (job %d)", e.Domain, e.JobID)
}

func NewConflictError(domain string, jobID uint) *ConflictError {
	return &ConflictError{Domain: domain, JobID: jobID}
}

func NewVulnScanConflictError(domain string, jobID uint) *ConflictError {
	return &ConflictError{Domain: domain, JobID: jobID, VulnScans: true}
}

type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Is, As and Join re-export the standard helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
