package services

import (
	"context"
	"errors"
	"time"

	"reconflow/internal/dao"
	"reconflow/internal/models"
	"reconflow/pkg/engine"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
)

// failureWriteTimeout bounds the write that records a failure. It runs on a
// context detached from the task's cancellation.
const failureWriteTimeout = 10 * time.Second

type ScanStatusManager struct {
	scanDao dao.ScanDAO
	logger  *logger.Logger
}

func newScanStatusManager(scanDao dao.ScanDAO, logger *logger.Logger) *ScanStatusManager {
	return &ScanStatusManager{
		scanDao: scanDao,
		logger:  logger,
	}
}

func (m *ScanStatusManager) MarkCompleted(ctx context.Context, jobID uint) error {
	return m.scanDao.UpdateJobStatus(ctx, jobID, models.StatusFinished, "", "")
}

func (m *ScanStatusManager) MarkFailedWithReason(ctx context.Context, jobID uint, cause error) {
	kind := errorKind(cause)
	writeCtx, cancel := detached(ctx)
	defer cancel()

	entry := m.logger.WithContext(ctx).WithField("job_id", jobID).WithField("error_kind", kind)
	if err := m.scanDao.UpdateJobStatus(writeCtx, jobID, models.StatusFailed, kind, cause.Error()); err != nil {
		entry.WithError(err).Error("Failed to persist failed scan status")
		return
	}
	entry.WithError(cause).Error("Scan marked as failed")
}

func (m *ScanStatusManager) ProgressRunning(ctx context.Context, subdomainID uint) error {
	return m.scanDao.UpsertProgress(ctx, subdomainID, models.StatusRunning, "", "")
}

func (m *ScanStatusManager) ProgressCompleted(ctx context.Context, subdomainID uint) error {
	return m.scanDao.UpsertProgress(ctx, subdomainID, models.StatusFinished, "", "")
}

func (m *ScanStatusManager) ProgressFailed(ctx context.Context, subdomainID uint, cause error) {
	kind := errorKind(cause)
	writeCtx, cancel := detached(ctx)
	defer cancel()

	entry := m.logger.WithContext(ctx).WithField("subdomain_id", subdomainID).WithField("error_kind", kind)
	err := m.scanDao.UpsertProgress(writeCtx, subdomainID, models.StatusFailed, kind, cause.Error())
	switch {
	case errors.Is(err, apperrors.ErrSubdomainNotFound):
		entry.WithError(cause).Warn("Vulnerability scan stopped, subdomain no longer exists")
		return
	case err != nil:
		entry.WithError(err).Error("Failed to persist failed progress status")
		return
	}
	entry.WithError(cause).Error("Vulnerability scan marked as failed")
}

// RecoverInterrupted fails jobs and progress rows left running by a previous
// process.
func (m *ScanStatusManager) RecoverInterrupted(ctx context.Context) error {
	jobs, progress, err := m.scanDao.FailInterrupted(ctx, models.ErrorKindCancelled, "interrupted by restart")
	if err != nil {
		return err
	}
	if jobs > 0 || progress > 0 {
		m.logger.WithFields(logger.Fields{"jobs": jobs, "progress": progress}).Warn("Marked interrupted work as failed")
	}
	return nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
}

// errorKind maps a task failure to the kind stored next to a failed status.
func errorKind(err error) string {
	var panicErr *engine.PanicError
	switch {
	case errors.As(err, &panicErr):
		return models.ErrorKindPanic
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorKindCancelled
	default:
		return models.ErrorKindStore
	}
}
