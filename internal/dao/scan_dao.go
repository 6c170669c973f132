package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reconflow/internal/models"
	apperrors "reconflow/pkg/errors"
)

// ScanDAO is the job store. Every call opens its own session bound to ctx,
// so one value can be shared by concurrent tasks.
type ScanDAO interface {
	CreateJob(ctx context.Context, domain string) (*models.ScanJob, error)
	GetJobByID(ctx context.Context, id uint) (*models.ScanJob, error)
	GetJobByDomain(ctx context.Context, domain string) (*models.ScanJob, error)
	ListJobs(ctx context.Context, page, limit int) ([]models.ScanJob, int64, error)
	UpdateJobStatus(ctx context.Context, id uint, status models.Status, errorKind, message string) error
	DeleteJob(ctx context.Context, domain string) error

	CreateSubdomains(ctx context.Context, jobID uint, names []string, alive map[string]struct{}) ([]models.Subdomain, error)
	GetSubdomain(ctx context.Context, id uint) (*models.Subdomain, error)
	ListSubdomains(ctx context.Context, domain string, aliveOnly bool) ([]models.Subdomain, error)
	AddPorts(ctx context.Context, ports []models.Port) error
	AddFindings(ctx context.Context, findings []models.Finding) error

	UpsertProgress(ctx context.Context, subdomainID uint, status models.Status, errorKind, message string) error
	ListProgress(ctx context.Context) ([]models.ScanProgress, error)

	FailInterrupted(ctx context.Context, errorKind, message string) (jobs int64, progress int64, err error)
}

type scanDAO struct {
	db *gorm.DB
}

func NewScanDAO(db *gorm.DB) ScanDAO {
	return &scanDAO{db: db}
}

func (dao *scanDAO) session(ctx context.Context) *gorm.DB {
	return dao.db.Session(&gorm.Session{NewDB: true, Context: ctx})
}

// CreateJob inserts a running job for domain. A running job for the same
// domain, or one with vulnerability scans in flight, is a conflict; any
// other previous job is removed together with everything it owns and
// replaced.
func (dao *scanDAO) CreateJob(ctx context.Context, domain string) (*models.ScanJob, error) {
	job := &models.ScanJob{Domain: domain, Status: models.StatusRunning}

	err := dao.session(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ScanJob
		err := tx.Where("domain = ?", domain).First(&existing).Error
		switch {
		case err == nil:
			if err := ensureIdle(tx, existing); err != nil {
				return err
			}
			if err := deleteJobTree(tx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(job).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race against a concurrent request for the same domain.
		return nil, apperrors.NewConflictError(domain, 0)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (dao *scanDAO) GetJobByID(ctx context.Context, id uint) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := dao.session(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %d", apperrors.ErrScanNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

func (dao *scanDAO) GetJobByDomain(ctx context.Context, domain string) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := dao.session(ctx).Where("domain = ?", domain).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrScanNotFound, domain)
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs returns one page of jobs, newest first, and the total count.
// page starts at 1; the caller bounds limit.
func (dao *scanDAO) ListJobs(ctx context.Context, page, limit int) ([]models.ScanJob, int64, error) {
	var jobs []models.ScanJob
	var total int64

	offset := (page - 1) * limit

	db := dao.session(ctx)
	if err := db.Model(&models.ScanJob{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Order("created_at desc").Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// UpdateJobStatus moves a running job to status. Terminal statuses also
// stamp finished_at. A job that is no longer running is left untouched.
func (dao *scanDAO) UpdateJobStatus(ctx context.Context, id uint, status models.Status, errorKind, message string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_kind":    errorKind,
		"error_message": message,
	}
	if status.Terminal() {
		updates["finished_at"] = time.Now().UTC()
	}

	result := dao.session(ctx).Model(&models.ScanJob{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: no running job %d", apperrors.ErrScanNotFound, id)
	}
	return nil
}

// DeleteJob removes the job for domain and everything it owns. It is refused
// while the job or a vulnerability scan on one of its subdomains is running.
func (dao *scanDAO) DeleteJob(ctx context.Context, domain string) error {
	return dao.session(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ScanJob
		if err := tx.Where("domain = ?", domain).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", apperrors.ErrScanNotFound, domain)
			}
			return err
		}
		if err := ensureIdle(tx, job); err != nil {
			return err
		}
		return deleteJobTree(tx, job.ID)
	})
}

func ensureIdle(tx *gorm.DB, job models.ScanJob) error {
	if job.Status == models.StatusRunning {
		return apperrors.NewConflictError(job.Domain, job.ID)
	}

	var busy int64
	err := tx.Model(&models.ScanProgress{}).
		Where("status = ?", models.StatusRunning).
		Where("subdomain_id IN (?)", tx.Model(&models.Subdomain{}).Select("id").Where("scan_id = ?", job.ID)).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return apperrors.NewVulnScanConflictError(job.Domain, job.ID)
	}
	return nil
}

// deleteJobTree removes a job and everything beneath it, leaves first, so
// the result does not depend on the dialect enforcing foreign keys.
func deleteJobTree(tx *gorm.DB, jobID uint) error {
	subdomainIDs := tx.Model(&models.Subdomain{}).Select("id").Where("scan_id = ?", jobID)

	for _, model := range []interface{}{&models.Finding{}, &models.Port{}, &models.ScanProgress{}} {
		if err := tx.Where("subdomain_id IN (?)", subdomainIDs).Delete(model).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("scan_id = ?", jobID).Delete(&models.Subdomain{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.ScanJob{}, jobID).Error
}

// CreateSubdomains bulk-inserts one row per name in the given order, alive
// when the name is in the alive set.
func (dao *scanDAO) CreateSubdomains(ctx context.Context, jobID uint, names []string, alive map[string]struct{}) ([]models.Subdomain, error) {
	if len(names) == 0 {
		return nil, nil
	}

	subdomains := make([]models.Subdomain, 0, len(names))
	for _, name := range names {
		_, ok := alive[name]
		subdomains = append(subdomains, models.Subdomain{ScanID: jobID, Name: name, HTTPAlive: ok})
	}

	if err := dao.session(ctx).CreateInBatches(&subdomains, 200).Error; err != nil {
		return nil, err
	}
	return subdomains, nil
}

func (dao *scanDAO) GetSubdomain(ctx context.Context, id uint) (*models.Subdomain, error) {
	var subdomain models.Subdomain
	if err := dao.session(ctx).First(&subdomain, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", apperrors.ErrSubdomainNotFound, id)
		}
		return nil, err
	}
	return &subdomain, nil
}

func (dao *scanDAO) ListSubdomains(ctx context.Context, domain string, aliveOnly bool) ([]models.Subdomain, error) {
	job, err := dao.GetJobByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	query := dao.session(ctx).
		Preload("Ports", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Findings", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("scan_id = ?", job.ID)
	if aliveOnly {
		query = query.Where("http_alive = ?", true)
	}

	var subdomains []models.Subdomain
	if err := query.Order("id").Find(&subdomains).Error; err != nil {
		return nil, err
	}
	return subdomains, nil
}

func (dao *scanDAO) AddPorts(ctx context.Context, ports []models.Port) error {
	if len(ports) == 0 {
		return nil
	}
	return dao.session(ctx).CreateInBatches(&ports, 200).Error
}

func (dao *scanDAO) AddFindings(ctx context.Context, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return dao.session(ctx).CreateInBatches(&findings, 200).Error
}

// UpsertProgress creates the progress row for a subdomain or overwrites the
// existing one. A subdomain that no longer exists gets no row.
func (dao *scanDAO) UpsertProgress(ctx context.Context, subdomainID uint, status models.Status, errorKind, message string) error {
	progress := models.ScanProgress{
		SubdomainID:  subdomainID,
		Status:       status,
		ErrorKind:    errorKind,
		ErrorMessage: message,
	}

	err := dao.session(ctx).Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Model(&models.Subdomain{}).Where("id = ?", subdomainID).Count(&owners).Error; err != nil {
			return err
		}
		if owners == 0 {
			return fmt.Errorf("%w: %d", apperrors.ErrSubdomainNotFound, subdomainID)
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subdomain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error_kind", "error_message", "updated_at"}),
		}).Create(&progress).Error
	})
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%w: %d", apperrors.ErrSubdomainNotFound, subdomainID)
	}
	return err
}

func (dao *scanDAO) ListProgress(ctx context.Context) ([]models.ScanProgress, error) {
	var progress []models.ScanProgress
	if err := dao.session(ctx).Order("subdomain_id").Find(&progress).Error; err != nil {
		return nil, err
	}
	return progress, nil
}

// FailInterrupted marks every running job and progress row as failed. It is
// meant for startup, when nothing can still be working on them.
func (dao *scanDAO) FailInterrupted(ctx context.Context, errorKind, message string) (int64, int64, error) {
	var jobs, progress int64
	err := dao.session(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ScanJob{}).
			Where("status = ?", models.StatusRunning).
			Updates(map[string]interface{}{
				"status":        models.StatusFailed,
				"error_kind":    errorKind,
				"error_message": message,
				"finished_at":   time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		jobs = result.RowsAffected

		result = tx.Model(&models.ScanProgress{}).
			Where("status = ?", models.StatusRunning).
			Updates(map[string]interface{}{
				"status":        models.StatusFailed,
				"error_kind":    errorKind,
				"error_message": message,
			})
		if result.Error != nil {
			return result.Error
		}
		progress = result.RowsAffected
		return nil
	})
	return jobs, progress, err
}
