package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"reconflow/internal/dao"
	"reconflow/internal/models"
	"reconflow/pkg/engine"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
)

type ScanServiceMethods interface {
	StartScan(ctx context.Context, domain string) (*models.ScanJob, error)
	TriggerVulnerabilityScan(ctx context.Context, subdomainID uint, categories []string) error
	GetJob(ctx context.Context, domain string) (*models.ScanJob, error)
	ListJobs(ctx context.Context, page, limit int) (*JobPage, error)
	DeleteJob(ctx context.Context, domain string) error
	ListSubdomains(ctx context.Context, domain string, aliveOnly bool) ([]models.Subdomain, error)
	GroupedFindings(ctx context.Context, domain string, aliveOnly bool) (map[uint]map[models.Category][]string, error)
	GetProgress(ctx context.Context) (map[uint]models.Status, error)
	Categories() []models.Category
	SchedulerStatus() []engine.PoolStatus
	RecoverInterrupted(ctx context.Context) error
}

// TaskScheduler is the part of the scheduler the service submits work to.
type TaskScheduler interface {
	Submit(kind engine.TaskKind, name string, task engine.Task) (string, error)
	Status() []engine.PoolStatus
}

type scanService struct {
	scanDao   dao.ScanDAO
	executor  *ScanExecutor
	scheduler TaskScheduler
	logger    *logger.Logger
}

func NewScanService(scanDao dao.ScanDAO, executor *ScanExecutor, scheduler TaskScheduler, log *logger.Logger) ScanServiceMethods {
	if log == nil {
		log = logger.Default()
	}
	return &scanService{scanDao: scanDao, executor: executor, scheduler: scheduler, logger: log}
}

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeDomain lower-cases domain, strips a trailing dot and checks
// hostname syntax. At least two labels are required and no label may start
// or end with a hyphen, so the value is never mistaken for a tool flag.
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if d == "" || len(d) > 253 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidDomain, domain)
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidDomain, domain)
	}
	for _, label := range labels {
		if !labelPattern.MatchString(label) {
			return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidDomain, domain)
		}
	}
	return d, nil
}

// NormalizeCategories validates categories against the fixed set and drops
// repeats, keeping first-seen order.
func NormalizeCategories(categories []string) ([]models.Category, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", apperrors.ErrInvalidCategory)
	}

	seen := make(map[models.Category]bool, len(categories))
	out := make([]models.Category, 0, len(categories))
	for _, raw := range categories {
		c, err := models.ParseCategory(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCategory, err)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

func (s *scanService) StartScan(ctx context.Context, domain string) (*models.ScanJob, error) {
	domain, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	job, err := s.scanDao.CreateJob(ctx, domain)
	if err != nil {
		return nil, err
	}

	scanJob := *job
	if _, err := s.scheduler.Submit(engine.KindPipeline, "scan:"+domain, func(taskCtx context.Context) error {
		return s.executor.RunScan(taskCtx, scanJob)
	}); err != nil {
		s.executor.status.MarkFailedWithReason(ctx, job.ID, fmt.Errorf("%w: %w", context.Canceled, err))
		return nil, err
	}

	s.logger.WithFields(logger.Fields{"job_id": job.ID, "domain": domain}).Info("Scan queued")
	return job, nil
}

func (s *scanService) TriggerVulnerabilityScan(ctx context.Context, subdomainID uint, categories []string) error {
	cats, err := NormalizeCategories(categories)
	if err != nil {
		return err
	}

	if _, err := s.scanDao.GetSubdomain(ctx, subdomainID); err != nil {
		return err
	}

	_, err = s.scheduler.Submit(engine.KindVuln, fmt.Sprintf("vuln:%d", subdomainID), func(taskCtx context.Context) error {
		return s.executor.RunVulnerabilityScan(taskCtx, subdomainID, cats)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logger.Fields{"subdomain_id": subdomainID, "categories": cats}).Info("Vulnerability scan queued")
	return nil
}

func (s *scanService) GetJob(ctx context.Context, domain string) (*models.ScanJob, error) {
	return s.scanDao.GetJobByDomain(ctx, normalizeLookup(domain))
}

// JobPage is one page of jobs, newest first, with the page and limit that
// were actually applied.
type JobPage struct {
	Jobs  []models.ScanJob
	Total int64
	Page  int
	Limit int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// clampPage bounds page to at least 1 and limit to 1..MaxPageLimit, with a
// non-positive limit meaning DefaultPageLimit.
func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 1:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	return page, limit
}

func (s *scanService) ListJobs(ctx context.Context, page, limit int) (*JobPage, error) {
	page, limit = clampPage(page, limit)
	jobs, total, err := s.scanDao.ListJobs(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []models.ScanJob{}
	}
	return &JobPage{Jobs: jobs, Total: total, Page: page, Limit: limit}, nil
}

// DeleteJob refuses to remove a job that is still running or has
// vulnerability scans in flight on its subdomains.
func (s *scanService) DeleteJob(ctx context.Context, domain string) error {
	domain = normalizeLookup(domain)
	if err := s.scanDao.DeleteJob(ctx, domain); err != nil {
		return err
	}
	s.logger.WithField("domain", domain).Info("Scan deleted")
	return nil
}

func (s *scanService) ListSubdomains(ctx context.Context, domain string, aliveOnly bool) ([]models.Subdomain, error) {
	return s.scanDao.ListSubdomains(ctx, normalizeLookup(domain), aliveOnly)
}

// GroupedFindings maps every listed subdomain id to its finding lines by
// category. Subdomains without findings map to an empty set.
func (s *scanService) GroupedFindings(ctx context.Context, domain string, aliveOnly bool) (map[uint]map[models.Category][]string, error) {
	subdomains, err := s.ListSubdomains(ctx, domain, aliveOnly)
	if err != nil {
		return nil, err
	}

	grouped := make(map[uint]map[models.Category][]string, len(subdomains))
	for _, sd := range subdomains {
		byCategory := make(map[models.Category][]string)
		for _, f := range sd.Findings {
			byCategory[f.Category] = append(byCategory[f.Category], f.Raw)
		}
		grouped[sd.ID] = byCategory
	}
	return grouped, nil
}

func (s *scanService) GetProgress(ctx context.Context) (map[uint]models.Status, error) {
	rows, err := s.scanDao.ListProgress(ctx)
	if err != nil {
		return nil, err
	}
	progress := make(map[uint]models.Status, len(rows))
	for _, p := range rows {
		progress[p.SubdomainID] = p.Status
	}
	return progress, nil
}

func (s *scanService) Categories() []models.Category {
	return append([]models.Category(nil), models.Categories...)
}

func (s *scanService) SchedulerStatus() []engine.PoolStatus {
	return s.scheduler.Status()
}

// RecoverInterrupted fails work a previous process left running. It must run
// before the first task is submitted.
func (s *scanService) RecoverInterrupted(ctx context.Context) error {
	return s.executor.status.RecoverInterrupted(ctx)
}

func normalizeLookup(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
