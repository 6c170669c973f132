package services

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"reconflow/internal/dao"
	"reconflow/internal/models"
	"reconflow/pkg/engine"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/tools"
)

// Notifier receives summaries of finished work. Implementations must be safe
// for concurrent use.
type Notifier interface {
	NotifyJobFinished(ctx context.Context, job models.ScanJob, subdomains, alive, ports int) error
	NotifyFindings(ctx context.Context, subdomain models.Subdomain, findings []models.Finding) error
}

// ScanExecutor runs the recon pipeline for a job and vulnerability scans for
// single subdomains. Both run inside scheduler tasks.
type ScanExecutor struct {
	scanDao  dao.ScanDAO
	tools    *tools.Toolbox
	status   *ScanStatusManager
	notifier Notifier
	logger   *logger.Logger
}

func NewScanExecutor(scanDao dao.ScanDAO, toolbox *tools.Toolbox, notifier Notifier, log *logger.Logger) *ScanExecutor {
	if log == nil {
		log = logger.Default()
	}
	return &ScanExecutor{
		scanDao:  scanDao,
		tools:    toolbox,
		status:   newScanStatusManager(scanDao, log),
		notifier: notifier,
		logger:   log,
	}
}

type stageSummary struct {
	subdomains int
	alive      int
	ports      int
}

// RunScan drives a running job through enumerate, probe, persist and
// port-scan, then marks it finished. Any store error, panic, cancellation or
// timeout marks the job failed instead and is returned.
func (e *ScanExecutor) RunScan(ctx context.Context, job models.ScanJob) (err error) {
	log := e.logger.WithContext(ctx).WithFields(logrus.Fields{"job_id": job.ID, "domain": job.Domain})

	defer func() {
		if r := recover(); r != nil {
			err = &engine.PanicError{Value: r, Stack: debug.Stack()}
			e.status.MarkFailedWithReason(ctx, job.ID, err)
		}
	}()

	log.Info("Starting scan execution")

	summary, err := e.runStages(ctx, job, log)
	if err != nil {
		e.status.MarkFailedWithReason(ctx, job.ID, err)
		return err
	}

	if err := e.status.MarkCompleted(ctx, job.ID); err != nil {
		err = fmt.Errorf("mark job finished: %w", err)
		e.status.MarkFailedWithReason(ctx, job.ID, err)
		return err
	}

	log.WithFields(logrus.Fields{
		"subdomains": summary.subdomains,
		"alive":      summary.alive,
		"ports":      summary.ports,
	}).Info("Scan completed successfully")

	if e.notifier != nil {
		if err := e.notifier.NotifyJobFinished(ctx, job, summary.subdomains, summary.alive, summary.ports); err != nil {
			log.WithError(err).Warn("Failed to send scan notification")
		}
	}
	return nil
}

func (e *ScanExecutor) runStages(ctx context.Context, job models.ScanJob, log *logrus.Entry) (stageSummary, error) {
	var summary stageSummary

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	names, err := e.tools.Enumerator.Enumerate(ctx, job.Domain)
	logToolError(log, tools.Subfinder, err)
	log.WithField("count", len(names)).Info("Enumeration finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	alive, err := e.tools.Probe.Probe(ctx, names)
	logToolError(log, tools.Httpx, err)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	subdomains, err := e.scanDao.CreateSubdomains(ctx, job.ID, names, alive)
	if err != nil {
		return summary, fmt.Errorf("store subdomains: %w", err)
	}
	summary.subdomains = len(subdomains)
	for _, s := range subdomains {
		if s.HTTPAlive {
			summary.alive++
		}
	}
	log.WithField("alive", summary.alive).Info("Liveness stage stored")

	var ports []models.Port
	for _, subdomain := range subdomains {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		lines, err := e.tools.Ports.Scan(ctx, subdomain.Name)
		logToolError(log.WithField("subdomain", subdomain.Name), tools.Naabu, err)
		for _, line := range lines {
			ports = append(ports, models.Port{SubdomainID: subdomain.ID, Port: line})
		}
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if err := e.scanDao.AddPorts(ctx, ports); err != nil {
		return summary, fmt.Errorf("store ports: %w", err)
	}
	summary.ports = len(ports)

	return summary, nil
}

// RunVulnerabilityScan scans one subdomain for the given categories and
// records findings, keeping its progress row current.
func (e *ScanExecutor) RunVulnerabilityScan(ctx context.Context, subdomainID uint, categories []models.Category) (err error) {
	log := e.logger.WithContext(ctx).WithField("subdomain_id", subdomainID)

	defer func() {
		if r := recover(); r != nil {
			err = &engine.PanicError{Value: r, Stack: debug.Stack()}
			e.status.ProgressFailed(ctx, subdomainID, err)
		}
	}()

	findings, subdomain, err := e.runVulnScan(ctx, subdomainID, categories, log)
	if err != nil {
		e.status.ProgressFailed(ctx, subdomainID, err)
		return err
	}

	log.WithField("findings", len(findings)).Info("Vulnerability scan completed")

	if e.notifier != nil && len(findings) > 0 {
		if err := e.notifier.NotifyFindings(ctx, *subdomain, findings); err != nil {
			log.WithError(err).Warn("Failed to send findings notification")
		}
	}
	return nil
}

func (e *ScanExecutor) runVulnScan(ctx context.Context, subdomainID uint, categories []models.Category, log *logrus.Entry) ([]models.Finding, *models.Subdomain, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := e.status.ProgressRunning(ctx, subdomainID); err != nil {
		return nil, nil, fmt.Errorf("mark progress running: %w", err)
	}

	subdomain, err := e.scanDao.GetSubdomain(ctx, subdomainID)
	if err != nil {
		return nil, nil, fmt.Errorf("load subdomain: %w", err)
	}
	log = log.WithField("subdomain", subdomain.Name)

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	results, err := e.tools.Vulns.Scan(ctx, subdomain.Name, names)
	logToolError(log, tools.Nuclei, err)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	findings := make([]models.Finding, 0, len(results))
	for _, r := range results {
		category, err := models.ParseCategory(r.Category)
		if err != nil {
			log.WithError(err).Warn("Dropping finding with unknown category")
			continue
		}
		findings = append(findings, models.Finding{SubdomainID: subdomain.ID, Category: category, Raw: r.Raw})
	}

	if err := e.scanDao.AddFindings(ctx, findings); err != nil {
		return nil, nil, fmt.Errorf("store findings: %w", err)
	}
	if err := e.status.ProgressCompleted(ctx, subdomainID); err != nil {
		return nil, nil, fmt.Errorf("mark progress finished: %w", err)
	}
	return findings, subdomain, nil
}

// logToolError records a surfaced tool failure. Stages continue with
// whatever output the tool produced.
func logToolError(log *logrus.Entry, tool string, err error) {
	if err == nil {
		return
	}
	kind := "failed"
	if apperrors.Is(err, apperrors.ErrToolTimeout) {
		kind = "timeout"
	}
	log.WithError(err).WithFields(logrus.Fields{"tool": tool, "tool_error": kind}).Warn("Tool failed, continuing with partial results")
}
