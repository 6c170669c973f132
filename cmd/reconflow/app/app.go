// Package app wires configuration, storage, tools and the scheduler into the
// services used by the reconflow commands.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"reconflow/internal/config"
	"reconflow/internal/dao"
	"reconflow/internal/database"
	"reconflow/internal/notification"
	"reconflow/internal/services"
	"reconflow/pkg/engine"
	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/metrics"
	"reconflow/pkg/runner"
	"reconflow/pkg/tools"
)

// Options are the flags shared by every command.
type Options struct {
	ConfigFile string
	Verbose    bool
}

// LoadConfig reads the configuration selected by opts.
func LoadConfig(opts *Options) (*config.Config, *viper.Viper, error) {
	loadOpts := config.DefaultLoadOptions()
	loadOpts.ConfigFile = opts.ConfigFile
	return config.Load(loadOpts)
}

// NewLogger builds the logger for cfg, forcing debug output when verbose.
func NewLogger(cfg *config.Config, verbose bool) *logger.Logger {
	log := logger.NewFromLevel(cfg.Log.Level)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// App represents the main application
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Registry  *tools.Registry
	Scheduler *engine.Scheduler
	Scans     services.ScanServiceMethods
	Configs   services.ConfigServiceMethods

	viper   *viper.Viper
	db      *gorm.DB
	discord *notification.NotificationClient
}

// New opens the database and builds the service graph. The scheduler is
// running when New returns.
func New(ctx context.Context, opts *Options) (*App, error) {
	cfg, v, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := NewLogger(cfg, opts.Verbose)
	m := metrics.New()

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	registry := tools.NewRegistry(cfg.ToolSettings())
	execRunner := runner.NewExecRunner(
		runner.WithPolicy(cfg.FailurePolicy()),
		runner.WithDefaultTimeout(cfg.Runner.DefaultTimeout),
		runner.WithLogger(log),
		runner.WithMetrics(m),
	)

	a := &App{
		Config:   cfg,
		Logger:   log,
		Metrics:  m,
		Registry: registry,
		Configs:  services.NewConfigService(registry),
		viper:    v,
		db:       db,
	}

	var notifier services.Notifier
	discord, err := notification.NewNotificationClient(cfg.Notifications.Discord.Token, cfg.Notifications.Discord.ChannelID)
	switch {
	case apperrors.Is(err, apperrors.ErrNotifierDisabled):
		log.Info("Discord token not set - Discord notifications disabled")
	case err != nil:
		log.WithError(err).Warn("Failed to initialize Discord client")
	default:
		log.Info("Discord notifications enabled")
		a.discord = discord
		notifier = discord
	}

	a.Scheduler = engine.NewScheduler(engine.Options{
		PipelineWorkers: cfg.Scheduler.PipelineWorkers,
		VulnWorkers:     cfg.Scheduler.VulnWorkers,
		TaskTimeout:     cfg.Scheduler.TaskTimeout,
		Logger:          log,
		Metrics:         m,
	})

	store := dao.NewScanDAO(db)
	executor := services.NewScanExecutor(store, tools.NewToolbox(execRunner, registry), notifier, log)
	a.Scans = services.NewScanService(store, executor, a.Scheduler, log)

	return a, nil
}

// WatchConfig applies tool settings from config file edits to the registry.
func (a *App) WatchConfig() {
	watching := config.Watch(a.viper, a.Logger, func(cfg *config.Config) {
		a.Registry.Update(cfg.ToolSettings())
	})
	if watching {
		a.Logger.WithField("file", a.viper.ConfigFileUsed()).Info("Watching config file for tool changes")
	}
}

// Close stops the scheduler, waiting for tasks until ctx ends, then releases
// the notifier and the database.
func (a *App) Close(ctx context.Context) error {
	stopErr := a.Scheduler.Stop(ctx)
	if a.discord != nil {
		if err := a.discord.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Discord client")
		}
	}
	return apperrors.Join(stopErr, database.Close(a.db))
}
