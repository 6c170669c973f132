package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/runner"
	"reconflow/pkg/tools"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler" yaml:"scheduler"`
	Runner        RunnerConfig        `mapstructure:"runner" yaml:"runner"`
	Tools         ToolsConfig         `mapstructure:"tools" yaml:"tools"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"-"`
	Name         string `mapstructure:"name" yaml:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// ConnString returns the explicit dsn or one assembled from the discrete
// connection fields for the selected driver.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case DriverPostgres:
		port := d.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			d.Host, port, d.User, d.Password, d.Name)
	case DriverMySQL:
		port := d.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, port, d.Name)
	default:
		return d.Name + ".db"
	}
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SchedulerConfig struct {
	PipelineWorkers int           `mapstructure:"pipeline_workers" yaml:"pipeline_workers"`
	VulnWorkers     int           `mapstructure:"vuln_workers" yaml:"vuln_workers"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

type RunnerConfig struct {
	FailurePolicy  string        `mapstructure:"failure_policy" yaml:"failure_policy"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

type ToolEntry struct {
	Path    string        `mapstructure:"path" yaml:"path"`
	Args    []string      `mapstructure:"args" yaml:"args,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type NucleiEntry struct {
	ToolEntry    `mapstructure:",squash" yaml:",inline"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir"`
}

type ToolsConfig struct {
	Subfinder ToolEntry   `mapstructure:"subfinder" yaml:"subfinder"`
	Httpx     ToolEntry   `mapstructure:"httpx" yaml:"httpx"`
	Naabu     ToolEntry   `mapstructure:"naabu" yaml:"naabu"`
	Nuclei    NucleiEntry `mapstructure:"nuclei" yaml:"nuclei"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type DiscordConfig struct {
	Token     string `mapstructure:"token" yaml:"-"`
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
}

type NotificationsConfig struct {
	Discord DiscordConfig `mapstructure:"discord" yaml:"discord"`
}

// ToolSettings converts the tool section for the scanners.
func (c *Config) ToolSettings() tools.Settings {
	s := tools.Settings{
		Tools:        make(map[string]tools.ToolConfig, 4),
		TemplatesDir: c.Tools.Nuclei.TemplatesDir,
	}
	add := func(name string, e ToolEntry) {
		s.Tools[name] = tools.ToolConfig{Name: name, Path: e.Path, Args: e.Args, Timeout: e.Timeout}
	}
	add(tools.Subfinder, c.Tools.Subfinder)
	add(tools.Httpx, c.Tools.Httpx)
	add(tools.Naabu, c.Tools.Naabu)
	add(tools.Nuclei, c.Tools.Nuclei.ToolEntry)
	return s
}

func (c *Config) FailurePolicy() runner.FailurePolicy {
	p, err := runner.ParseFailurePolicy(c.Runner.FailurePolicy)
	if err != nil {
		return runner.PolicyEmpty
	}
	return p
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return apperrors.NewConfigError("database.driver", c.Database.Driver, "must be sqlite, postgres or mysql")
	}
	if c.Scheduler.PipelineWorkers < 1 {
		return apperrors.NewConfigError("scheduler.pipeline_workers", c.Scheduler.PipelineWorkers, "must be at least 1")
	}
	if c.Scheduler.VulnWorkers < 1 {
		return apperrors.NewConfigError("scheduler.vuln_workers", c.Scheduler.VulnWorkers, "must be at least 1")
	}
	if c.Scheduler.TaskTimeout < 0 {
		return apperrors.NewConfigError("scheduler.task_timeout", c.Scheduler.TaskTimeout, "must not be negative")
	}
	if _, err := runner.ParseFailurePolicy(c.Runner.FailurePolicy); err != nil {
		return apperrors.NewConfigError("runner.failure_policy", c.Runner.FailurePolicy, "must be empty or surface")
	}
	if c.Runner.DefaultTimeout < 0 {
		return apperrors.NewConfigError("runner.default_timeout", c.Runner.DefaultTimeout, "must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return apperrors.NewConfigError("server.port", c.Server.Port, "out of range")
	}
	if err := c.ToolSettings().Validate(); err != nil {
		return apperrors.NewConfigError("tools", "", err.Error())
	}
	return nil
}

// LoadOptions holds configuration loading options
type LoadOptions struct {
	// ConfigFile, when set, must exist. Otherwise ConfigName is searched
	// for in ConfigPaths and a missing file means defaults only.
	ConfigFile  string
	ConfigName  string
	ConfigPaths []string
	EnvPrefix   string
}

func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		ConfigName:  "reconflow",
		ConfigPaths: []string{"./config", ".", "/etc/reconflow", "$HOME/.reconflow"},
		EnvPrefix:   "RECONFLOW",
	}
}

// Load reads defaults, the config file and environment variables, in
// increasing order of precedence.
func Load(opts LoadOptions) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	}
	// Plain DB_* variables are still honoured for container setups.
	for key, env := range map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.name":     "DB_NAME",
	} {
		_ = v.BindEnv(key, envName(opts.EnvPrefix, key), env)
	}
	_ = v.BindEnv("notifications.discord.token", envName(opts.EnvPrefix, "notifications.discord.token"), "DISCORD_TOKEN")
	_ = v.BindEnv("notifications.discord.channel_id", envName(opts.EnvPrefix, "notifications.discord.channel_id"), "DISCORD_CHANNEL_ID")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName(opts.ConfigName)
		for _, path := range opts.ConfigPaths {
			v.AddConfigPath(path)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch calls onChange with the re-read configuration whenever the config
// file changes. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *logger.Logger, onChange func(*Config)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid config change")
			return
		}
		log.WithField("file", e.Name).Info("Config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return true
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envName(prefix, key string) string {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "reconflow")
	v.SetDefault("database.password", "reconflow")
	v.SetDefault("database.name", "reconflow")
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)

	v.SetDefault("scheduler.pipeline_workers", 3)
	v.SetDefault("scheduler.vuln_workers", 3)
	v.SetDefault("scheduler.task_timeout", "0s")

	v.SetDefault("runner.failure_policy", string(runner.PolicyEmpty))
	v.SetDefault("runner.default_timeout", "30m")

	for _, name := range []string{tools.Subfinder, tools.Httpx, tools.Naabu, tools.Nuclei} {
		v.SetDefault("tools."+name+".path", name)
		v.SetDefault("tools."+name+".args", []string{})
		v.SetDefault("tools."+name+".timeout", "0s")
	}
	v.SetDefault("tools.nuclei.templates_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("notifications.discord.token", "")
	v.SetDefault("notifications.discord.channel_id", "")
}
