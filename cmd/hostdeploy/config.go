package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/artpar/hostdeploy/internal/shell/preflight"
	"github.com/artpar/hostdeploy/internal/shell/vcs"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	State     StateConfig     `mapstructure:"state"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Container ContainerConfig `mapstructure:"container"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Health    HealthConfig    `mapstructure:"health"`
	Retention RetentionConfig `mapstructure:"retention"`
	Rollback  RollbackConfig  `mapstructure:"rollback"`
	Lock      LockConfig      `mapstructure:"lock"`
	Preflight PreflightConfig `mapstructure:"preflight"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// PathsConfig holds the on-disk locations a run writes to.
type PathsConfig struct {
	Root       string `mapstructure:"root"`        // {root}/{app}/{repo,releases,current}
	BackupRoot string `mapstructure:"backup_root"` // {backup_root}/{app}/{stamp}
	ErrorLog   string `mapstructure:"error_log"`
}

// StateConfig holds the lock and history database configuration.
type StateConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client and build configuration.
type DockerConfig struct {
	Host        string            `mapstructure:"host"`
	StopTimeout time.Duration     `mapstructure:"stop_timeout"`
	Dockerfile  string            `mapstructure:"dockerfile"`
	BuildArgs   map[string]string `mapstructure:"build_args"`
	Pull        bool              `mapstructure:"pull"`
	NoCache     bool              `mapstructure:"no_cache"`
}

// ContainerConfig holds the published port mapping.
type ContainerConfig struct {
	Port          int    `mapstructure:"port"`
	HostPort      int    `mapstructure:"host_port"`
	RestartPolicy string `mapstructure:"restart_policy"`
}

// SyncConfig holds source repository configuration.
type SyncConfig struct {
	RemoteBase string `mapstructure:"remote_base"`
	Owner      string `mapstructure:"owner"`
	Repo       string `mapstructure:"repo"` // defaults to the app name
	Strategy   string `mapstructure:"strategy"`
	Branch     string `mapstructure:"branch"`
	TagPrefix  string `mapstructure:"tag_prefix"`

	// Token is sent as HTTP basic auth password.
	// Set via HOSTDEPLOY_SYNC_TOKEN rather than the config file.
	Token string `mapstructure:"token"`

	// SSH credentials for ssh:// or git@host: remotes.
	SSHKey           string `mapstructure:"ssh_key"`
	SSHKeyPassphrase string `mapstructure:"ssh_key_passphrase"`
	KnownHosts       string `mapstructure:"known_hosts"`
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	URL            string        `mapstructure:"url"`
	Warmup         time.Duration `mapstructure:"warmup"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Probes         int           `mapstructure:"probes"`
	Interval       time.Duration `mapstructure:"interval"`
}

// RetentionConfig holds pruning limits. Zero disables a limit.
type RetentionConfig struct {
	Backups      int           `mapstructure:"backups"`
	BackupMaxAge time.Duration `mapstructure:"backup_max_age"`
	Releases     int           `mapstructure:"releases"`
}

// RollbackConfig bounds the rollback after a failed health check.
type RollbackConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LockConfig holds per-app lease configuration.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// PreflightConfig holds the list of required host tools.
type PreflightConfig struct {
	Tools []string `mapstructure:"tools"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig holds SMTP configuration. Email is disabled without a host.
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig holds webhook configuration. Disabled without a URL.
type WebhookConfig struct {
	URL      string        `mapstructure:"url"`
	RetryMax int           `mapstructure:"retry_max"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds Pushgateway configuration.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

// LoadConfig loads configuration from defaults, an optional file, the
// environment and the given flags, in increasing precedence.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("paths.root", "/srv/hostdeploy")
	v.SetDefault("paths.backup_root", "/srv/hostdeploy/backups")
	v.SetDefault("paths.error_log", "/var/log/hostdeploy/errors.log")
	v.SetDefault("state.dsn", "/srv/hostdeploy/state.db")

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.stop_timeout", "10s")
	v.SetDefault("docker.dockerfile", "")
	v.SetDefault("docker.build_args", map[string]string{})
	v.SetDefault("docker.pull", false)
	v.SetDefault("docker.no_cache", false)

	v.SetDefault("container.port", 80)
	v.SetDefault("container.host_port", 8080)
	v.SetDefault("container.restart_policy", "")

	v.SetDefault("sync.remote_base", "https://github.com")
	v.SetDefault("sync.owner", "")
	v.SetDefault("sync.repo", "")
	v.SetDefault("sync.strategy", string(vcs.StrategyMerge))
	v.SetDefault("sync.branch", "main")
	v.SetDefault("sync.tag_prefix", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.ssh_key", "")
	v.SetDefault("sync.ssh_key_passphrase", "")
	v.SetDefault("sync.known_hosts", "")

	v.SetDefault("health.url", "http://localhost:8080/")
	v.SetDefault("health.warmup", "10s")
	v.SetDefault("health.connect_timeout", "5s")
	v.SetDefault("health.probes", 1) // a single probe decides
	v.SetDefault("health.interval", "5s")

	v.SetDefault("retention.backups", 10)
	v.SetDefault("retention.backup_max_age", "0s")
	v.SetDefault("retention.releases", 5)

	v.SetDefault("rollback.timeout", "10m")

	v.SetDefault("lock.ttl", "15m")

	v.SetDefault("preflight.tools", preflight.DefaultTools)

	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.to", []string{})
	v.SetDefault("notify.email.starttls", true)
	v.SetDefault("notify.email.timeout", "15s")
	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.retry_max", 3)
	v.SetDefault("notify.webhook.timeout", "10s")

	v.SetDefault("metrics.pushgateway_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// An explicitly named file must be readable
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("HOSTDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// =============================================================================
// Config Validation
// =============================================================================

// Validate checks the loaded configuration for values no run could use.
func (c *Config) Validate() error {
	var merr *multierror.Error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			merr = multierror.Append(merr, fmt.Errorf(format, args...))
		}
	}

	check(c.Paths.Root != "", "paths.root is required")
	check(c.Paths.ErrorLog != "", "paths.error_log is required")
	check(c.State.DSN != "", "state.dsn is required")
	check(validPort(c.Container.Port), "container.port %d is out of range", c.Container.Port)
	check(validPort(c.Container.HostPort), "container.host_port %d is out of range", c.Container.HostPort)
	check(c.Health.Probes >= 1, "health.probes must be at least 1")
	check(c.Health.Warmup >= 0, "health.warmup must not be negative")
	check(c.Retention.Backups >= 0, "retention.backups must not be negative")
	check(c.Retention.BackupMaxAge >= 0, "retention.backup_max_age must not be negative")
	check(c.Retention.Releases >= 0, "retention.releases must not be negative")
	check(c.Lock.TTL > 0, "lock.ttl must be positive")
	check(c.Rollback.Timeout > 0, "rollback.timeout must be positive")
	if c.Sync.KnownHosts != "" {
		check(c.Sync.SSHKey != "", "sync.ssh_key is required when sync.known_hosts is set")
	}

	if _, err := vcs.ParseStrategy(c.Sync.Strategy); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("sync.strategy: %w", err))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		merr = multierror.Append(merr, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	if c.Notify.Email.Host != "" {
		check(c.Notify.Email.From != "", "notify.email.from is required when notify.email.host is set")
		check(len(c.Notify.Email.To) > 0, "notify.email.to is required when notify.email.host is set")
	}

	return merr.ErrorOrNil()
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
