package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Transport     TransportConfig    `mapstructure:"transport"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Admin         AdminConfig        `mapstructure:"admin"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TransportConfig holds the primary outbound transport settings. An empty
// Host (SMTP) or Region (SES) means no credentials are configured and every
// send routes straight to the fallback transport.
type TransportConfig struct {
	Provider      string        `mapstructure:"provider"` // "smtp" or "ses"
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Pass          string        `mapstructure:"pass"`
	UseTLS        bool          `mapstructure:"use_tls"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DisableVerify bool          `mapstructure:"disable_verify"`
	AWSRegion     string        `mapstructure:"aws_region"`
}

// Configured reports whether primary transport credentials are present.
func (t TransportConfig) Configured() bool {
	if t.Provider == "ses" {
		return t.AWSRegion != ""
	}
	return t.Host != ""
}

// NotificationConfig holds delivery pipeline settings.
type NotificationConfig struct {
	FromName    string `mapstructure:"from_name"`
	FromEmail   string `mapstructure:"from_email"`
	FrontendURL string `mapstructure:"frontend_url"`

	// FallbackMode selects the never-failing secondary path: "log" writes the
	// intended content to the structured log, "capture" writes the rendered
	// message to CaptureDir.
	FallbackMode string `mapstructure:"fallback_mode"`
	CaptureDir   string `mapstructure:"capture_dir"`

	TemplateDir string `mapstructure:"template_dir"`

	QueueBatchSize int           `mapstructure:"queue_batch_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryCooldown  time.Duration `mapstructure:"retry_cooldown"`
	RetentionDays  int           `mapstructure:"retention_days"`
}

// SchedulerConfig enables/disables jobs and overrides intervals.
type SchedulerConfig struct {
	Enabled bool                 `mapstructure:"enabled"`
	Jobs    map[string]JobConfig `mapstructure:"jobs"`
}

// JobConfig is a per-job override. Enabled is a pointer so an entry that only
// sets an interval does not implicitly disable the job.
type JobConfig struct {
	Enabled  *bool         `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// JobEnabled reports whether the named job should be registered. Jobs are
// enabled unless an override says otherwise.
func (s SchedulerConfig) JobEnabled(name string) bool {
	if job, ok := s.Jobs[name]; ok && job.Enabled != nil {
		return *job.Enabled
	}
	return true
}

// JobInterval returns the interval override for the named job, or def when
// none is configured. Only interval-scheduled jobs consult it.
func (s SchedulerConfig) JobInterval(name string, def time.Duration) time.Duration {
	if job, ok := s.Jobs[name]; ok && job.Interval > 0 {
		return job.Interval
	}
	return def
}

type AdminConfig struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	StatsTTL   time.Duration `mapstructure:"stats_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
