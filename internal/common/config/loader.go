package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like TRANSPORT_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from the working directory upward so the binary and
// package tests resolve the same file.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "notification-manager"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 20
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}

	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "smtp"
	}
	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = 587
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 10 * time.Second
	}

	if cfg.Notifications.FromName == "" {
		cfg.Notifications.FromName = "MemberDeals"
	}
	if cfg.Notifications.FallbackMode == "" {
		cfg.Notifications.FallbackMode = "log"
	}
	if cfg.Notifications.TemplateDir == "" {
		cfg.Notifications.TemplateDir = "templates"
	}
	if cfg.Notifications.QueueBatchSize == 0 {
		cfg.Notifications.QueueBatchSize = 50
	}
	if cfg.Notifications.MaxRetries == 0 {
		cfg.Notifications.MaxRetries = 3
	}
	if cfg.Notifications.RetryCooldown == 0 {
		cfg.Notifications.RetryCooldown = time.Hour
	}
	if cfg.Notifications.RetentionDays == 0 {
		cfg.Notifications.RetentionDays = 90
	}

	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = ":8080"
	}
	if cfg.Admin.StatsTTL == 0 {
		cfg.Admin.StatsTTL = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// overrideEmptyConfig applies the flat environment keys recognized by the
// platform when the yaml left them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Transport.Host == "" {
		if val := os.Getenv("TRANSPORT_HOST"); val != "" {
			cfg.Transport.Host = val
		}
	}
	if cfg.Transport.Port == 587 {
		if val := os.Getenv("TRANSPORT_PORT"); val != "" {
			if port, err := strconv.Atoi(val); err == nil {
				cfg.Transport.Port = port
			}
		}
	}
	if cfg.Transport.User == "" {
		if val := os.Getenv("TRANSPORT_USER"); val != "" {
			cfg.Transport.User = val
		}
	}
	if cfg.Transport.Pass == "" {
		if val := os.Getenv("TRANSPORT_PASS"); val != "" {
			cfg.Transport.Pass = val
		}
	}
	if val := os.Getenv("DISABLE_TRANSPORT_VERIFY"); val != "" {
		cfg.Transport.DisableVerify = val == "true" || val == "1"
	}

	if cfg.Notifications.FromName == "MemberDeals" {
		if val := os.Getenv("FROM_NAME"); val != "" {
			cfg.Notifications.FromName = val
		}
	}
	if cfg.Notifications.FromEmail == "" {
		if val := os.Getenv("FROM_EMAIL"); val != "" {
			cfg.Notifications.FromEmail = val
		}
	}
	if cfg.Notifications.FrontendURL == "" {
		if val := os.Getenv("FRONTEND_URL"); val != "" {
			cfg.Notifications.FrontendURL = val
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Notifications.FromEmail == "" {
		return fmt.Errorf("notifications.from_email is required")
	}
	switch cfg.Transport.Provider {
	case "smtp", "ses":
	default:
		return fmt.Errorf("transport.provider must be smtp or ses, got %q", cfg.Transport.Provider)
	}
	switch cfg.Notifications.FallbackMode {
	case "log", "capture":
	default:
		return fmt.Errorf("notifications.fallback_mode must be log or capture, got %q", cfg.Notifications.FallbackMode)
	}
	if cfg.Notifications.FallbackMode == "capture" && cfg.Notifications.CaptureDir == "" {
		return fmt.Errorf("notifications.capture_dir is required for capture fallback mode")
	}
	return nil
}
