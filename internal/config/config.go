package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Email    EmailConfig    `yaml:"email"`
	Notify   NotifyConfig   `yaml:"notify"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	TrustedProxies     []string      `yaml:"trusted_proxies"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret       string               `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration        `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration        `yaml:"refresh_token_ttl"`
	BootstrapAdmin  BootstrapAdminConfig `yaml:"bootstrap_admin"`
}

// BootstrapAdminConfig creates the first administrator on startup when no
// administrator exists yet.
type BootstrapAdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether outgoing email is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type NotifyConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	RedisURL     string        `yaml:"redis_url"`
	RedisChannel string        `yaml:"redis_channel"`
}

type JobsConfig struct {
	TokenCleanupSchedule string        `yaml:"token_cleanup_schedule"`
	StaleSessionSchedule string        `yaml:"stale_session_schedule"`
	StaleSessionAfter    time.Duration `yaml:"stale_session_after"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STUDYLOCK_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("STUDYLOCK_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("STUDYLOCK_SMTP_PASSWORD"); v != "" {
		c.Email.SMTP.Password = v
	}
	if v := os.Getenv("STUDYLOCK_REDIS_URL"); v != "" {
		c.Notify.RedisURL = v
	}
	if v := os.Getenv("STUDYLOCK_BOOTSTRAP_ADMIN_EMAIL"); v != "" {
		c.Auth.BootstrapAdmin.Email = v
	}
	if v := os.Getenv("STUDYLOCK_BOOTSTRAP_ADMIN_PASSWORD"); v != "" {
		c.Auth.BootstrapAdmin.Password = v
	}
	if v := os.Getenv("STUDYLOCK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Email.SMTP.Enabled() {
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp.port is required when email.smtp.host is set")
		}
		if c.Email.SMTP.From == "" {
			return fmt.Errorf("email.smtp.from is required when email.smtp.host is set")
		}
	}
	admin := c.Auth.BootstrapAdmin
	if (admin.Email == "") != (admin.Password == "") {
		return fmt.Errorf("auth.bootstrap_admin needs both email and password")
	}
	if admin.Password != "" && len(admin.Password) < 8 {
		return fmt.Errorf("auth.bootstrap_admin.password must be at least 8 characters")
	}
	if c.Log.Level != "" {
		if _, err := parseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/studylock.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.BootstrapAdmin.Name == "" {
		c.Auth.BootstrapAdmin.Name = "Administrator"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.SendTimeout == 0 {
		c.Notify.SendTimeout = 30 * time.Second
	}
	if c.Notify.RedisChannel == "" {
		c.Notify.RedisChannel = "studylock:notifications"
	}
	if c.Jobs.TokenCleanupSchedule == "" {
		c.Jobs.TokenCleanupSchedule = "0 0 * * * *"
	}
	if c.Jobs.StaleSessionSchedule == "" {
		c.Jobs.StaleSessionSchedule = "0 */15 * * * *"
	}
	if c.Jobs.StaleSessionAfter == 0 {
		c.Jobs.StaleSessionAfter = 12 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
