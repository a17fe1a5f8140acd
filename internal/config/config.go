// Package config loads the server configuration. Values come from
// built-in defaults, then an optional YAML file, then environment
// variables, then command-line flags, each layer overriding the last.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kidandcat/workboard/internal/access"
)

type Config struct {
	Addr        string   `yaml:"addr"`
	BaseURL     string   `yaml:"base_url"`
	DataDir     string   `yaml:"data_dir"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	AdminEmails []string `yaml:"admin_emails"`

	Email       EmailConfig      `yaml:"email"`
	Invitations InvitationConfig `yaml:"invitations"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Uploads     UploadConfig     `yaml:"uploads"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`

	// TeamRoleMapping overrides the project role each team role grants,
	// e.g. {lead: admin}.
	TeamRoleMapping map[string]string `yaml:"team_role_mapping"`
}

type EmailConfig struct {
	FromEmail    string `yaml:"from"`
	ResendAPIKey string `yaml:"resend_api_key"`
	SMTPEnabled  bool   `yaml:"smtp_enabled"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     string `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPass     string `yaml:"smtp_pass"`
}

type InvitationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type JobsConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`

	// DueSoonWindow is how far ahead the due-soon reminder looks.
	DueSoonWindow time.Duration `yaml:"due_soon_window"`
}

type UploadConfig struct {
	// MaxSize is a human size such as "10 MiB".
	MaxSize string `yaml:"max_size"`

	// MaxBytes is MaxSize parsed by Validate.
	MaxBytes int64 `yaml:"-"`
}

type RateLimitConfig struct {
	PerMinute        int `yaml:"per_minute"`
	Burst            int `yaml:"burst"`
	AnonymousPerHour int `yaml:"anonymous_per_hour"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Addr:      ":8080",
		BaseURL:   "http://localhost:8080",
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
		Email: EmailConfig{
			FromEmail: "Workboard <workboard@resend.dev>",
			SMTPPort:  "587",
		},
		Invitations: InvitationConfig{TTL: 7 * 24 * time.Hour},
		Jobs: JobsConfig{
			SweepInterval:    time.Hour,
			ReminderInterval: time.Hour,
			CleanupInterval:  6 * time.Hour,
			DueSoonWindow:    24 * time.Hour,
		},
		Uploads:   UploadConfig{MaxSize: "10 MiB"},
		RateLimit: RateLimitConfig{PerMinute: 1000, Burst: 100, AnonymousPerHour: 100},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when empty), and the environment. Flags are applied
// afterwards with Flags.Apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("WORKBOARD_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("WORKBOARD_ADDR", c.Addr)
	c.BaseURL = getEnv("WORKBOARD_BASE_URL", c.BaseURL)
	c.DataDir = getEnv("WORKBOARD_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("WORKBOARD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("WORKBOARD_LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("WORKBOARD_ADMIN_EMAILS"); v != "" {
		c.AdminEmails = splitList(v)
	}

	c.Email.FromEmail = getEnv("WORKBOARD_FROM_EMAIL", c.Email.FromEmail)
	c.Email.ResendAPIKey = getEnv("RESEND_API_KEY", c.Email.ResendAPIKey)
	if v := os.Getenv("SMTP_ENABLED"); v != "" {
		c.Email.SMTPEnabled = strings.EqualFold(v, "true")
	}
	c.Email.SMTPHost = getEnv("SMTP_HOST", c.Email.SMTPHost)
	c.Email.SMTPPort = getEnv("SMTP_PORT", c.Email.SMTPPort)
	c.Email.SMTPUser = getEnv("SMTP_USER", c.Email.SMTPUser)
	c.Email.SMTPPass = getEnv("SMTP_PASS", c.Email.SMTPPass)

	c.Invitations.TTL = getEnvDuration("WORKBOARD_INVITATION_TTL", c.Invitations.TTL)
	c.Uploads.MaxSize = getEnv("WORKBOARD_MAX_UPLOAD", c.Uploads.MaxSize)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Flags holds the command-line overrides registered by RegisterFlags.
type Flags struct {
	fs          *pflag.FlagSet
	ConfigPath  string
	addr        string
	baseURL     string
	dataDir     string
	logLevel    string
	logFormat   string
	adminEmails []string
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "listen address (default :8080)")
	fs.StringVar(&f.baseURL, "base-url", "", "public base URL used in e-mailed links")
	fs.StringVar(&f.dataDir, "data", "", "data directory for the database and attachments")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "text or json")
	fs.StringSliceVar(&f.adminEmails, "admin", nil, "admin e-mail address (repeatable)")
	return f
}

// Apply copies every flag that was set on the command line into c.
func (f *Flags) Apply(c *Config) {
	if f.fs.Changed("addr") {
		c.Addr = f.addr
	}
	if f.fs.Changed("base-url") {
		c.BaseURL = f.baseURL
	}
	if f.fs.Changed("data") {
		c.DataDir = f.dataDir
	}
	if f.fs.Changed("log-level") {
		c.LogLevel = f.logLevel
	}
	if f.fs.Changed("log-format") {
		c.LogFormat = f.logFormat
	}
	if f.fs.Changed("admin") {
		c.AdminEmails = f.adminEmails
	}
}

// Validate checks the configuration and fills derived fields.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitations.ttl must be positive")
	}
	for name, d := range map[string]time.Duration{
		"jobs.sweep_interval":    c.Jobs.SweepInterval,
		"jobs.reminder_interval": c.Jobs.ReminderInterval,
		"jobs.cleanup_interval":  c.Jobs.CleanupInterval,
		"jobs.due_soon_window":   c.Jobs.DueSoonWindow,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	size, err := humanize.ParseBytes(c.Uploads.MaxSize)
	if err != nil || size == 0 {
		return fmt.Errorf("uploads.max_size: invalid size %q", c.Uploads.MaxSize)
	}
	c.Uploads.MaxBytes = int64(size)
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 || c.RateLimit.AnonymousPerHour < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if _, err := c.TeamRoles(); err != nil {
		return fmt.Errorf("team_role_mapping: %w", err)
	}
	return nil
}

// TeamRoles returns the team role mapping with overrides applied.
func (c *Config) TeamRoles() (access.TeamRoleMapping, error) {
	return access.ParseTeamRoleMapping(c.TeamRoleMapping)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
