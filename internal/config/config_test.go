package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/kidandcat/workboard/internal/access"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Uploads.MaxBytes != 10<<20 {
		t.Errorf("MaxBytes = %d, want 10 MiB", cfg.Uploads.MaxBytes)
	}
	if cfg.Invitations.TTL != 7*24*time.Hour {
		t.Errorf("TTL = %v", cfg.Invitations.TTL)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workboard.yaml")
	content := `
addr: ":9000"
data_dir: /srv/workboard
log_format: json
invitations:
  ttl: 72h
uploads:
  max_size: 5 MB
team_role_mapping:
  lead: admin
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WORKBOARD_DATA_DIR", "/var/lib/workboard")
	t.Setenv("WORKBOARD_ADMIN_EMAILS", "a@example.com, b@example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"--addr", ":7000"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, flag should win", cfg.Addr)
	}
	if cfg.DataDir != "/var/lib/workboard" {
		t.Errorf("DataDir = %q, env should beat the file", cfg.DataDir)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, file should beat the default", cfg.LogFormat)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, default should survive", cfg.LogLevel)
	}
	if cfg.Invitations.TTL != 72*time.Hour {
		t.Errorf("TTL = %v", cfg.Invitations.TTL)
	}
	if cfg.Uploads.MaxBytes != 5_000_000 {
		t.Errorf("MaxBytes = %d", cfg.Uploads.MaxBytes)
	}
	if strings.Join(cfg.AdminEmails, ",") != "a@example.com,b@example.com" {
		t.Errorf("AdminEmails = %v", cfg.AdminEmails)
	}
	mapping, _ := cfg.TeamRoles()
	if mapping[access.TeamLead] != access.RoleAdmin || mapping[access.TeamMember] != access.RoleViewer {
		t.Errorf("mapping = %v", mapping)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }, "addr"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"ttl", func(c *Config) { c.Invitations.TTL = 0 }, "ttl"},
		{"sweep", func(c *Config) { c.Jobs.SweepInterval = -time.Second }, "sweep_interval"},
		{"due soon", func(c *Config) { c.Jobs.DueSoonWindow = 0 }, "due_soon_window"},
		{"upload size", func(c *Config) { c.Uploads.MaxSize = "lots" }, "max_size"},
		{"rate", func(c *Config) { c.RateLimit.Burst = -1 }, "rate_limit"},
		{"unknown team role", func(c *Config) { c.TeamRoleMapping = map[string]string{"boss": "admin"} }, "team_role_mapping"},
		{"owner mapping", func(c *Config) { c.TeamRoleMapping = map[string]string{"lead": "owner"} }, "team_role_mapping"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}
