package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"IMAP_SERVER", "IMAP_PORT", "IMAP_USER", "IMAP_PASSWORD", "IMAP_TLS", "MAILBOX",
	"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "TELEGRAM_API_URL",
	"POLL_INTERVAL", "MAX_BODY_CHARS", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IMAP_SERVER", "imap.example.com")
	t.Setenv("IMAP_USER", "me@example.com")
	t.Setenv("IMAP_PASSWORD", "secret")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAP_SERVER", "imap.example.com")

	_, err := Load("", "")
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Load() error = %v, want *MissingError", err)
	}
	want := []string{"IMAP_USER", "IMAP_PASSWORD", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"}
	if !reflect.DeepEqual(missing.Keys, want) {
		t.Errorf("missing keys = %v, want %v", missing.Keys, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IMAP.Port != 993 {
		t.Errorf("port = %d, want 993", cfg.IMAP.Port)
	}
	if !cfg.IMAP.UseTLS {
		t.Error("use_tls should default to true")
	}
	if got := cfg.IMAP.GetMailbox(); got != "INBOX" {
		t.Errorf("mailbox = %q, want INBOX", got)
	}
	if got := cfg.PollInterval(); got != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", got)
	}
	if got := cfg.GetMaxBodyChars(); got != 800 {
		t.Errorf("max body chars = %d, want 800", got)
	}
	if cfg.Telegram.APIURL != "https://api.telegram.org" {
		t.Errorf("api url = %q", cfg.Telegram.APIURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("IMAP_PORT", "1993")
	t.Setenv("IMAP_TLS", "false")
	t.Setenv("MAILBOX", "Alerts")
	t.Setenv("POLL_INTERVAL", "30")
	t.Setenv("MAX_BODY_CHARS", "100")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IMAP.Port != 1993 || cfg.IMAP.UseTLS || cfg.IMAP.Mailbox != "Alerts" {
		t.Errorf("imap = %+v", cfg.IMAP)
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.GetMaxBodyChars() != 100 {
		t.Errorf("max body chars = %d", cfg.GetMaxBodyChars())
	}
}

func TestLoadInvalidNumber(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load("", ""); err == nil {
		t.Fatal("expected error for non-numeric POLL_INTERVAL")
	}
}

func TestLoadRejectsNonPositive(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"POLL_INTERVAL", "0"},
		{"POLL_INTERVAL", "-5"},
		{"MAX_BODY_CHARS", "0"},
		{"MAX_BODY_CHARS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("", "")
			if err == nil || !strings.Contains(err.Error(), "must be positive") {
				t.Fatalf("Load() error = %v, want rejection of %s=%s", err, tt.key, tt.value)
			}
		})
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
log_level: debug
imap:
  host: file.example.com
  username: file-user
  password: file-pass
  mailbox: Archive
telegram:
  bot_token: file-token
  chat_id: "7"
poll_interval_seconds: 60
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAP_SERVER", "env.example.com")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IMAP.Host != "env.example.com" {
		t.Errorf("host = %q, environment should win over file", cfg.IMAP.Host)
	}
	if cfg.IMAP.Username != "file-user" || cfg.Telegram.ChatID != "7" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.IMAP.Port != 993 {
		t.Errorf("port = %d, default should survive a file without it", cfg.IMAP.Port)
	}
	if cfg.LogLevel != "debug" || cfg.PollInterval() != time.Minute {
		t.Errorf("log level = %q, interval = %v", cfg.LogLevel, cfg.PollInterval())
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "IMAP_SERVER=dotenv.example.com\nIMAP_USER=u\nIMAP_PASSWORD=p\nTELEGRAM_BOT_TOKEN=t\nTELEGRAM_CHAT_ID=1\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMAP_USER", "from-env")
	// godotenv sets the remaining keys with os.Setenv; restore them afterwards.
	for _, k := range []string{"IMAP_SERVER", "IMAP_PASSWORD", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID"} {
		k := k
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IMAP.Host != "dotenv.example.com" {
		t.Errorf("host = %q", cfg.IMAP.Host)
	}
	if cfg.IMAP.Username != "from-env" {
		t.Errorf("username = %q, existing environment must not be overridden", cfg.IMAP.Username)
	}
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	if _, err := Load("", filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}
