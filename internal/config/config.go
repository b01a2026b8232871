package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel            string   `yaml:"log_level"`
	IMAP                IMAP     `yaml:"imap"`
	Telegram            Telegram `yaml:"telegram"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	MaxBodyChars        int      `yaml:"max_body_chars"`
}

// IMAP holds the watched mailbox connection settings.
type IMAP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	Mailbox  string `yaml:"mailbox"`
}

// Telegram holds the Bot API destination.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
}

// MissingError lists required settings that were not provided.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required settings: " + strings.Join(e.Keys, ", ")
}

// PollInterval returns the poll interval as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GetMaxBodyChars returns the snippet budget, defaulting to 800.
func (c *Config) GetMaxBodyChars() int {
	if c.MaxBodyChars <= 0 {
		return 800
	}
	return c.MaxBodyChars
}

// GetMailbox returns the IMAP folder name, defaulting to "INBOX".
func (i *IMAP) GetMailbox() string {
	if i.Mailbox == "" {
		return "INBOX"
	}
	return i.Mailbox
}

// Default returns a Config populated with every optional default.
func Default() Config {
	return Config{
		LogLevel: "info",
		IMAP: IMAP{
			Port:    993,
			UseTLS:  true,
			Mailbox: "INBOX",
		},
		Telegram: Telegram{
			APIURL: "https://api.telegram.org",
		},
		PollIntervalSeconds: 10,
		MaxBodyChars:        800,
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional dotenv file and the process environment, in increasing order of
// precedence. Empty paths are skipped; a missing dotenv file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if envFile != "" {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("IMAP_SERVER", &c.IMAP.Host)
	str("IMAP_USER", &c.IMAP.Username)
	str("IMAP_PASSWORD", &c.IMAP.Password)
	str("MAILBOX", &c.IMAP.Mailbox)
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	str("TELEGRAM_API_URL", &c.Telegram.APIURL)
	str("LOG_LEVEL", &c.LogLevel)

	if err := num("IMAP_PORT", &c.IMAP.Port); err != nil {
		return err
	}
	if err := num("POLL_INTERVAL", &c.PollIntervalSeconds); err != nil {
		return err
	}
	if err := num("MAX_BODY_CHARS", &c.MaxBodyChars); err != nil {
		return err
	}

	if v, ok := lookup("IMAP_TLS"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("IMAP_TLS: %w", err)
		}
		c.IMAP.UseTLS = b
	}
	return nil
}

// Validate reports every required setting that is still empty.
func (c *Config) Validate() error {
	var missing []string
	if c.IMAP.Host == "" {
		missing = append(missing, "IMAP_SERVER")
	}
	if c.IMAP.Username == "" {
		missing = append(missing, "IMAP_USER")
	}
	if c.IMAP.Password == "" {
		missing = append(missing, "IMAP_PASSWORD")
	}
	if c.Telegram.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.Telegram.ChatID == "" {
		missing = append(missing, "TELEGRAM_CHAT_ID")
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}

	if c.IMAP.Port <= 0 || c.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port %d out of range", c.IMAP.Port)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds)
	}
	if c.MaxBodyChars <= 0 {
		return fmt.Errorf("max_body_chars must be positive, got %d", c.MaxBodyChars)
	}
	return nil
}
