package config

import (
	"fmt"
	"strings"
	"time"

	"tenderwatch/internal/tender"
)

// Config is the full application configuration. YAML and JSON are both
// accepted; unknown fields are rejected so typos fail loudly at load
// time instead of being silently ignored.
type Config struct {
	Logging   LoggingConfig   `json:"logging,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	Anbud  AnbudConfig  `json:"anbud,omitempty"`
	Doffin DoffinConfig `json:"doffin,omitempty"`
	TED    TEDConfig    `json:"ted,omitempty"`

	Telegram TelegramConfig `json:"telegram,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so an explicit false survives defaulting.
	Console *bool          `json:"console,omitempty"`
	File    FileSinkConfig `json:"file,omitempty"`
}

type FileSinkConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"` // sqlite
	DSN    string `json:"dsn,omitempty"`  // postgres
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	IntervalMinutes int `json:"interval_minutes,omitempty"`
	// EnabledSources toggles adapters by name. Omitted sources keep
	// their default; unknown names are rejected by Validate.
	EnabledSources map[string]bool `json:"enabled_sources,omitempty"`
}

type AnbudConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	DetailLimit int    `json:"detail_limit,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

type DoffinConfig struct {
	SearchURL      string `json:"search_url,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	SettleAttempts int    `json:"settle_attempts,omitempty"`
	SettleDelay    string `json:"settle_delay,omitempty"`
}

type TEDConfig struct {
	APIURL       string `json:"api_url,omitempty"`
	Country      string `json:"country,omitempty"`
	MinPublished string `json:"min_published,omitempty"`
	PageLimit    int    `json:"page_limit,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type EmailConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	From      string `json:"from,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

func defaultEnabledSources() map[string]bool {
	return map[string]bool{
		string(tender.SourceAnbud):   true,
		string(tender.SourceDoffin):  true,
		string(tender.SourceTED):     true,
		string(tender.SourceMercell): false,
	}
}

// ApplyDefaults fills omitted fields in place. Explicitly set values,
// including explicit false toggles, are left alone.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/tenderwatch.db"
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		c.Scheduler.IntervalMinutes = 30
	}
	merged := defaultEnabledSources()
	for name, on := range c.Scheduler.EnabledSources {
		merged[name] = on
	}
	c.Scheduler.EnabledSources = merged

	if c.Anbud.DetailLimit <= 0 {
		c.Anbud.DetailLimit = 20
	}
	if c.Anbud.Timeout == "" {
		c.Anbud.Timeout = "60s"
	}
	if c.Doffin.Timeout == "" {
		c.Doffin.Timeout = "60s"
	}
	if c.Doffin.SettleAttempts <= 0 {
		c.Doffin.SettleAttempts = 5
	}
	if c.Doffin.SettleDelay == "" {
		c.Doffin.SettleDelay = "2s"
	}
	if c.TED.Country == "" {
		c.TED.Country = "NOR"
	}
	if c.TED.PageLimit <= 0 {
		c.TED.PageLimit = 50
	}
	if c.TED.Timeout == "" {
		c.TED.Timeout = "30s"
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = 1
	}
	if c.Email.Port <= 0 {
		c.Email.Port = 587
	}
}

// Validate assumes defaults have been applied.
func (c *Config) Validate() error {
	for name := range c.Scheduler.EnabledSources {
		if _, ok := tender.ParseSource(name); !ok {
			return fmt.Errorf("scheduler.enabled_sources: unknown source %q", name)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"anbud.timeout", c.Anbud.Timeout},
		{"doffin.timeout", c.Doffin.Timeout},
		{"doffin.settle_delay", c.Doffin.SettleDelay},
		{"ted.timeout", c.TED.Timeout},
	} {
		if _, err := parseDuration(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Scheduler.EnabledSources[string(tender.SourceAnbud)] {
		if strings.TrimSpace(c.Anbud.Username) == "" || strings.TrimSpace(c.Anbud.Password) == "" {
			return fmt.Errorf("anbud: username and password are required while the source is enabled")
		}
	}
	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return fmt.Errorf("telegram: token is required while enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram: chat_id is required while enabled")
		}
	}
	if c.Email.Enabled {
		if strings.TrimSpace(c.Email.Host) == "" || strings.TrimSpace(c.Email.Recipient) == "" {
			return fmt.Errorf("email: host and recipient are required while enabled")
		}
	}
	return nil
}

// EnabledSources converts the name-keyed toggles to typed sources.
func (c *Config) EnabledSources() map[tender.Source]bool {
	out := make(map[tender.Source]bool, len(c.Scheduler.EnabledSources))
	for name, on := range c.Scheduler.EnabledSources {
		if src, ok := tender.ParseSource(name); ok {
			out[src] = on
		}
	}
	return out
}

// ConsoleLogging resolves the pointer toggle.
func (c *Config) ConsoleLogging() bool {
	return c.Logging.Console == nil || *c.Logging.Console
}

// Duration returns the parsed value of a validated duration field, or
// def when the field is empty.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
