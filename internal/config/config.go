// Package config loads and validates the scenario file that describes a
// load-test run.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botsurge/botsurge/internal/sched"
	"github.com/botsurge/botsurge/internal/threshold"
)

// Scenario is the top-level run configuration. It is resolved once before
// any traffic is sent and never re-read mid-run.
type Scenario struct {
	Target     TargetConfig     `yaml:"target"`
	Load       LoadConfig       `yaml:"load"`
	Message    MessageConfig    `yaml:"message"`
	Auth       AuthConfig       `yaml:"auth"`
	Checks     []CheckConfig    `yaml:"checks"`
	Thresholds []threshold.Spec `yaml:"thresholds"`
	Logging    LoggingConfig    `yaml:"logging"`
	Status     StatusConfig     `yaml:"status"`
	Report     ReportConfig     `yaml:"report"`
}

// TargetConfig describes the endpoint under test.
type TargetConfig struct {
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	Protocol       string            `yaml:"protocol"` // http or websocket
	Headers        map[string]string `yaml:"headers"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	// Body, when set, is sent verbatim instead of the built chat message.
	Body string `yaml:"body"`
}

// LoadConfig shapes concurrency over the run.
type LoadConfig struct {
	VUs          int             `yaml:"vus"`      // flat target when no stages
	Duration     time.Duration   `yaml:"duration"` // run length for flat load
	Stages       []sched.Stage   `yaml:"stages"`
	TickInterval time.Duration   `yaml:"tick_interval"`
	ThinkTime    time.Duration   `yaml:"think_time"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig caps total request starts per second across all VUs.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MessageConfig holds the chat activity fields stamped onto every request.
type MessageConfig struct {
	ChannelID   string `yaml:"channel_id"`
	ServiceURL  string `yaml:"service_url"`
	FromID      string `yaml:"from_id"`
	FromName    string `yaml:"from_name"`
	RecipientID string `yaml:"recipient_id"`
	Text        string `yaml:"text"`
	Locale      string `yaml:"locale"`
}

// AuthConfig points at the external credential provider.
type AuthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scope        string        `yaml:"scope"`
	RefreshSkew  time.Duration `yaml:"refresh_skew"`
}

// CheckConfig is one named response assertion. Exactly one criterion must
// be set.
type CheckConfig struct {
	Name         string        `yaml:"name"`
	ExpectStatus int           `yaml:"expect_status"`
	BodyContains string        `yaml:"body_contains"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StatusConfig controls the optional local run-status listener.
type StatusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// ReportConfig controls summary output.
type ReportConfig struct {
	JSONFile   string `yaml:"json_file"`
	RawSamples int    `yaml:"raw_samples"`
}

// Default returns a Scenario with sensible defaults. Target URL and load
// shape still have to come from the file or flags.
func Default() *Scenario {
	return &Scenario{
		Target: TargetConfig{
			Method:         "POST",
			Protocol:       "http",
			RequestTimeout: 10 * time.Second,
		},
		Load: LoadConfig{
			Duration:     time.Minute,
			TickInterval: 100 * time.Millisecond,
			ThinkTime:    time.Second,
			RateLimit: RateLimitConfig{
				Enabled: false,
			},
		},
		Auth: AuthConfig{
			RefreshSkew: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Status: StatusConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1:6565",
		},
	}
}

// Load reads a scenario file and applies environment variable overrides.
func Load(path string) (*Scenario, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("scenario file not found at %s (run 'botsurge init' to create one)", path)
			}
			return nil, fmt.Errorf("reading scenario file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing scenario file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating scenario: %w", err)
	}

	return cfg, nil
}

// Validate checks the scenario for configuration errors, naming the first
// offending field.
func (c *Scenario) Validate() error {
	// Target
	if c.Target.URL == "" {
		return fmt.Errorf("target.url is required")
	}
	u, err := url.Parse(c.Target.URL)
	if err != nil {
		return fmt.Errorf("target.url is invalid: %w", err)
	}
	switch c.Target.Protocol {
	case "http":
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("target.url must use http:// or https:// when target.protocol is http")
		}
	case "websocket":
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("target.url must use ws:// or wss:// when target.protocol is websocket")
		}
	default:
		return fmt.Errorf("target.protocol must be one of: http, websocket")
	}
	switch c.Target.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		// valid
	default:
		return fmt.Errorf("target.method %q is not a supported HTTP method", c.Target.Method)
	}
	if c.Target.RequestTimeout <= 0 {
		return fmt.Errorf("target.request_timeout must be positive")
	}
	if c.Target.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("target.request_timeout must not exceed 5m")
	}

	// Load shape
	if len(c.Load.Stages) == 0 {
		if c.Load.VUs <= 0 {
			return fmt.Errorf("load.vus must be positive when load.stages is empty")
		}
		if c.Load.Duration <= 0 {
			return fmt.Errorf("load.duration must be positive when load.stages is empty")
		}
	}
	if _, err := sched.NewPlan(c.Load.Stages, c.Load.VUs, c.Load.Duration); err != nil {
		return fmt.Errorf("load.stages: %w", err)
	}
	if c.Load.TickInterval < 10*time.Millisecond || c.Load.TickInterval > 5*time.Second {
		return fmt.Errorf("load.tick_interval must be between 10ms and 5s")
	}
	if c.Load.ThinkTime < 0 {
		return fmt.Errorf("load.think_time must be non-negative")
	}
	if c.Load.RateLimit.Enabled {
		if c.Load.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("load.rate_limit.requests_per_second must be positive")
		}
		if c.Load.RateLimit.Burst < 0 {
			return fmt.Errorf("load.rate_limit.burst must be non-negative")
		}
	}

	// The chat message builder is only exercised for HTTP runs without a
	// verbatim body; its fields are checked at setup by payload.Template.

	// Auth
	if c.Auth.Enabled {
		if c.Auth.TokenURL == "" {
			return fmt.Errorf("auth.token_url is required when auth is enabled")
		}
		if au, err := url.Parse(c.Auth.TokenURL); err != nil || (au.Scheme != "http" && au.Scheme != "https") {
			return fmt.Errorf("auth.token_url must be an http(s) URL")
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("auth.client_id is required when auth is enabled")
		}
		if c.Auth.ClientSecret == "" {
			return fmt.Errorf("auth.client_secret is required when auth is enabled (set BOTSURGE_AUTH_CLIENT_SECRET to avoid storing it in the file)")
		}
	}

	// Checks
	seen := make(map[string]bool)
	for i, ch := range c.Checks {
		if ch.Name == "" {
			return fmt.Errorf("checks[%d].name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("checks[%d]: duplicate check name %q", i, ch.Name)
		}
		seen[ch.Name] = true
		criteria := 0
		if ch.ExpectStatus != 0 {
			criteria++
		}
		if ch.BodyContains != "" {
			criteria++
		}
		if ch.MaxDuration != 0 {
			criteria++
		}
		if criteria != 1 {
			return fmt.Errorf("checks[%d] (%s): exactly one of expect_status, body_contains, max_duration must be set", i, ch.Name)
		}
		if ch.MaxDuration < 0 {
			return fmt.Errorf("checks[%d] (%s): max_duration must be positive", i, ch.Name)
		}
	}

	// Thresholds compile or the run never starts.
	if _, err := threshold.CompileAll(c.Thresholds); err != nil {
		return err
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Status listener stays on loopback; it exposes run internals.
	if c.Status.Enabled {
		host, _, err := net.SplitHostPort(c.Status.ListenAddress)
		if err != nil {
			return fmt.Errorf("status.listen_address is invalid: %w", err)
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("status.listen_address must bind a loopback address (e.g. 127.0.0.1)")
		}
	}

	if c.Report.RawSamples < 0 {
		return fmt.Errorf("report.raw_samples must be non-negative")
	}
	if c.Report.RawSamples > 1_000_000 {
		return fmt.Errorf("report.raw_samples must not exceed 1000000")
	}

	return nil
}

// applyEnvOverrides applies BOTSURGE_ prefixed environment variables.
// Convention: BOTSURGE_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Scenario) {
	envMap := map[string]func(string){
		"BOTSURGE_TARGET_URL":         func(v string) { cfg.Target.URL = v },
		"BOTSURGE_TARGET_METHOD":      func(v string) { cfg.Target.Method = strings.ToUpper(v) },
		"BOTSURGE_LOAD_VUS":           func(v string) { cfg.Load.VUs = parseInt(v, cfg.Load.VUs) },
		"BOTSURGE_LOAD_DURATION":      func(v string) { cfg.Load.Duration = parseDuration(v, cfg.Load.Duration) },
		"BOTSURGE_LOAD_THINK_TIME":    func(v string) { cfg.Load.ThinkTime = parseDuration(v, cfg.Load.ThinkTime) },
		"BOTSURGE_AUTH_ENABLED":       func(v string) { cfg.Auth.Enabled = parseBool(v, cfg.Auth.Enabled) },
		"BOTSURGE_AUTH_TOKEN_URL":     func(v string) { cfg.Auth.TokenURL = v },
		"BOTSURGE_AUTH_CLIENT_ID":     func(v string) { cfg.Auth.ClientID = v },
		"BOTSURGE_AUTH_CLIENT_SECRET": func(v string) { cfg.Auth.ClientSecret = v },
		"BOTSURGE_LOGGING_LEVEL":      func(v string) { cfg.Logging.Level = v },
		"BOTSURGE_LOGGING_FORMAT":     func(v string) { cfg.Logging.Format = v },
		"BOTSURGE_LOGGING_FILE":       func(v string) { cfg.Logging.File = v },
		"BOTSURGE_STATUS_ENABLED":     func(v string) { cfg.Status.Enabled = parseBool(v, cfg.Status.Enabled) },
		"BOTSURGE_REPORT_JSON_FILE":   func(v string) { cfg.Report.JSONFile = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
