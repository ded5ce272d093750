package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/botsurge/botsurge/internal/threshold"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Target.Method != "POST" {
		t.Errorf("default method = %q, want POST", cfg.Target.Method)
	}
	if cfg.Target.Protocol != "http" {
		t.Errorf("default protocol = %q, want http", cfg.Target.Protocol)
	}
	if cfg.Target.RequestTimeout != 10*time.Second {
		t.Errorf("default request_timeout = %v, want 10s", cfg.Target.RequestTimeout)
	}
	if cfg.Load.TickInterval != 100*time.Millisecond {
		t.Errorf("default tick_interval = %v, want 100ms", cfg.Load.TickInterval)
	}
	if cfg.Load.ThinkTime != time.Second {
		t.Errorf("default think_time = %v, want 1s", cfg.Load.ThinkTime)
	}
	if cfg.Status.ListenAddress != "127.0.0.1:6565" {
		t.Errorf("default status address = %q, want 127.0.0.1:6565", cfg.Status.ListenAddress)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
target:
  url: "https://bot.example.com/api/messages"
  request_timeout: 5s
load:
  stages:
    - { duration: 10s, target: 5 }
    - { duration: 30s, target: 5 }
  think_time: 250ms
message:
  channel_id: webchat
  from_id: loadtest
  recipient_id: bot
  text: hi
checks:
  - { name: status_200, expect_status: 200 }
thresholds:
  - { metric: request_duration, expr: "p95 < 500ms" }
  - { metric: error_rate, expr: "rate < 0.01", abort_on_fail: true }
`
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Target.URL != "https://bot.example.com/api/messages" {
		t.Errorf("url = %q", cfg.Target.URL)
	}
	if cfg.Target.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout = %v, want 5s", cfg.Target.RequestTimeout)
	}
	if len(cfg.Load.Stages) != 2 || cfg.Load.Stages[0].Target != 5 {
		t.Errorf("stages = %+v", cfg.Load.Stages)
	}
	if cfg.Load.ThinkTime != 250*time.Millisecond {
		t.Errorf("think_time = %v, want 250ms", cfg.Load.ThinkTime)
	}
	if len(cfg.Thresholds) != 2 {
		t.Fatalf("thresholds = %d, want 2", len(cfg.Thresholds))
	}
	if !cfg.Thresholds[1].AbortOnFail {
		t.Error("second threshold should carry abort_on_fail")
	}
	// Defaults fill unset fields.
	if cfg.Target.Method != "POST" {
		t.Errorf("method = %q, want POST default", cfg.Target.Method)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "botsurge init") {
		t.Errorf("missing file error = %v, want hint at init", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOTSURGE_TARGET_URL", "https://alt.example.com/api/messages")
	t.Setenv("BOTSURGE_LOAD_VUS", "3")
	t.Setenv("BOTSURGE_LOAD_DURATION", "30s")
	t.Setenv("BOTSURGE_AUTH_CLIENT_SECRET", "s3cret")
	t.Setenv("BOTSURGE_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Target.URL != "https://alt.example.com/api/messages" {
		t.Errorf("url = %q, want env override", cfg.Target.URL)
	}
	if cfg.Load.VUs != 3 {
		t.Errorf("vus = %d, want 3", cfg.Load.VUs)
	}
	if cfg.Auth.ClientSecret != "s3cret" {
		t.Errorf("client_secret not overridden")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func validScenario() *Scenario {
	cfg := Default()
	cfg.Target.URL = "https://bot.example.com/api/messages"
	cfg.Load.VUs = 5
	cfg.Load.Duration = 30 * time.Second
	return cfg
}

func TestValidateErrorsNameTheField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
		want   string
	}{
		{"missing url", func(c *Scenario) { c.Target.URL = "" }, "target.url"},
		{"bad scheme", func(c *Scenario) { c.Target.URL = "ftp://x" }, "target.url"},
		{"ws url for http", func(c *Scenario) { c.Target.URL = "ws://x" }, "target.url"},
		{"bad protocol", func(c *Scenario) { c.Target.Protocol = "carrier-pigeon" }, "target.protocol"},
		{"bad method", func(c *Scenario) { c.Target.Method = "FETCH" }, "target.method"},
		{"zero timeout", func(c *Scenario) { c.Target.RequestTimeout = 0 }, "target.request_timeout"},
		{"no load shape", func(c *Scenario) { c.Load.VUs = 0 }, "load.vus"},
		{"flat without duration", func(c *Scenario) { c.Load.Duration = 0 }, "load.duration"},
		{"tiny tick", func(c *Scenario) { c.Load.TickInterval = time.Millisecond }, "load.tick_interval"},
		{"negative think", func(c *Scenario) { c.Load.ThinkTime = -time.Second }, "load.think_time"},
		{"rate limit without rate", func(c *Scenario) { c.Load.RateLimit.Enabled = true }, "requests_per_second"},
		{"auth missing token url", func(c *Scenario) { c.Auth.Enabled = true; c.Auth.ClientID = "a"; c.Auth.ClientSecret = "s" }, "auth.token_url"},
		{"auth missing secret", func(c *Scenario) {
			c.Auth.Enabled = true
			c.Auth.TokenURL = "https://login.example.com/token"
			c.Auth.ClientID = "a"
		}, "auth.client_secret"},
		{"check without name", func(c *Scenario) { c.Checks = []CheckConfig{{ExpectStatus: 200}} }, "name"},
		{"check with two criteria", func(c *Scenario) {
			c.Checks = []CheckConfig{{Name: "x", ExpectStatus: 200, BodyContains: "ok"}}
		}, "exactly one"},
		{"duplicate check names", func(c *Scenario) {
			c.Checks = []CheckConfig{{Name: "x", ExpectStatus: 200}, {Name: "x", ExpectStatus: 201}}
		}, "duplicate"},
		{"bad threshold", func(c *Scenario) {
			c.Thresholds = append(c.Thresholds, threshold.Spec{Metric: "request_duration", Expr: "p42 < 1"})
		}, "p42"},
		{"bad log level", func(c *Scenario) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Scenario) { c.Logging.Format = "xml" }, "logging.format"},
		{"public status listener", func(c *Scenario) {
			c.Status.Enabled = true
			c.Status.ListenAddress = "0.0.0.0:6565"
		}, "loopback"},
		{"negative raw samples", func(c *Scenario) { c.Report.RawSamples = -1 }, "raw_samples"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validScenario()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidateWebSocketTarget(t *testing.T) {
	cfg := validScenario()
	cfg.Target.Protocol = "websocket"
	cfg.Target.URL = "wss://bot.example.com/ws"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error for ws target: %v", err)
	}
}

func TestExampleScenarioIsLoadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(Example), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(example) error: %v", err)
	}
	if len(cfg.Load.Stages) != 3 {
		t.Errorf("example stages = %d, want 3", len(cfg.Load.Stages))
	}
	if len(cfg.Thresholds) != 3 {
		t.Errorf("example thresholds = %d, want 3", len(cfg.Thresholds))
	}
}
