package config

// Example is a commented starter scenario written by `botsurge init`.
const Example = `# botsurge scenario
#
# Drives load against a chat-bot messaging endpoint. Concurrency follows the
# staged profile below; thresholds are SLA pass/fail rules over the run's
# aggregated metrics.

target:
  url: "https://bot.example.com/api/messages"
  method: POST
  protocol: http          # or websocket (ws:// URL)
  request_timeout: 10s
  headers:
    Content-Type: "application/json"

load:
  # Ramp to 20 VUs, hold, then ramp down.
  stages:
    - { duration: 30s, target: 20 }
    - { duration: 2m,  target: 20 }
    - { duration: 30s, target: 0 }
  tick_interval: 100ms
  think_time: 1s
  rate_limit:
    enabled: false
    requests_per_second: 100
    burst: 10

# Chat activity stamped onto every request (unless target.body is set).
message:
  channel_id: "webchat"
  from_id: "loadtest"
  from_name: "Load Test"
  recipient_id: "bot"
  text: "hello from botsurge"
  locale: "en-US"

# Bearer tokens from the external credential provider.
auth:
  enabled: false
  token_url: "https://login.example.com/oauth2/token"
  client_id: ""
  client_secret: ""       # or set BOTSURGE_AUTH_CLIENT_SECRET
  refresh_skew: 30s

checks:
  - { name: status_200, expect_status: 200 }
  - { name: fast_reply, max_duration: 800ms }

# Thresholds are a list: several rules may target the same metric.
thresholds:
  - { metric: request_duration, expr: "p95 < 500ms" }
  - { metric: request_duration, expr: "p99 < 1500ms" }
  - { metric: error_rate, expr: "rate < 0.01", abort_on_fail: true }

logging:
  level: info
  format: text

# Local listener with /status JSON and Prometheus /metrics during the run.
status:
  enabled: false
  listen_address: "127.0.0.1:6565"

report:
  json_file: ""           # write machine-readable results here
  raw_samples: 0          # keep this many recent raw samples in the JSON report
`
