// Package runner orchestrates a load-test run: setup, staged execution
// driving the VU pool, threshold enforcement, teardown and the final result.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/botsurge/botsurge/internal/client"
	"github.com/botsurge/botsurge/internal/config"
	"github.com/botsurge/botsurge/internal/metrics"
	"github.com/botsurge/botsurge/internal/payload"
	"github.com/botsurge/botsurge/internal/sched"
	"github.com/botsurge/botsurge/internal/threshold"
	"github.com/botsurge/botsurge/internal/token"
	"github.com/botsurge/botsurge/internal/vu"
)

// State is the run controller's lifecycle phase. A Runner executes exactly
// one run; it is never re-entered.
type State int32

const (
	Idle State = iota
	Setup
	StagedExecution
	Aborting
	Teardown
	Reported
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Setup:
		return "setup"
	case StagedExecution:
		return "running"
	case Aborting:
		return "aborting"
	case Teardown:
		return "teardown"
	case Reported:
		return "reported"
	default:
		return "unknown"
	}
}

// Hooks are optional one-time user callbacks around the staged execution.
// Setup's return value is handed to every iteration via the run context and
// back to Teardown.
type Hooks struct {
	Setup    func(ctx context.Context) (any, error)
	Teardown func(ctx context.Context, setupData any, elapsed time.Duration) error
}

type ctxKey int

// setupDataKey carries the Setup hook's value into iteration contexts.
const setupDataKey ctxKey = 0

// SetupData extracts the Setup hook's value from an iteration context.
func SetupData(ctx context.Context) any {
	return ctx.Value(setupDataKey)
}

// Option adjusts a Runner before its run.
type Option func(*Runner)

// WithHooks installs setup/teardown hooks.
func WithHooks(h Hooks) Option {
	return func(r *Runner) { r.hooks = h }
}

// WithDoer replaces the protocol client, mainly for tests.
func WithDoer(d client.Doer) Option {
	return func(r *Runner) { r.doer = d }
}

// WithProm mirrors live run state into Prometheus instruments.
func WithProm(p *metrics.Prom) Option {
	return func(r *Runner) { r.prom = p }
}

// Runner owns one run of a scenario.
type Runner struct {
	cfg   *config.Scenario
	hooks Hooks
	prom  *metrics.Prom
	doer  client.Doer

	state atomic.Int32

	reg        *metrics.Registry
	plan       *sched.Plan
	thresholds []*threshold.Threshold
	checks     []client.Check
	tokens     *token.Cache
	limiter    *rate.Limiter
	tmpl       payload.Template

	pool *vu.Pool

	mu       sync.Mutex
	runID    string
	start    time.Time
	draining bool
	status   Status

	internalErr  atomic.Pointer[error]
	breachedSpec atomic.Pointer[threshold.Outcome]
}

// New compiles a scenario into a Runner. Configuration errors surface here,
// before any traffic is sent.
func New(cfg *config.Scenario, opts ...Option) (*Runner, error) {
	plan, err := sched.NewPlan(cfg.Load.Stages, cfg.Load.VUs, cfg.Load.Duration)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	ths, err := threshold.CompileAll(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:        cfg,
		plan:       plan,
		thresholds: ths,
		reg:        metrics.NewRegistry(cfg.Report.RawSamples),
		status:     StatusCompleted,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State returns the controller's current phase.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// peakTarget is the highest concurrency the plan will request, used to size
// the HTTP connection pool.
func (r *Runner) peakTarget() int {
	peak := r.cfg.Load.VUs
	for _, s := range r.cfg.Load.Stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	if peak < 1 {
		peak = 1
	}
	return peak
}

// Run executes the scenario once. The context cancels the run externally:
// VUs finish their in-flight iteration, then the run tears down.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if !r.transition(Idle, Setup) {
		return nil, fmt.Errorf("runner already used: a run executes exactly once per Runner")
	}

	if err := r.setup(ctx); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	var setupData any
	if r.hooks.Setup != nil {
		data, err := r.hooks.Setup(ctx)
		if err != nil {
			return nil, fmt.Errorf("setup hook: %w", err)
		}
		setupData = data
	}

	r.mu.Lock()
	r.runID = uuid.NewString()
	r.start = time.Now()
	r.mu.Unlock()

	slog.Info("run starting",
		"run_id", r.runID,
		"target", r.cfg.Target.URL,
		"planned_duration", r.plan.Total(),
		"peak_vus", r.peakTarget(),
	)

	r.state.Store(int32(StagedExecution))
	r.execute(ctx, setupData)

	// Teardown: every VU has reached Stopped by now.
	r.state.Store(int32(Teardown))
	elapsed := r.elapsed()
	if r.hooks.Teardown != nil {
		if err := r.hooks.Teardown(ctx, setupData, elapsed); err != nil {
			slog.Warn("teardown hook failed", "error", err)
		}
	}

	result := r.report(elapsed)
	r.state.Store(int32(Reported))
	slog.Info("run finished", "run_id", result.RunID, "status", result.Status, "elapsed", elapsed.Round(time.Millisecond))
	return result, nil
}

// setup resolves everything a run needs before traffic starts; any error
// here is a fatal configuration error.
func (r *Runner) setup(ctx context.Context) error {
	for name, kind := range map[string]metrics.Kind{
		MetricIterations:        metrics.Counter,
		MetricErrors:            metrics.Counter,
		MetricErrorRate:         metrics.Rate,
		MetricIterationDuration: metrics.Trend,
		MetricRequestDuration:   metrics.Trend,
		MetricChecks:            metrics.Rate,
		MetricVUs:               metrics.Gauge,
	} {
		if err := r.reg.Declare(name, kind); err != nil {
			return err
		}
	}

	r.checks = nil
	for _, ch := range r.cfg.Checks {
		c, err := buildCheck(ch)
		if err != nil {
			return err
		}
		r.checks = append(r.checks, c)
		if err := r.reg.Declare(checkMetricPrefix+ch.Name, metrics.Rate); err != nil {
			return err
		}
	}

	if r.cfg.Target.Protocol == "http" && r.cfg.Target.Body == "" {
		r.tmpl = payload.Template{
			ChannelID:   r.cfg.Message.ChannelID,
			ServiceURL:  r.cfg.Message.ServiceURL,
			FromID:      r.cfg.Message.FromID,
			FromName:    r.cfg.Message.FromName,
			RecipientID: r.cfg.Message.RecipientID,
			Text:        r.cfg.Message.Text,
			Locale:      r.cfg.Message.Locale,
		}
		if err := r.tmpl.Validate(); err != nil {
			return err
		}
	}

	if r.cfg.Auth.Enabled {
		r.tokens = token.NewCache(&token.Provider{
			TokenURL:     r.cfg.Auth.TokenURL,
			ClientID:     r.cfg.Auth.ClientID,
			ClientSecret: r.cfg.Auth.ClientSecret,
			Scope:        r.cfg.Auth.Scope,
		}, r.cfg.Auth.RefreshSkew)
		// Fetch eagerly so bad credentials fail the run before traffic.
		if _, err := r.tokens.Bearer(ctx); err != nil {
			return fmt.Errorf("credential provider: %w", err)
		}
	}

	if rl := r.cfg.Load.RateLimit; rl.Enabled {
		burst := rl.Burst
		if burst < 1 {
			burst = int(rl.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		r.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	if r.doer == nil {
		switch r.cfg.Target.Protocol {
		case "websocket":
			r.doer = &client.WSProbe{Timeout: r.cfg.Target.RequestTimeout}
		default:
			r.doer = client.NewHTTP(r.cfg.Target.RequestTimeout, r.peakTarget())
		}
	}

	return nil
}

// execute runs the reconcile/evaluate tick loop until the plan completes,
// a threshold aborts the run, or the context is cancelled, then drains.
func (r *Runner) execute(ctx context.Context, setupData any) {
	// Iterations get their own context so external cancellation stops the
	// loop without killing in-flight requests; they finish and drain.
	iterCtx := context.WithValue(context.Background(), setupDataKey, setupData)
	iterCtx, cancelIter := context.WithCancel(iterCtx)
	defer cancelIter()

	pool := vu.New(r.iteration, func(live int) {
		r.record(metrics.Sample{Metric: MetricVUs, Value: float64(live), Time: time.Now()})
		if r.prom != nil {
			r.prom.ActiveVUs.Set(float64(live))
		}
	})
	r.mu.Lock()
	r.pool = pool
	r.mu.Unlock()

	ticker := time.NewTicker(r.cfg.Load.TickInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for {
		select {
		case <-cancelled:
			cancelled = nil // drain on ticks from here on
			r.abort(StatusAbortedByError)
			slog.Info("run cancelled, draining", "reason", ctx.Err())
		case <-ticker.C:
		}

		if err := r.internalErr.Load(); err != nil {
			r.abort(StatusAbortedByError)
			slog.Error("internal error, aborting run", "error", *err)
		}

		elapsed := r.elapsed()
		draining := r.isDraining()

		if !draining && r.plan.Done(elapsed) {
			r.setDraining()
			draining = true
		}

		target := 0
		if !draining {
			target = r.plan.TargetAt(elapsed)
		}
		pool.Reconcile(iterCtx, target)
		if draining {
			pool.Drain()
		}
		if r.prom != nil {
			r.prom.TargetVUs.Set(float64(target))
		}

		if !draining {
			r.evaluateThresholds()
		}

		if r.isDraining() && pool.Live() == 0 {
			break
		}
	}
	pool.Wait()
}

// evaluateThresholds checks every abort-on-fail threshold against a fresh
// snapshot; the first breach flips the run into Aborting for graceful drain.
func (r *Runner) evaluateThresholds() {
	snap := r.reg.Snapshot()
	for _, out := range threshold.EvaluateAll(r.thresholds, snap) {
		if out.Pass || !out.Spec.AbortOnFail {
			continue
		}
		o := out
		r.breachedSpec.CompareAndSwap(nil, &o)
		r.abort(StatusAbortedBySLA)
		slog.Error("threshold breached, aborting run",
			"metric", out.Spec.Metric,
			"expr", out.Spec.Expr,
			"actual", out.Actual,
		)
		return
	}
}

func (r *Runner) abort(status Status) {
	r.mu.Lock()
	if !r.draining {
		r.draining = true
		r.status = status
		r.state.Store(int32(Aborting))
	}
	r.mu.Unlock()
}

func (r *Runner) setDraining() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}

func (r *Runner) isDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

func (r *Runner) elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		return 0
	}
	return time.Since(r.start)
}

// record feeds the aggregator; a rejected sample is an internal error that
// halts the run rather than silently under-reporting.
func (r *Runner) record(s metrics.Sample) {
	if err := r.reg.Record(s); err != nil {
		r.internalErr.CompareAndSwap(nil, &err)
	}
}

// iteration is the per-VU unit of work: build request, send, check, record,
// pace. Failures are recorded and never propagate to the pool.
func (r *Runner) iteration(ctx context.Context, info vu.Info) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("iteration panicked", "vu", info.ID, "panic", rec)
			r.recordFailure()
		}
		r.record(metrics.Sample{Metric: MetricIterationDuration, Value: msSince(start), Time: time.Now()})
		r.record(metrics.Sample{Metric: MetricIterations, Value: 1, Time: time.Now()})
		if r.prom != nil {
			r.prom.IterationsTotal.Inc()
		}
		r.think(ctx)
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
	}

	req, err := r.buildRequest(ctx, info)
	if err != nil {
		slog.Debug("building request failed", "vu", info.ID, "error", err)
		r.recordFailure()
		return
	}

	resp, err := r.doer.Do(ctx, *req)
	if err != nil {
		slog.Debug("request failed", "vu", info.ID, "iteration", info.Iteration, "error", err)
		r.recordFailure()
		return
	}

	r.record(metrics.Sample{Metric: MetricRequestDuration, Value: float64(resp.Latency) / float64(time.Millisecond), Time: time.Now()})
	if r.prom != nil {
		r.prom.RequestDuration.Observe(resp.Latency.Seconds())
	}

	failed := resp.Status >= 400
	r.record(metrics.Sample{Metric: MetricErrorRate, Value: boolToFloat(failed), Time: time.Now()})
	if failed {
		r.record(metrics.Sample{Metric: MetricErrors, Value: 1, Time: time.Now()})
		if r.prom != nil {
			r.prom.ErrorsTotal.Inc()
		}
	}

	for _, ch := range r.checks {
		ok := ch.Fn(resp)
		now := time.Now()
		r.record(metrics.Sample{Metric: MetricChecks, Value: boolToFloat(ok), Tags: map[string]string{"check": ch.Name}, Time: now})
		r.record(metrics.Sample{Metric: checkMetricPrefix + ch.Name, Value: boolToFloat(ok), Time: now})
		if r.prom != nil {
			result := "pass"
			if !ok {
				result = "fail"
			}
			r.prom.ChecksTotal.WithLabelValues(ch.Name, result).Inc()
		}
	}
}

func (r *Runner) recordFailure() {
	now := time.Now()
	r.record(metrics.Sample{Metric: MetricErrorRate, Value: 1, Time: now})
	r.record(metrics.Sample{Metric: MetricErrors, Value: 1, Time: now})
	if r.prom != nil {
		r.prom.ErrorsTotal.Inc()
	}
}

func (r *Runner) buildRequest(ctx context.Context, info vu.Info) (*client.Request, error) {
	var body []byte
	if r.cfg.Target.Body != "" {
		body = []byte(r.cfg.Target.Body)
	} else if r.cfg.Target.Protocol == "http" {
		b, err := r.tmpl.Build(info.ID, info.Iteration)
		if err != nil {
			return nil, err
		}
		body = b
	} else {
		// WebSocket probe without an explicit body sends a minimal ping.
		body = []byte(fmt.Sprintf(`{"type":"ping","vu":%d,"iteration":%d}`, info.ID, info.Iteration))
	}

	headers := make(map[string]string, len(r.cfg.Target.Headers)+2)
	for k, v := range r.cfg.Target.Headers {
		headers[k] = v
	}
	if _, ok := headers["Content-Type"]; !ok && r.cfg.Target.Protocol == "http" {
		headers["Content-Type"] = "application/json"
	}
	if r.tokens != nil {
		tok, err := r.tokens.Bearer(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching bearer token: %w", err)
		}
		headers["Authorization"] = "Bearer " + tok
	}

	return &client.Request{
		Method:  r.cfg.Target.Method,
		URL:     r.cfg.Target.URL,
		Headers: headers,
		Body:    body,
	}, nil
}

// think pauses between iterations. Cancellation cuts the pause short; the
// iteration itself has already completed.
func (r *Runner) think(ctx context.Context) {
	if r.cfg.Load.ThinkTime <= 0 {
		return
	}
	t := time.NewTimer(r.cfg.Load.ThinkTime)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *Runner) report(elapsed time.Duration) *RunResult {
	snap := r.reg.Snapshot()
	outcomes := threshold.EvaluateAll(r.thresholds, snap)

	r.mu.Lock()
	result := &RunResult{
		RunID:      r.runID,
		Status:     r.status,
		StartedAt:  r.start,
		Elapsed:    elapsed,
		Metrics:    snap,
		Thresholds: outcomes,
		RawSamples: r.reg.RawSamples(),
	}
	r.mu.Unlock()
	return result
}

// Progress is a point-in-time view of the run for the status listener.
type Progress struct {
	RunID      string        `json:"run_id"`
	State      string        `json:"state"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	ActiveVUs  int           `json:"active_vus"`
	Iterations int64         `json:"iterations"`
	Errors     int64         `json:"errors"`
	ErrorRate  float64       `json:"error_rate"`
}

// Progress reports the live run state. Safe to call from any goroutine.
func (r *Runner) Progress() Progress {
	p := Progress{
		State:   r.State().String(),
		Elapsed: r.elapsed(),
	}
	r.mu.Lock()
	p.RunID = r.runID
	pool := r.pool
	r.mu.Unlock()

	if pool != nil {
		p.ActiveVUs = pool.Live()
	}
	snap := r.reg.Snapshot()
	p.Iterations = int64(snap[MetricIterations].Sum)
	p.Errors = int64(snap[MetricErrors].Sum)
	p.ErrorRate = snap[MetricErrorRate].Rate
	return p
}

// Breached returns the threshold outcome that aborted the run, if any.
func (r *Runner) Breached() *threshold.Outcome {
	return r.breachedSpec.Load()
}

func buildCheck(ch config.CheckConfig) (client.Check, error) {
	switch {
	case ch.ExpectStatus != 0:
		return client.StatusCheck(ch.Name, ch.ExpectStatus), nil
	case ch.BodyContains != "":
		return client.BodyContainsCheck(ch.Name, ch.BodyContains), nil
	case ch.MaxDuration > 0:
		return client.MaxLatencyCheck(ch.Name, ch.MaxDuration), nil
	default:
		return client.Check{}, fmt.Errorf("check %q has no criterion", ch.Name)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
