// Package status serves a loopback HTTP endpoint with the live run state
// and Prometheus instruments, so local tooling can watch a run without
// touching the target.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botsurge/botsurge/internal/metrics"
	"github.com/botsurge/botsurge/internal/runner"
)

// Response is the JSON body of the /status endpoint.
type Response struct {
	Status     string  `json:"status"`
	RunID      string  `json:"run_id"`
	Elapsed    string  `json:"elapsed"`
	ActiveVUs  int     `json:"active_vus"`
	Iterations int64   `json:"iterations"`
	Errors     int64   `json:"errors"`
	ErrorRate  float64 `json:"error_rate"`
	MemoryMB   float64 `json:"memory_mb"`
	Timestamp  string  `json:"timestamp"`
}

// Server exposes one in-flight run on a loopback address.
type Server struct {
	runner *runner.Runner
	prom   *metrics.Prom
	srv    *http.Server
	ln     net.Listener
}

// New wires the listener to a runner. prom may be nil; /metrics then
// returns 404.
func New(r *runner.Runner, prom *metrics.Prom) *Server {
	return &Server{runner: r, prom: prom}
}

// Start binds addr and serves in the background. addr must resolve to a
// loopback interface; the listener carries no authentication.
func (s *Server) Start(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("status listen_address %q: %w", addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("status listen_address %q: loopback addresses only", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status listener: %w", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	if s.prom != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.prom.Registry, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("status server failed", "error", err)
		}
	}()
	slog.Info("status listener started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down, waiting briefly for in-flight scrapes.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Warn("status server shutdown", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := s.runner.Progress()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := Response{
		Status:     p.State,
		RunID:      p.RunID,
		Elapsed:    p.Elapsed.Round(time.Millisecond).String(),
		ActiveVUs:  p.ActiveVUs,
		Iterations: p.Iterations,
		Errors:     p.Errors,
		ErrorRate:  p.ErrorRate,
		MemoryMB:   float64(memStats.Alloc) / 1024 / 1024,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
