package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/botsurge/botsurge/internal/config"
	"github.com/botsurge/botsurge/internal/logging"
	"github.com/botsurge/botsurge/internal/metrics"
	"github.com/botsurge/botsurge/internal/report"
	"github.com/botsurge/botsurge/internal/runner"
	"github.com/botsurge/botsurge/internal/status"
	"github.com/botsurge/botsurge/internal/token"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errRunFailed marks a run that executed but did not pass; main maps it to
// exit code 2 so scripts can tell "bad config" from "bad SLA".
var errRunFailed = errors.New("run failed")

func main() {
	rootCmd := &cobra.Command{
		Use:           "botsurge",
		Short:         "Load generator for chat-bot messaging endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string
	var verbose bool
	var vus int
	var duration time.Duration

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a load-test scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(configPath, verbose, vus, duration)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "botsurge.yaml", "Path to scenario file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().IntVar(&vus, "vus", 0, "Override flat VU count")
	runCmd.Flags().DurationVar(&duration, "duration", 0, "Override flat run duration")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("scenario validation failed: %w", err)
			}
			fmt.Printf("Scenario is valid.\n")
			fmt.Printf("  Target: %s %s (%s)\n", cfg.Target.Method, cfg.Target.URL, cfg.Target.Protocol)
			fmt.Printf("  Load: %s\n", describeLoad(cfg))
			fmt.Printf("  Checks: %d, thresholds: %d\n", len(cfg.Checks), len(cfg.Thresholds))
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "botsurge.yaml", "Path to scenario file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("botsurge %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	var initPath string
	var initForce bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented starter scenario file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !initForce {
				if _, err := os.Stat(initPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
				}
			}
			if err := os.WriteFile(initPath, []byte(config.Example), 0o644); err != nil {
				return fmt.Errorf("writing starter scenario: %w", err)
			}
			fmt.Printf("Wrote %s. Edit the target URL, then run 'botsurge run -c %s'.\n", initPath, initPath)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initPath, "path", "botsurge.yaml", "Where to write the scenario file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch a bearer token with the scenario's credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled {
				return fmt.Errorf("auth is not enabled in %s", configPath)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			tok, err := (&token.Provider{
				TokenURL:     cfg.Auth.TokenURL,
				ClientID:     cfg.Auth.ClientID,
				ClientSecret: cfg.Auth.ClientSecret,
				Scope:        cfg.Auth.Scope,
			}).Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetching token: %w", err)
			}
			fmt.Printf("Token: %s\n", maskToken(tok.Value))
			fmt.Printf("Expires: %s (in %s)\n", tok.ExpiresAt.Format(time.RFC3339), time.Until(tok.ExpiresAt).Round(time.Second))
			return nil
		},
	}
	tokenCmd.Flags().StringVarP(&configPath, "config", "c", "botsurge.yaml", "Path to scenario file")

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd, initCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRunFailed) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runScenario(configPath string, verbose bool, vus int, duration time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}

	// Flag overrides flatten the load shape, so re-validate.
	if vus > 0 || duration > 0 {
		if vus > 0 {
			cfg.Load.VUs = vus
		}
		if duration > 0 {
			cfg.Load.Duration = duration
		}
		cfg.Load.Stages = nil
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating scenario: %w", err)
		}
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	lj := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting botsurge",
		"version", Version,
		"target", cfg.Target.URL,
		"load", describeLoad(cfg),
	)

	var opts []runner.Option
	var prom *metrics.Prom
	if cfg.Status.Enabled {
		prom = metrics.NewProm()
		opts = append(opts, runner.WithProm(prom))
	}

	r, err := runner.New(cfg, opts...)
	if err != nil {
		return err
	}

	if cfg.Status.Enabled {
		srv := status.New(r, prom)
		if err := srv.Start(cfg.Status.ListenAddress); err != nil {
			return err
		}
		defer srv.Stop()
	}

	// First signal drains gracefully, a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if err := report.WriteText(os.Stdout, result); err != nil {
		return err
	}
	if cfg.Report.JSONFile != "" {
		if err := report.WriteJSON(cfg.Report.JSONFile, result); err != nil {
			return err
		}
		slog.Info("wrote JSON report", "path", cfg.Report.JSONFile)
	}

	if !result.Passed() {
		return fmt.Errorf("%w: status=%s", errRunFailed, result.Status)
	}
	return nil
}

func describeLoad(cfg *config.Scenario) string {
	if len(cfg.Load.Stages) == 0 {
		return fmt.Sprintf("%d VUs for %s", cfg.Load.VUs, cfg.Load.Duration)
	}
	parts := make([]string, len(cfg.Load.Stages))
	for i, s := range cfg.Load.Stages {
		parts[i] = fmt.Sprintf("%s->%d", s.Duration, s.Target)
	}
	return strings.Join(parts, ", ")
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "********"
	}
	return tok[:4] + strings.Repeat("*", 8) + tok[len(tok)-4:]
}
