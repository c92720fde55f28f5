package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pageexplorer/internal/config"
	"pageexplorer/internal/driver"
	"pageexplorer/internal/driver/cdpdriver"
	"pageexplorer/internal/driver/rodriver"
	"pageexplorer/internal/explorer"
	"pageexplorer/internal/instruction"
	"pageexplorer/internal/observability"
)

// errExploreFailed makes the process exit non-zero without repeating the
// details already logged.
var errExploreFailed = errors.New("exploration failed")

var exploreCmd = &cobra.Command{
	Use:   "explore [url]",
	Short: "Attach to a running browser and run an instruction sequence",
	Long: `Attaches to the browser listening on --host:--port, navigates to the
URL (if given), runs the instruction sequence and finally asks the page
to close, waiting up to --close-wait for the browser to go away.

The default sequence is used unless --instructions names a YAML file.

Example:
  pageexplorer explore --port 9222 http://localhost:8000/testcase.html`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExplore,
}

func init() {
	registerExploreFlags(exploreCmd)
}

func registerExploreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", "", "Driver backend: rod or chromedp")
	f.String("binary", "", "Path of the running browser binary (informational)")
	f.String("host", "", "DevTools host")
	f.Int("port", 0, "DevTools port")
	f.String("instructions", "", "YAML instruction sequence file")
	f.Duration("close-wait", 0, "How long to wait for the browser to exit after window.close()")
	f.Duration("close-poll", 0, "Liveness poll interval while waiting for exit")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.Bool("trace", false, "Write trace spans to stderr")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, c *config.Config, args []string) {
	f := cmd.Flags()
	if f.Changed("backend") {
		c.Browser.Backend, _ = f.GetString("backend")
	}
	if f.Changed("binary") {
		c.Browser.Binary, _ = f.GetString("binary")
	}
	if f.Changed("host") {
		c.Browser.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		c.Browser.Port, _ = f.GetInt("port")
	}
	if f.Changed("instructions") {
		c.Explore.InstructionsFile, _ = f.GetString("instructions")
	}
	if f.Changed("close-wait") {
		d, _ := f.GetDuration("close-wait")
		c.Explore.CloseWait = d.String()
	}
	if f.Changed("close-poll") {
		d, _ := f.GetDuration("close-poll")
		c.Explore.ClosePoll = d.String()
	}
	if f.Changed("metrics-addr") {
		c.Observability.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("trace") {
		c.Observability.Tracing, _ = f.GetBool("trace")
	}
	if len(args) > 0 {
		c.Explore.URL = args[0]
	}
}

func dialerFor(backend string) (driver.Dialer, error) {
	switch backend {
	case config.BackendRod:
		return rodriver.Dial, nil
	case config.BackendChromedp:
		return cdpdriver.Dial, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func loadSequence(path string) (instruction.Sequence, error) {
	if path == "" {
		return instruction.Default(), nil
	}
	return instruction.LoadFile(path)
}

func runExplore(cmd *cobra.Command, args []string) error {
	applyFlags(cmd, cfg, args)
	if err := cfg.Validate(); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dial, err := dialerFor(cfg.Browser.Backend)
	if err != nil {
		return err
	}
	seq, err := loadSequence(cfg.Explore.InstructionsFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv := serveMetrics(addr, reg)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if cfg.Observability.Tracing {
		tp, err := observability.NewTracerProvider("pageexplorer", os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = tp.Shutdown(sctx)
		}()
	}

	logger.Info("Attaching to browser",
		zap.String("backend", cfg.Browser.Backend),
		zap.String("addr", cfg.DriverOptions().ControlAddr()),
		zap.Int("instructions", len(seq)),
	)

	ecfg := explorer.Config{
		Dialer:  dial,
		Options: cfg.DriverOptions(),
		Backend: cfg.Browser.Backend,
		Metrics: metrics,
	}
	return explorer.Run(ctx, ecfg, func(e *explorer.Explorer) error {
		return explore(ctx, e, seq)
	})
}

func explore(ctx context.Context, e *explorer.Explorer, seq instruction.Sequence) error {
	if url := cfg.Explore.URL; url != "" {
		if !e.Navigate(ctx, url) {
			logger.Warn("Navigation failed", zap.String("url", url))
			return errExploreFailed
		}
		logger.Info("Page loaded", zap.String("url", url))
	}

	report := e.Explore(ctx, seq)
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.Int("completed", report.Completed),
		zap.Int("total", report.Total),
		zap.Duration("elapsed", report.Elapsed),
	}
	if !report.Success {
		logger.Warn("Exploration stopped early", append(fields, zap.Error(report.Err))...)
		return errExploreFailed
	}
	logger.Info("Exploration complete", fields...)

	e.CloseBrowser(ctx, cfg.GetCloseWait(), cfg.GetClosePoll())
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))
	return srv
}
