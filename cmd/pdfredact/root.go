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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wudi/pdfredact/config"
	"github.com/wudi/pdfredact/observability"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
)

var (
	cfg  *config.Config
	zlog *zap.Logger
)

var (
	logger  observability.Logger  = observability.NopLogger{}
	metrics observability.Metrics = observability.NopMetrics{}
)

var rootCmd = &cobra.Command{
	Use:   "pdfredact",
	Short: "Reversible PDF redaction",
	Long: `pdfredact covers sensitive text in PDF documents with opaque overlays and keeps
pixel snapshots of what was covered, so a manifest holder can restore it later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		zlog, err = observability.NewZap(observability.LogConfig{
			Environment: cfg.Log.Environment,
			Level:       cfg.Log.Level,
			ServiceName: "pdfredact",
		})
		if err != nil {
			return err
		}
		logger = observability.NewZapLogger(zlog)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			_ = zlog.Sync()
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics registers Prometheus collectors and serves them on addr until
// ctx ends. An empty addr leaves metrics disabled.
func serveMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	m, err := observability.NewPrometheusMetrics(reg)
	if err != nil {
		return err
	}
	metrics = m
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", observability.Error("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	logger.Info("serving metrics", observability.String("addr", addr))
	return nil
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
