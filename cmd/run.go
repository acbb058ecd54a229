// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/config"
	"github.com/Thermoquad/airstation/pkg/publish"
	"github.com/Thermoquad/airstation/pkg/station"
)

var (
	runTUI         bool
	runOutput      string
	runFormat      string
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Acquire frames and publish the latest reading",
	Long: `Continuously acquire frames from the station and publish each reading.

Every valid frame replaces the output file atomically, so the web page never
reads a partial record. The link is reopened whenever the device disappears,
errors, or goes silent for longer than the staleness threshold. The command
runs until interrupted.

Use --tui for an interactive monitor instead of log output.`,
	RunE: runAcquire,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the interactive monitor")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Published record path (default from variant)")
	runCmd.Flags().StringVar(&runFormat, "format", "", "Record format (json or cbor)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logOut := io.Writer(os.Stderr)
	if runTUI {
		logOut = io.Discard
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}

	opener, connInfo, err := NewOpener(cfg)
	if err != nil {
		return err
	}

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := station.NewMetrics(reg)

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer shutdown()
	}

	opts := []station.PipelineOption{
		station.WithLogger(logger),
		station.WithMetrics(metrics),
	}

	logger.Info("Publishing readings", "connection", connInfo, "output", publisher.Path(), "format", cfg.Format)

	if runTUI {
		return runMonitor(ctx, stop, cfg, connInfo, publisher, opener, opts)
	}

	pipeline := station.NewPipeline(layout, opener, publisher, cfg.Options(), opts...)
	err = pipeline.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down", "reconnects", pipeline.Reconnects())
		fmt.Fprint(os.Stderr, pipeline.Statistics().String())
		return nil
	}
	return err
}

func newPublisher(cfg *config.Config) (*publish.FilePublisher, error) {
	codec, err := publish.CodecByName(cfg.Format)
	if err != nil {
		return nil, err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	return publish.NewFilePublisher(cfg.Output, publish.WithCodec(codec), publish.WithMode(mode)), nil
}

// serveMetrics starts the metrics endpoint and returns a function that stops it
func serveMetrics(addr string, g prometheus.Gatherer, logger *log.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           station.MetricsHandler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
