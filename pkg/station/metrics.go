// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "airstation"

// Metrics holds the pipeline's Prometheus collectors
type Metrics struct {
	FramesDecoded    prometheus.Counter
	ChecksumFailures prometheus.Counter
	IncompleteFrames prometheus.Counter
	SkippedBytes     prometheus.Counter
	Reconnects       prometheus.Counter
	OpenFailures     prometheus.Counter
	PublishFailures  prometheus.Counter
	StaleTimeouts    prometheus.Counter

	ConnectionState prometheus.Gauge
	LastSample      prometheus.Gauge
	Channel         *prometheus.GaugeVec
	Average         *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		FramesDecoded:    counter("frames_decoded_total", "Frames that passed checksum verification."),
		ChecksumFailures: counter("checksum_failures_total", "Frames discarded on checksum mismatch."),
		IncompleteFrames: counter("incomplete_frames_total", "Frames abandoned on a short read."),
		SkippedBytes:     counter("skipped_bytes_total", "Bytes discarded while scanning for the sync byte."),
		Reconnects:       counter("reconnects_total", "Transport teardowns followed by a reconnect cycle."),
		OpenFailures:     counter("open_failures_total", "Failed attempts to open the transport."),
		PublishFailures:  counter("publish_failures_total", "Records that could not be published."),
		StaleTimeouts:    counter("stale_timeouts_total", "Reconnects forced by the staleness watchdog."),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 open).",
		}),
		LastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Unix time of the last decoded sample.",
		}),
		Channel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "channel_value",
			Help:      "Latest decoded value per channel.",
		}, []string{"channel"}),
		Average: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rolling_average",
			Help:      "Current rolling average per derived key.",
		}, []string{"key"}),
	}

	reg.MustRegister(
		m.FramesDecoded,
		m.ChecksumFailures,
		m.IncompleteFrames,
		m.SkippedBytes,
		m.Reconnects,
		m.OpenFailures,
		m.PublishFailures,
		m.StaleTimeouts,
		m.ConnectionState,
		m.LastSample,
		m.Channel,
		m.Average,
	)

	return m
}

// MetricsHandler serves /metrics from g and a plain /health probe
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
