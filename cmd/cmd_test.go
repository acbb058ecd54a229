// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/config"
	"github.com/Thermoquad/airstation/pkg/publish"
	"github.com/Thermoquad/airstation/pkg/station"
)

// ============================================================
// Test Helpers
// ============================================================

// byteStream serves data and times out (0, nil) once drained
type byteStream struct{ data []byte }

func (s *byteStream) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, nil
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// testCommand binds the connection and config flags the way rootCmd and
// runCmd do, on a fresh command so tests can mark flags as changed
func testCommand(t *testing.T) *cobra.Command {
	t.Helper()

	saved := []interface{}{portName, baudRate, wsURL, wsUsername, configPath, variant, logLevel, logFormat, runOutput}
	t.Cleanup(func() {
		portName = saved[0].(string)
		baudRate = saved[1].(int)
		wsURL = saved[2].(string)
		wsUsername = saved[3].(string)
		configPath = saved[4].(string)
		variant = saved[5].(string)
		logLevel = saved[6].(string)
		logFormat = saved[7].(string)
		runOutput = saved[8].(string)
	})

	cmd := &cobra.Command{Use: "test"}
	flags := cmd.Flags()
	flags.StringVarP(&portName, "port", "p", "", "")
	flags.IntVarP(&baudRate, "baud", "b", 0, "")
	flags.StringVarP(&wsURL, "url", "u", "", "")
	flags.StringVar(&wsUsername, "username", "", "")
	flags.StringVarP(&configPath, "config", "c", "", "")
	flags.StringVar(&variant, "variant", config.VariantStation, "")
	flags.StringVar(&logLevel, "log-level", "", "")
	flags.StringVar(&logFormat, "log-format", "", "")
	flags.StringVarP(&runOutput, "output", "o", "", "")
	return cmd
}

func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	if err := cmd.Flags().Set(name, value); err != nil {
		t.Fatalf("Set(%s): %v", name, err)
	}
}

// ============================================================
// Configuration Tests
// ============================================================

func TestLoadConfig_Defaults(t *testing.T) {
	cmd := testCommand(t)

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Device != "/dev/station" || cfg.Baud != 115200 {
		t.Errorf("defaults not applied: %s @ %d", cfg.Device, cfg.Baud)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seis.yaml")
	body := "variant: seis\ndevice: /dev/ttyUSB1\noutput: /tmp/from-file.json\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd := testCommand(t)
	setFlag(t, cmd, "config", path)
	setFlag(t, cmd, "port", "/dev/ttyUSB9")
	setFlag(t, cmd, "log-level", "debug")

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Device != "/dev/ttyUSB9" {
		t.Errorf("Device = %q, want flag value", cfg.Device)
	}
	if cfg.Output != "/tmp/from-file.json" {
		t.Errorf("Output = %q, want file value", cfg.Output)
	}
	if cfg.Baud != 19200 {
		t.Errorf("Baud = %d, want seis default", cfg.Baud)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_UnchangedFlagKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	if err := os.WriteFile(path, []byte("baud: 57600\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd := testCommand(t)
	setFlag(t, cmd, "config", path)

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Baud != 57600 {
		t.Errorf("Baud = %d, want 57600 from file", cfg.Baud)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cmd := testCommand(t)
	setFlag(t, cmd, "baud", "-1")

	if _, err := loadConfig(cmd); err == nil {
		t.Error("expected validation error")
	}
}

func TestNewLogger(t *testing.T) {
	cfg, _ := config.Defaults(config.VariantStation)

	tests := []struct {
		level, format string
		ok            bool
	}{
		{"info", "text", true},
		{"debug", "json", true},
		{"warn", "logfmt", true},
		{"loud", "text", false},
		{"info", "xml", false},
	}

	for _, tt := range tests {
		cfg.LogLevel, cfg.LogFormat = tt.level, tt.format
		_, err := newLogger(cfg, &bytes.Buffer{})
		if (err == nil) != tt.ok {
			t.Errorf("newLogger(%s, %s) error = %v", tt.level, tt.format, err)
		}
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	cfg, _ := config.Defaults(config.VariantSeis)
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("Connected", "device", "/dev/ttyUSB0")

	out := buf.String()
	if !strings.Contains(out, `"msg":"Connected"`) || !strings.Contains(out, `"device":"/dev/ttyUSB0"`) {
		t.Errorf("unexpected log line: %s", out)
	}
}

// ============================================================
// Emitter Tests
// ============================================================

func TestSimulator_FramesDecode(t *testing.T) {
	sim := newSimulator(airframe.StationLayout, rand.New(rand.NewSource(1)))

	var stream []byte
	for i := 0; i < 20; i++ {
		stream = append(stream, sim.next(7, false)...)
	}

	decoder := airframe.NewDecoder(airframe.StationLayout)
	r := &byteStream{data: stream}
	for i := 0; i < 20; i++ {
		sample, skipped, err := decoder.Next(r)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if skipped != 7 {
			t.Errorf("frame %d: skipped %d, want 7", i, skipped)
		}
		if len(airframe.ValidateSample(sample)) != 0 {
			t.Errorf("frame %d: implausible values %v", i, sample.Values())
		}
	}
}

func TestSimulator_Corrupt(t *testing.T) {
	sim := newSimulator(airframe.SeisLayout, rand.New(rand.NewSource(2)))

	_, err := airframe.NewDecoder(airframe.SeisLayout).DecodeFrame(sim.next(0, true)[1:])
	if !errors.Is(err, airframe.ErrChecksum) {
		t.Errorf("corrupt frame decoded: %v", err)
	}
}

// ============================================================
// Monitor Tests
// ============================================================

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{75 * time.Second, "1 minute and 15 seconds"},
		{26*time.Hour + 2*time.Minute + 3*time.Second, "1 day, 2 hours, 2 minutes, and 3 seconds"},
		{2 * time.Hour, "2 hours"},
	}

	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestMonitorModel_ApplyEvents(t *testing.T) {
	m := initialMonitorModel("Serial: /dev/station @ 115200 baud", "/tmp/data.json", airframe.SeisLayout)
	at := time.Date(2025, 3, 9, 7, 5, 3, 0, time.UTC)

	sample, err := airframe.NewSample(airframe.SeisLayout, []float32{21.5, 48.25, 1013.2}, at)
	if err != nil {
		t.Fatalf("NewSample: %v", err)
	}
	record := publish.NewRecord(sample, nil, at)

	m.applyEvent(station.Event{Kind: station.EventStateChange, At: at, State: station.StateOpen})
	m.applyEvent(station.Event{Kind: station.EventSample, At: at, State: station.StateOpen, Sample: sample, Record: &record})
	m.applyEvent(station.Event{Kind: station.EventChecksumFailure, At: at, State: station.StateOpen, Err: airframe.ErrChecksum})
	m.applyEvent(station.Event{Kind: station.EventReconnect, At: at, State: station.StateDisconnected})

	if m.reconnects != 1 || m.state != station.StateDisconnected {
		t.Errorf("reconnects %d state %s", m.reconnects, m.state)
	}
	if m.record == nil || m.latest != sample {
		t.Error("latest sample not tracked")
	}
	if len(m.eventLog) != 2 || !m.eventLog[1].isError {
		t.Errorf("event log = %+v", m.eventLog)
	}

	view := m.View()
	if !strings.Contains(view, "SEIS MONITOR") || !strings.Contains(view, "1013.20") {
		t.Errorf("view missing title or reading:\n%s", view)
	}
}

func TestMonitorModel_LogBounded(t *testing.T) {
	m := initialMonitorModel("", "", airframe.StationLayout)
	for i := 0; i < 250; i++ {
		m.addLogEntry(time.Now(), "entry", false)
	}
	if len(m.eventLog) != m.maxLogEntries {
		t.Errorf("log length %d, want %d", len(m.eventLog), m.maxLogEntries)
	}
}
