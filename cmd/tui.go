// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/config"
	"github.com/Thermoquad/airstation/pkg/publish"
	"github.com/Thermoquad/airstation/pkg/station"
	"github.com/Thermoquad/airstation/pkg/transport"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// TUI model
type monitorModel struct {
	connInfo      string
	output        string
	layout        *airframe.Layout
	spinner       spinner.Model
	state         station.ConnectionState
	stats         airframe.Statistics
	latest        *airframe.Sample
	record        *publish.Record
	reconnects    int
	publishErrors int
	started       time.Time
	lastSample    time.Time
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type pipelineEventMsg station.Event

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialMonitorModel(connInfo, output string, layout *airframe.Layout) monitorModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("11"))),
	)
	now := time.Now()
	return monitorModel{
		connInfo:      connInfo,
		output:        output,
		layout:        layout,
		spinner:       s,
		state:         station.StateDisconnected,
		started:       now,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pipelineEventMsg:
		m.applyEvent(station.Event(msg))
	}

	return m, nil
}

func (m *monitorModel) applyEvent(e station.Event) {
	m.state = e.State
	m.stats = e.Stats

	switch e.Kind {
	case station.EventStateChange:
		m.addLogEntry(e.At, fmt.Sprintf("State: %s", e.State), false)
	case station.EventSample:
		m.latest = e.Sample
		m.record = e.Record
		m.lastSample = e.At
	case station.EventChecksumFailure:
		m.addLogEntry(e.At, fmt.Sprintf("CHECKSUM: %v", e.Err), true)
	case station.EventIncompleteFrame:
		m.addLogEntry(e.At, fmt.Sprintf("INCOMPLETE: %v", e.Err), true)
	case station.EventPublishFailure:
		m.publishErrors++
		m.addLogEntry(e.At, fmt.Sprintf("PUBLISH: %v", e.Err), true)
	case station.EventOpenFailure:
		if errors.Is(e.Err, transport.ErrDeviceAbsent) {
			m.addLogEntry(e.At, "Waiting for device", false)
		} else {
			m.addLogEntry(e.At, fmt.Sprintf("OPEN: %v", e.Err), true)
		}
	case station.EventTransportError:
		m.addLogEntry(e.At, fmt.Sprintf("TRANSPORT: %v", e.Err), true)
	case station.EventStale:
		m.addLogEntry(e.At, fmt.Sprintf("STALE: %v", e.Err), true)
	case station.EventReconnect:
		m.reconnects++
	}
}

func (m *monitorModel) addLogEntry(at time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("AIRSTATION - %s MONITOR", strings.ToUpper(m.layout.Name))))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Output: %s | Press 'q' to quit", m.connInfo, m.output)))
	s.WriteString("\n\n")

	// Connection status
	if m.state == station.StateOpen {
		s.WriteString(valueStyle.Render("✓ Open"))
		if !m.lastSample.IsZero() {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (last sample %s ago)", formatElapsed(time.Since(m.lastSample)))))
		}
	} else {
		s.WriteString(m.spinner.View())
		s.WriteString(warningStyle.Render(m.state.String() + "..."))
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("   up %s", formatElapsed(time.Since(m.started)))))
	s.WriteString("\n\n")

	// Statistics
	stats := m.stats
	stats.CalculateRates()
	var validPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
	}

	count := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(fmt.Sprintf("%d", n))
		}
		return valueStyle.Render("0")
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", stats.ValidFrames, validPercent)),
		labelStyle.Render("Skipped:"), valueStyle.Render(fmt.Sprintf("%d bytes", stats.SkippedBytes)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Checksum:"), count(stats.ChecksumErrors),
		labelStyle.Render("Incomplete:"), count(stats.IncompleteFrames),
		labelStyle.Render("Publish:"), count(uint64(m.publishErrors)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.2f frames/s", stats.FrameRate)),
		labelStyle.Render("Reconnects:"), count(uint64(m.reconnects)),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest reading
	if m.record != nil {
		s.WriteString(labelStyle.Render(fmt.Sprintf("Latest Reading (%s):", m.record.Timestamp())))
		s.WriteString("\n")

		readingContent := strings.Builder{}
		for i, f := range m.record.Fields() {
			name := f.Key
			if i < len(m.layout.Channels) {
				name = m.layout.Channels[i].Name
			}
			readingContent.WriteString(fmt.Sprintf("%s %s\n",
				labelStyle.Render(fmt.Sprintf("%-12s", name+":")),
				valueStyle.Render(fmt.Sprintf("%.2f", f.Value)),
			))
		}
		for _, anomaly := range airframe.ValidateSample(m.latest) {
			readingContent.WriteString(warningStyle.Render("⚠ " + anomaly.Message))
			readingContent.WriteString("\n")
		}

		s.WriteString(boxStyle.Render(strings.TrimSuffix(readingContent.String(), "\n")))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 20 - len(m.layout.Channels)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

// runMonitor runs the pipeline behind the interactive monitor.
// Quitting the monitor stops the pipeline.
func runMonitor(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, connInfo string,
	publisher *publish.FilePublisher, opener transport.Opener, opts []station.PipelineOption) error {
	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	p := tea.NewProgram(initialMonitorModel(connInfo, publisher.Path(), layout), tea.WithContext(ctx))

	opts = append(opts, station.WithObserver(func(e station.Event) {
		p.Send(pipelineEventMsg(e))
	}))
	pipeline := station.NewPipeline(layout, opener, publisher, cfg.Options(), opts...)

	done := make(chan error, 1)
	go func() {
		done <- pipeline.Run(ctx)
	}()

	_, tuiErr := p.Run()
	interrupted := ctx.Err() != nil
	cancel()
	runErr := <-done

	if tuiErr != nil && !interrupted {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
