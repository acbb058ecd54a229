// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/publish"
	"github.com/Thermoquad/airstation/pkg/transport"
)

// ErrStale is reported when the watchdog forces a reconnect
var ErrStale = errors.New("no valid frame within staleness threshold")

// Publisher receives every decoded record
type Publisher interface {
	Publish(publish.Record) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(publish.Record) error

func (f PublisherFunc) Publish(r publish.Record) error {
	return f(r)
}

// Options tunes the pipeline's timing
type Options struct {
	StaleAfter     time.Duration // Zero disables the watchdog
	ReconnectDelay time.Duration
	Settle         time.Duration // Wait after open before flushing buffers
	IdlePoll       time.Duration // Sleep after a read round without a sample
	PublishHold    time.Duration // Sleep after each published sample
}

// DefaultOptions returns the station timing
func DefaultOptions() Options {
	return Options{
		StaleAfter:     180 * time.Second,
		ReconnectDelay: 2 * time.Second,
		Settle:         2 * time.Second,
		IdlePoll:       100 * time.Millisecond,
		PublishHold:    100 * time.Millisecond,
	}
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithLogger sets the logger, which defaults to discarding output
func WithLogger(logger *log.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.log = logger
	}
}

// WithClock replaces the wall clock
func WithClock(c Clock) PipelineOption {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithObserver registers a function called for every pipeline event
func WithObserver(fn func(Event)) PipelineOption {
	return func(p *Pipeline) {
		p.observers = append(p.observers, fn)
	}
}

// WithDecoderOptions passes options through to the frame decoder
func WithDecoderOptions(opts ...airframe.DecoderOption) PipelineOption {
	return func(p *Pipeline) {
		p.decoderOpts = append(p.decoderOpts, opts...)
	}
}

// Pipeline acquires samples from a transport and publishes them, reconnecting
// for as long as its context lives.
type Pipeline struct {
	layout    *airframe.Layout
	open      transport.Opener
	publisher Publisher
	opts      Options

	clock       Clock
	log         *log.Logger
	metrics     *Metrics
	observers   []func(Event)
	decoderOpts []airframe.DecoderOption

	decoder  *airframe.Decoder
	window   *RollingWindow
	watchdog *Watchdog
	stats    *airframe.Statistics
	conn     transport.Transport

	mu         sync.Mutex
	state      ConnectionState
	reconnects int
}

// NewPipeline creates a pipeline for layout
func NewPipeline(layout *airframe.Layout, opener transport.Opener, publisher Publisher, opts Options, options ...PipelineOption) *Pipeline {
	p := &Pipeline{
		layout:    layout,
		open:      opener,
		publisher: publisher,
		opts:      opts,
		clock:     SystemClock{},
		log:       log.New(io.Discard),
		state:     StateDisconnected,
		stats:     airframe.NewStatistics(),
	}

	for _, opt := range options {
		opt(p)
	}

	if p.metrics == nil {
		p.metrics = NewMetrics(prometheus.NewRegistry())
	}

	p.decoderOpts = append([]airframe.DecoderOption{airframe.WithTimeSource(p.clock.Now)}, p.decoderOpts...)
	p.decoder = airframe.NewDecoder(layout, p.decoderOpts...)
	p.watchdog = NewWatchdog(p.clock.Now())
	if layout.Average != nil {
		p.window = NewRollingWindow(layout.Average.Window)
	}

	return p
}

// State returns the current connection state
func (p *Pipeline) State() ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reconnects returns how many times an open transport was torn down
func (p *Pipeline) Reconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

// Window returns the rolling window, or nil when the layout has no average.
// It is owned by the acquisition goroutine; read it only after Run returns.
func (p *Pipeline) Window() *RollingWindow {
	return p.window
}

// Statistics returns the decoder statistics.
// Like Window, read it only after Run returns.
func (p *Pipeline) Statistics() *airframe.Statistics {
	return p.stats
}

// Run drives the connection state machine until ctx is done.
// It returns ctx.Err(); transport and decode failures never end it.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.shutdown()

	p.log.Info("Starting acquisition", "layout", p.layout.Name, "stale_after", p.opts.StaleAfter)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch p.State() {
		case StateDisconnected:
			p.closeTransport()
			p.setState(StateConnecting)

		case StateConnecting:
			if err := p.connect(ctx); err != nil {
				return err
			}

		case StateOpen:
			reason := p.acquire(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.teardown(reason)
			if err := p.clock.Sleep(ctx, p.opts.ReconnectDelay); err != nil {
				return err
			}
		}
	}
}

// connect opens the transport, retrying with a fixed delay until it succeeds
// or ctx is done. A nil return means the state is Open.
func (p *Pipeline) connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		conn, err := p.open(ctx)
		if err == nil {
			return p.settle(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.metrics.OpenFailures.Inc()
		if errors.Is(err, transport.ErrDeviceAbsent) {
			p.log.Warn("Device not present, waiting", "attempt", attempt, "err", err)
		} else {
			p.log.Error("Failed to open transport", "attempt", attempt, "err", err)
		}
		p.emit(Event{Kind: EventOpenFailure, Err: err})

		if err := p.clock.Sleep(ctx, p.opts.ReconnectDelay); err != nil {
			return err
		}
	}
}

// settle gives a fresh link time to stabilize, then flushes whatever the
// device sent while it was coming up.
func (p *Pipeline) settle(ctx context.Context, conn transport.Transport) error {
	p.conn = conn

	if err := p.clock.Sleep(ctx, p.opts.Settle); err != nil {
		return err
	}
	if err := conn.ResetBuffers(); err != nil {
		p.log.Warn("Failed to reset buffers", "transport", conn.String(), "err", err)
	}

	// Grace period starts now, not at the last sample of the previous link
	p.watchdog.Touch(p.clock.Now())
	p.setState(StateOpen)
	p.log.Info("Connected", "transport", conn.String())

	return nil
}

// acquire reads samples until the link fails or goes stale.
// Returns the reason the link should be torn down.
func (p *Pipeline) acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sample, skipped, err := p.decoder.Next(p.conn)
		p.stats.Update(err, skipped)
		if skipped > 0 {
			p.metrics.SkippedBytes.Add(float64(skipped))
		}

		if err == nil {
			p.handleSample(sample)
			if err := p.clock.Sleep(ctx, p.opts.PublishHold); err != nil {
				return err
			}
			continue
		}

		if !airframe.IsRecoverable(err) {
			return err
		}
		p.handleMiss(err)

		now := p.clock.Now()
		if p.watchdog.IsStale(now, p.opts.StaleAfter) {
			return fmt.Errorf("%w: last sample %s ago", ErrStale, p.watchdog.Since(now).Round(time.Second))
		}

		if err := p.clock.Sleep(ctx, p.opts.IdlePoll); err != nil {
			return err
		}
	}
}

func (p *Pipeline) handleSample(sample *airframe.Sample) {
	now := p.clock.Now()
	p.watchdog.Touch(now)
	p.metrics.FramesDecoded.Inc()
	p.metrics.LastSample.Set(float64(now.Unix()))

	values := sample.Values()
	for i, ch := range p.layout.Channels {
		p.metrics.Channel.WithLabelValues(ch.Key).Set(float64(values[i]))
	}

	for _, anomaly := range airframe.ValidateSample(sample) {
		p.log.Debug("Implausible value", "channel", anomaly.Channel, "value", anomaly.Value, "reason", anomaly.Message)
	}

	var derived []publish.Field
	if p.window != nil {
		v, _ := sample.Value(p.layout.Average.Channel)
		p.window.Push(float64(v))
		avg := p.window.Average()
		derived = append(derived, publish.Field{Key: p.layout.Average.Key, Value: avg})
		p.metrics.Average.WithLabelValues(p.layout.Average.Key).Set(avg)
	}

	record := publish.NewRecord(sample, derived, now)
	if err := p.publisher.Publish(record); err != nil {
		p.metrics.PublishFailures.Inc()
		p.log.Error("Failed to publish record", "err", err)
		p.emit(Event{Kind: EventPublishFailure, Sample: sample, Record: &record, Err: err})
	}

	p.emit(Event{Kind: EventSample, Sample: sample, Record: &record})
}

func (p *Pipeline) handleMiss(err error) {
	switch {
	case errors.Is(err, airframe.ErrChecksum):
		p.metrics.ChecksumFailures.Inc()
		p.log.Warn("Checksum mismatch, frame discarded", "err", err)
		p.emit(Event{Kind: EventChecksumFailure, Err: err})
	case errors.Is(err, airframe.ErrIncompleteFrame):
		p.metrics.IncompleteFrames.Inc()
		p.log.Warn("Incomplete frame discarded", "err", err)
		p.emit(Event{Kind: EventIncompleteFrame, Err: err})
	case errors.Is(err, airframe.ErrNoSync):
		p.log.Debug("No sync byte within scan limit")
	}
}

// teardown closes the link after a transport error or stale verdict
func (p *Pipeline) teardown(reason error) {
	if errors.Is(reason, ErrStale) {
		p.metrics.StaleTimeouts.Inc()
		p.log.Warn("Link stale, reconnecting", "err", reason)
		p.emit(Event{Kind: EventStale, Err: reason})
	} else {
		p.log.Error("Transport error, reconnecting", "err", reason)
		p.emit(Event{Kind: EventTransportError, Err: reason})
	}

	p.closeTransport()
	p.setState(StateDisconnected)

	p.mu.Lock()
	p.reconnects++
	p.mu.Unlock()
	p.metrics.Reconnects.Inc()
	p.emit(Event{Kind: EventReconnect, Err: reason})
}

func (p *Pipeline) shutdown() {
	p.closeTransport()
	if p.State() != StateDisconnected {
		p.setState(StateDisconnected)
	}
	p.log.Info("Acquisition stopped")
}

func (p *Pipeline) closeTransport() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.log.Debug("Close failed", "transport", p.conn.String(), "err", err)
	}
	p.conn = nil
}

func (p *Pipeline) setState(next ConnectionState) {
	p.mu.Lock()
	prev := p.state
	if !prev.CanTransition(next) {
		p.mu.Unlock()
		p.log.Warn("Invalid state transition", "from", prev, "to", next)
		return
	}
	p.state = next
	p.mu.Unlock()

	p.metrics.ConnectionState.Set(float64(next))
	p.log.Debug("State change", "from", prev, "to", next)
	p.emit(Event{Kind: EventStateChange})
}

func (p *Pipeline) emit(e Event) {
	if len(p.observers) == 0 {
		return
	}
	e.At = p.clock.Now()
	e.State = p.State()
	e.Stats = *p.stats
	for _, fn := range p.observers {
		fn(e)
	}
}
