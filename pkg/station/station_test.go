// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/publish"
	"github.com/Thermoquad/airstation/pkg/transport"
)

// ============================================================
// Test Helpers
// ============================================================

var epoch = time.Date(2025, 3, 9, 7, 5, 3, 0, time.UTC)

// fakeClock advances only when the pipeline sleeps
type fakeClock struct {
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		c.onSleep(len(c.sleeps))
	}
	return ctx.Err()
}

// fakeTransport serves pending bytes (dropped by ResetBuffers), then data,
// then repeat indefinitely. Reads past the end time out.
type fakeTransport struct {
	pending []byte
	data    []byte
	repeat  []byte
	failOn  int // read call that fails, 0 = never

	reads  int
	resets int
	closed bool
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if f.closed {
		return 0, transport.ErrTransportClosed
	}
	f.reads++
	if f.failOn > 0 && f.reads == f.failOn {
		return 0, errors.New("read /dev/ttyUSB0: input/output error")
	}
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		return n, nil
	}
	if len(f.data) == 0 && f.repeat != nil {
		f.data = append(f.data, f.repeat...)
	}
	if len(f.data) == 0 {
		return 0, nil
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *fakeTransport) ResetBuffers() error {
	f.resets++
	f.pending = nil
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func (f *fakeTransport) String() string { return "fake" }

// openerOf hands out transports in order, failing with ErrDeviceAbsent
// for nil entries and once the list is exhausted
func openerOf(transports ...*fakeTransport) (transport.Opener, *int) {
	calls := 0
	return func(ctx context.Context) (transport.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		calls++
		if calls > len(transports) || transports[calls-1] == nil {
			return nil, transport.ErrDeviceAbsent
		}
		return transports[calls-1], nil
	}, &calls
}

// recorder collects published records
type recorder struct {
	records []publish.Record
	err     error
}

func (r *recorder) Publish(rec publish.Record) error {
	r.records = append(r.records, rec)
	return r.err
}

func stationFrame(t *testing.T, usv float32) []byte {
	t.Helper()
	values := []float32{18.75, 62.5, 1008.4, usv, 3.1, 5.6, 7.25, 9.8}
	frame, err := airframe.EncodeFrame(airframe.StationLayout, values)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return frame
}

func testOptions() Options {
	return Options{
		StaleAfter:     180 * time.Second,
		ReconnectDelay: 3 * time.Second,
		Settle:         2 * time.Second,
		IdlePoll:       100 * time.Millisecond,
		PublishHold:    100 * time.Millisecond,
	}
}

type harness struct {
	pipeline *Pipeline
	clock    *fakeClock
	metrics  *Metrics
	events   []Event
	cancel   context.CancelFunc
	ctx      context.Context
}

// newHarness builds a pipeline whose observer records every event and
// calls stop, which may cancel the run
func newHarness(layout *airframe.Layout, opener transport.Opener, pub Publisher, opts Options, stop func(h *harness, e Event)) *harness {
	h := &harness{clock: newFakeClock(), metrics: NewMetrics(prometheus.NewRegistry())}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.pipeline = NewPipeline(layout, opener, pub, opts,
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithObserver(func(e Event) {
			h.events = append(h.events, e)
			if stop != nil {
				stop(h, e)
			}
		}),
	)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	defer h.cancel()
	err := h.pipeline.Run(h.ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func (h *harness) count(kind EventKind) int {
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func stopAfterSamples(n int) func(h *harness, e Event) {
	return func(h *harness, e Event) {
		if e.Kind == EventSample && h.count(EventSample) >= n {
			h.cancel()
		}
	}
}

// ============================================================
// Connection State Tests
// ============================================================

func TestConnectionState_Transitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateOpen, false},
		{StateConnecting, StateOpen, true},
		{StateConnecting, StateDisconnected, true},
		{StateOpen, StateDisconnected, true},
		{StateOpen, StateConnecting, false},
		{StateOpen, StateOpen, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	if StateOpen.String() != "Open" || ConnectionState(42).String() != "Unknown" {
		t.Errorf("unexpected names: %s %s", StateOpen, ConnectionState(42))
	}
}

// ============================================================
// Watchdog Tests
// ============================================================

func TestWatchdog_Threshold(t *testing.T) {
	const threshold = 180 * time.Second
	w := NewWatchdog(epoch)

	if w.IsStale(epoch.Add(threshold-time.Second), threshold) {
		t.Error("stale one second before threshold")
	}
	if w.IsStale(epoch.Add(threshold), threshold) {
		t.Error("stale exactly at threshold")
	}
	if !w.IsStale(epoch.Add(threshold+time.Second), threshold) {
		t.Error("not stale one second after threshold")
	}
}

func TestWatchdog_TouchResets(t *testing.T) {
	w := NewWatchdog(epoch)
	later := epoch.Add(10 * time.Minute)
	w.Touch(later)

	if w.IsStale(later.Add(time.Minute), 2*time.Minute) {
		t.Error("stale after touch")
	}
	if !w.LastTouch().Equal(later) {
		t.Errorf("LastTouch = %v, want %v", w.LastTouch(), later)
	}
}

func TestWatchdog_Disabled(t *testing.T) {
	w := NewWatchdog(epoch)
	if w.IsStale(epoch.Add(24*time.Hour), 0) {
		t.Error("zero threshold should disable staleness")
	}
}

// ============================================================
// Rolling Window Tests
// ============================================================

func TestRollingWindow_Empty(t *testing.T) {
	w := NewRollingWindow(60)
	if w.Average() != 0 || w.Len() != 0 {
		t.Errorf("empty window: avg %v len %d", w.Average(), w.Len())
	}
}

func TestRollingWindow_Average(t *testing.T) {
	w := NewRollingWindow(60)
	for _, v := range []float64{1, 2, 3} {
		w.Push(v)
	}
	if w.Average() != 2.0 {
		t.Errorf("Average = %v, want 2.0", w.Average())
	}
}

func TestRollingWindow_Eviction(t *testing.T) {
	w := NewRollingWindow(60)
	for i := 1; i <= 61; i++ {
		w.Push(float64(i))
	}

	if w.Len() != 60 || w.Cap() != 60 {
		t.Fatalf("len %d cap %d, want 60/60", w.Len(), w.Cap())
	}
	values := w.Values()
	for i, v := range values {
		if v != float64(i+2) {
			t.Fatalf("Values()[%d] = %v, want %v", i, v, i+2)
		}
	}
	// mean of 2..61
	if w.Average() != 31.5 {
		t.Errorf("Average = %v, want 31.5", w.Average())
	}
}

// ============================================================
// Pipeline Tests
// ============================================================

func TestPipeline_ReconnectAfterTransportError(t *testing.T) {
	first := &fakeTransport{data: stationFrame(t, 1.0), failOn: 3}
	second := &fakeTransport{repeat: stationFrame(t, 3.0)}
	opener, opens := openerOf(first, second)
	pub := &recorder{}

	h := newHarness(airframe.StationLayout, opener, pub, testOptions(), stopAfterSamples(4))
	h.run(t)

	if *opens != 2 {
		t.Errorf("opens = %d, want 2", *opens)
	}
	if h.pipeline.Reconnects() != 1 {
		t.Errorf("Reconnects = %d, want 1", h.pipeline.Reconnects())
	}
	if !first.closed || !second.closed {
		t.Error("transports not closed")
	}
	if first.resets != 1 || second.resets != 1 {
		t.Errorf("resets = %d/%d, want 1/1", first.resets, second.resets)
	}

	// Settle happens on every open
	settles := 0
	for _, d := range h.clock.sleeps {
		if d == 2*time.Second {
			settles++
		}
	}
	if settles != 2 {
		t.Errorf("settles = %d, want 2 (sleeps %v)", settles, h.clock.sleeps)
	}

	// The window survives the reconnect
	window := h.pipeline.Window()
	want := []float64{1, 3, 3, 3}
	got := window.Values()
	if len(got) != len(want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("window = %v, want %v", got, want)
		}
	}
	if avg, _ := pub.records[3].Get("usv_avg"); avg != 2.5 {
		t.Errorf("usv_avg = %v, want 2.5", avg)
	}
	if testutil.ToFloat64(h.metrics.Reconnects) != 1 {
		t.Errorf("reconnects metric = %v", testutil.ToFloat64(h.metrics.Reconnects))
	}
}

func TestPipeline_StateSequence(t *testing.T) {
	first := &fakeTransport{data: stationFrame(t, 1.0), failOn: 3}
	second := &fakeTransport{repeat: stationFrame(t, 2.0)}
	opener, _ := openerOf(first, second)

	h := newHarness(airframe.StationLayout, opener, &recorder{}, testOptions(), stopAfterSamples(2))
	h.run(t)

	var states []ConnectionState
	for _, e := range h.events {
		if e.Kind == EventStateChange {
			states = append(states, e.State)
		}
	}
	want := []ConnectionState{
		StateConnecting, StateOpen, StateDisconnected,
		StateConnecting, StateOpen, StateDisconnected,
	}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
	if h.pipeline.State() != StateDisconnected {
		t.Errorf("final state %s", h.pipeline.State())
	}
}

func TestPipeline_StaleForcesReconnect(t *testing.T) {
	silent := &fakeTransport{}
	opener, opens := openerOf(silent, &fakeTransport{})

	var openedAt time.Time
	h := newHarness(airframe.SeisLayout, opener, &recorder{}, testOptions(), func(h *harness, e Event) {
		if e.Kind == EventStateChange && e.State == StateOpen && openedAt.IsZero() {
			openedAt = e.At
		}
		if e.Kind == EventStale {
			if e.At.Sub(openedAt) <= 180*time.Second {
				t.Errorf("stale after %v", e.At.Sub(openedAt))
			}
			if !errors.Is(e.Err, ErrStale) {
				t.Errorf("stale event error %v", e.Err)
			}
		}
		if e.Kind == EventReconnect {
			h.cancel()
		}
	})
	h.run(t)

	if *opens != 1 {
		t.Errorf("opens = %d, want 1", *opens)
	}
	if !silent.closed {
		t.Error("stale transport not closed")
	}
	if h.count(EventStale) != 1 || h.pipeline.Reconnects() != 1 {
		t.Errorf("stale events %d reconnects %d", h.count(EventStale), h.pipeline.Reconnects())
	}
	if testutil.ToFloat64(h.metrics.StaleTimeouts) != 1 {
		t.Errorf("stale metric = %v", testutil.ToFloat64(h.metrics.StaleTimeouts))
	}
}

func TestPipeline_StalenessDisabled(t *testing.T) {
	opener, _ := openerOf(&fakeTransport{})
	opts := testOptions()
	opts.StaleAfter = 0

	h := newHarness(airframe.SeisLayout, opener, &recorder{}, opts, nil)
	h.clock.onSleep = func(n int) {
		// an hour of idle polling at 100ms
		if n > 36000 {
			h.cancel()
		}
	}
	h.run(t)

	if h.pipeline.Reconnects() != 0 {
		t.Errorf("Reconnects = %d, want 0", h.pipeline.Reconnects())
	}
}

func TestPipeline_OpenRetriedForever(t *testing.T) {
	const failures = 50
	transports := make([]*fakeTransport, failures+1)
	transports[failures] = &fakeTransport{repeat: stationFrame(t, 0.5)}
	opener, opens := openerOf(transports...)

	h := newHarness(airframe.StationLayout, opener, &recorder{}, testOptions(), stopAfterSamples(1))
	h.run(t)

	if *opens != failures+1 {
		t.Errorf("opens = %d, want %d", *opens, failures+1)
	}
	for i := 0; i < failures; i++ {
		if h.clock.sleeps[i] != 3*time.Second {
			t.Fatalf("sleep %d = %v, want fixed reconnect delay", i, h.clock.sleeps[i])
		}
	}
	if h.clock.sleeps[failures] != 2*time.Second {
		t.Errorf("no settle after open: %v", h.clock.sleeps[failures])
	}
	if h.count(EventOpenFailure) != failures {
		t.Errorf("open failure events = %d", h.count(EventOpenFailure))
	}
	if testutil.ToFloat64(h.metrics.OpenFailures) != failures {
		t.Errorf("open failures metric = %v", testutil.ToFloat64(h.metrics.OpenFailures))
	}
}

func TestPipeline_CancelWhileConnecting(t *testing.T) {
	opener, _ := openerOf()

	h := newHarness(airframe.SeisLayout, opener, &recorder{}, testOptions(), nil)
	h.clock.onSleep = func(n int) {
		if n == 10 {
			h.cancel()
		}
	}
	h.run(t)

	if h.pipeline.State() != StateDisconnected {
		t.Errorf("state = %s, want Disconnected", h.pipeline.State())
	}
}

func TestPipeline_PublishFailureNonFatal(t *testing.T) {
	opener, _ := openerOf(&fakeTransport{repeat: stationFrame(t, 0.2)})
	pub := &recorder{err: errors.New("disk full")}

	h := newHarness(airframe.StationLayout, opener, pub, testOptions(), stopAfterSamples(3))
	h.run(t)

	if len(pub.records) != 3 {
		t.Errorf("publish attempts = %d, want 3", len(pub.records))
	}
	if h.count(EventPublishFailure) != 3 {
		t.Errorf("publish failure events = %d", h.count(EventPublishFailure))
	}
	if h.pipeline.Reconnects() != 0 {
		t.Errorf("publish failure caused reconnect")
	}
	if testutil.ToFloat64(h.metrics.PublishFailures) != 3 {
		t.Errorf("publish failures metric = %v", testutil.ToFloat64(h.metrics.PublishFailures))
	}
}

func TestPipeline_ChecksumFailureSkipsFrame(t *testing.T) {
	bad := stationFrame(t, 9.0)
	bad[len(bad)-1] ^= 0xFF
	good := stationFrame(t, 0.25)

	opener, _ := openerOf(&fakeTransport{data: append(bad, good...)})
	pub := &recorder{}

	h := newHarness(airframe.StationLayout, opener, pub, testOptions(), stopAfterSamples(1))
	h.run(t)

	if h.count(EventChecksumFailure) != 1 {
		t.Errorf("checksum events = %d, want 1", h.count(EventChecksumFailure))
	}
	if len(pub.records) != 1 {
		t.Fatalf("records = %d, want 1", len(pub.records))
	}
	if usv, _ := pub.records[0].Get("usv"); usv != 0.25 {
		t.Errorf("usv = %v, want 0.25", usv)
	}
	if h.pipeline.Statistics().ChecksumErrors != 1 {
		t.Errorf("ChecksumErrors = %d", h.pipeline.Statistics().ChecksumErrors)
	}
	if h.pipeline.Reconnects() != 0 {
		t.Error("checksum failure caused reconnect")
	}
}

func TestPipeline_ResetDropsStartupNoise(t *testing.T) {
	conn := &fakeTransport{
		pending: []byte{0x00, 0x8A, 0x13, 0x37, 0xFF},
		data:    stationFrame(t, 0.1),
	}
	opener, _ := openerOf(conn)

	h := newHarness(airframe.StationLayout, opener, &recorder{}, testOptions(), stopAfterSamples(1))
	h.run(t)

	if h.pipeline.Statistics().SkippedBytes != 0 {
		t.Errorf("SkippedBytes = %d, want 0", h.pipeline.Statistics().SkippedBytes)
	}
}

func TestPipeline_RecordContents(t *testing.T) {
	opener, _ := openerOf(&fakeTransport{repeat: stationFrame(t, 0.5)})
	pub := &recorder{}

	h := newHarness(airframe.StationLayout, opener, pub, testOptions(), stopAfterSamples(1))
	h.run(t)

	rec := pub.records[0]
	keys := make([]string, 0)
	for _, f := range rec.Fields() {
		keys = append(keys, f.Key)
	}
	want := "temperature,humidity,pressure,usv,pm1.0,pm2.5,pm4.0,pm10,usv_avg"
	if strings.Join(keys, ",") != want {
		t.Errorf("keys = %s, want %s", strings.Join(keys, ","), want)
	}
	if math.Abs(rec.CreatedAt().Sub(h.clock.Now()).Seconds()) > 1 {
		t.Errorf("CreatedAt %v far from clock %v", rec.CreatedAt(), h.clock.Now())
	}
}

func TestPipeline_SeisHasNoWindow(t *testing.T) {
	frame, _ := airframe.EncodeFrame(airframe.SeisLayout, []float32{21.5, 48.25, 1013.2})
	opener, _ := openerOf(&fakeTransport{repeat: frame})
	pub := &recorder{}

	h := newHarness(airframe.SeisLayout, opener, pub, testOptions(), stopAfterSamples(2))
	h.run(t)

	if h.pipeline.Window() != nil {
		t.Error("seis layout should not keep a rolling window")
	}
	if len(pub.records[0].Fields()) != 3 {
		t.Errorf("fields = %d, want 3", len(pub.records[0].Fields()))
	}
}

// ============================================================
// Metrics Tests
// ============================================================

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.FramesDecoded.Add(3)

	handler := MetricsHandler(reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "airstation_frames_decoded_total 3") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
