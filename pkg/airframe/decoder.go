// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Decoder extracts frames of one layout from a byte stream.
//
// The reader must return (0, nil) when its read timeout expires, which is how
// go.bug.st/serial behaves. Any non-nil read error is treated as a transport
// failure and returned wrapped in a TransportError.
type Decoder struct {
	layout  *Layout
	maxScan int
	now     func() time.Time
	one     []byte
	frame   []byte
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithMaxScan limits how many non-sync bytes a single Sync call discards.
// Zero or a negative value means unlimited.
func WithMaxScan(n int) DecoderOption {
	return func(d *Decoder) {
		d.maxScan = n
	}
}

// WithTimeSource overrides the clock used to stamp decoded samples
func WithTimeSource(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		d.now = now
	}
}

// NewDecoder creates a decoder for the given layout
func NewDecoder(layout *Layout, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		layout:  layout,
		maxScan: DefaultMaxScan,
		now:     time.Now,
		one:     make([]byte, 1),
		frame:   make([]byte, layout.FrameLen()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Layout returns the decoder's layout
func (d *Decoder) Layout() *Layout {
	return d.layout
}

// Sync discards bytes until a sync byte is read.
// Returns the number of bytes skipped before the sync byte.
func (d *Decoder) Sync(r io.Reader) (int, error) {
	skipped := 0
	for {
		n, err := r.Read(d.one)
		if err != nil {
			return skipped, &TransportError{Err: err}
		}
		if n == 0 {
			return skipped, ErrNoData
		}
		if d.one[0] == SyncByte {
			return skipped, nil
		}
		skipped++
		if d.maxScan > 0 && skipped >= d.maxScan {
			return skipped, ErrNoSync
		}
	}
}

// ReadFrame reads exactly FrameLen bytes, accumulating across short reads.
// A zero-byte read before the frame is complete discards the partial frame.
// The returned slice is reused by the next call.
func (d *Decoder) ReadFrame(r io.Reader) ([]byte, error) {
	got := 0
	for got < len(d.frame) {
		n, err := r.Read(d.frame[got:])
		if err != nil {
			return nil, &TransportError{Err: err}
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncompleteFrame, got, len(d.frame))
		}
		got += n
	}
	return d.frame, nil
}

// DecodeFrame validates the checksum and unpacks the channels
func (d *Decoder) DecodeFrame(frame []byte) (*Sample, error) {
	if len(frame) != d.layout.FrameLen() {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncompleteFrame, len(frame), d.layout.FrameLen())
	}

	payload := frame[:d.layout.PayloadLen()]
	received := frame[len(frame)-1]
	expected := Checksum(payload)
	if expected != received {
		return nil, &ChecksumError{Expected: expected, Received: received}
	}

	values := make([]float32, len(d.layout.Channels))
	for i := range values {
		bits := binary.LittleEndian.Uint32(payload[i*ChannelSize:])
		values[i] = math.Float32frombits(bits)
	}

	return &Sample{layout: d.layout, values: values, timestamp: d.now()}, nil
}

// Next synchronizes, reads and decodes one frame.
// Returns the number of bytes skipped while synchronizing alongside the outcome.
func (d *Decoder) Next(r io.Reader) (*Sample, int, error) {
	skipped, err := d.Sync(r)
	if err != nil {
		return nil, skipped, err
	}

	frame, err := d.ReadFrame(r)
	if err != nil {
		return nil, skipped, err
	}

	sample, err := d.DecodeFrame(frame)
	return sample, skipped, err
}
