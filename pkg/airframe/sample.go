// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"fmt"
	"time"
)

// Sample is one decoded, checksum-verified frame. It is immutable.
type Sample struct {
	layout    *Layout
	values    []float32
	timestamp time.Time
}

// NewSample creates a sample from raw channel values in wire order
func NewSample(layout *Layout, values []float32, timestamp time.Time) (*Sample, error) {
	if len(values) != len(layout.Channels) {
		return nil, fmt.Errorf("layout %s expects %d channels, got %d", layout.Name, len(layout.Channels), len(values))
	}
	v := make([]float32, len(values))
	copy(v, values)
	return &Sample{layout: layout, values: v, timestamp: timestamp}, nil
}

// Layout returns the layout the sample was decoded with
func (s *Sample) Layout() *Layout {
	return s.layout
}

// Values returns a copy of the channel values in wire order
func (s *Sample) Values() []float32 {
	v := make([]float32, len(s.values))
	copy(v, s.values)
	return v
}

// Value returns the channel value for a record key
func (s *Sample) Value(key string) (float32, bool) {
	i := s.layout.Index(key)
	if i < 0 {
		return 0, false
	}
	return s.values[i], true
}

// Timestamp returns the decode time
func (s *Sample) Timestamp() time.Time {
	return s.timestamp
}
