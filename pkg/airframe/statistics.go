// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time
	LastFrameTime  time.Time

	// Counters
	TotalFrames      uint64 // Frames attempted after a sync byte
	ValidFrames      uint64
	ChecksumErrors   uint64
	IncompleteFrames uint64
	Timeouts         uint64 // Idle rounds without a sync byte
	SyncLost         uint64 // Scan limit reached without a sync byte
	SkippedBytes     uint64
	TransportErrors  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one Decoder.Next call
func (s *Statistics) Update(outcome error, skipped int) {
	s.SkippedBytes += uint64(skipped)
	s.LastUpdateTime = time.Now()

	switch {
	case outcome == nil:
		s.TotalFrames++
		s.ValidFrames++
		s.LastFrameTime = s.LastUpdateTime
	case errors.Is(outcome, ErrChecksum):
		s.TotalFrames++
		s.ChecksumErrors++
	case errors.Is(outcome, ErrIncompleteFrame):
		s.TotalFrames++
		s.IncompleteFrames++
	case errors.Is(outcome, ErrNoData):
		s.Timeouts++
	case errors.Is(outcome, ErrNoSync):
		s.SyncLost++
	default:
		s.TransportErrors++
	}
}

// Errors returns the number of frames rejected after synchronization
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.IncompleteFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent, incompletePercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		incompletePercent = float64(s.IncompleteFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.IncompleteFrames > 0 {
		result += fmt.Sprintf("Incomplete:      %8d (%.1f%%)\n", s.IncompleteFrames, incompletePercent)
	}
	if s.SkippedBytes > 0 {
		result += fmt.Sprintf("Skipped Bytes:   %8d\n", s.SkippedBytes)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Idle Timeouts:   %8d\n", s.Timeouts)
	}
	if s.SyncLost > 0 {
		result += fmt.Sprintf("Sync Lost:       %8d\n", s.SyncLost)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", s.TransportErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.2f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
