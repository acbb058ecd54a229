// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned when a read times out before a sync byte arrives
	ErrNoData = errors.New("no data available")

	// ErrNoSync is returned when the scan limit is reached without a sync byte
	ErrNoSync = errors.New("sync byte not found")

	// ErrIncompleteFrame is returned when a read times out mid-frame
	ErrIncompleteFrame = errors.New("incomplete frame")

	// ErrChecksum is wrapped by every ChecksumError
	ErrChecksum = errors.New("checksum mismatch")
)

// ChecksumError reports a frame whose trailing byte disagrees with its payload
type ChecksumError struct {
	Expected byte // Computed over the payload
	Received byte // Trailing byte on the wire
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Received)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksum
}

// TransportError wraps an error returned by the underlying reader
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err only costs the current round.
// Transport errors are the only non-recoverable decode outcome.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var te *TransportError
	return !errors.As(err, &te)
}
