// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport owns the physical byte link to a station.
//
// Every Transport reads with a bounded timeout: Read returns (0, nil) when the
// timeout expires without data and a non-nil error only when the link is lost.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"syscall"

	"go.bug.st/serial"
)

// Transport is a byte link with bounded-timeout reads
type Transport interface {
	io.Reader

	// ResetBuffers discards any queued input and output
	ResetBuffers() error

	// Close releases the link. Closing twice is not an error.
	Close() error

	// String describes the link for logs
	String() string
}

// Opener establishes a new Transport
type Opener func(ctx context.Context) (Transport, error)

var (
	// ErrDeviceAbsent is returned when the device path does not exist yet
	ErrDeviceAbsent = errors.New("device not present")

	// ErrTransportClosed is returned when reading from a closed transport
	ErrTransportClosed = errors.New("transport closed")
)

// IsDisconnect reports whether err means the device went away, as opposed to
// a configuration or permission problem
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceAbsent) || errors.Is(err, ErrTransportClosed) || errors.Is(err, io.EOF) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return isDisconnectCode(portErr.Code())
	}
	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return isDisconnectCode(portErrValue.Code())
	}

	if errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ENXIO) || errors.Is(err, syscall.ENODEV) {
		return true
	}

	// OS-level errors that reach us unwrapped
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe")
}

func isDisconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
