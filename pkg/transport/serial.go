// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds serial port configuration
type SerialConfig struct {
	Path        string        // Device path (e.g., /dev/ttyUSB0)
	Baud        int           // Baud rate
	ReadTimeout time.Duration // Per-read timeout
}

// Serial wraps a serial port
type Serial struct {
	port   serial.Port
	cfg    SerialConfig
	mu     sync.Mutex
	closed bool
}

// OpenSerial opens a serial port (8N1), applies the read timeout and clears
// whatever the driver queued before the open
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if err := checkDevicePresent(cfg.Path); err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Path, err)
	}

	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Path, err)
	}

	s := &Serial{port: port, cfg: cfg}
	if err := s.ResetBuffers(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset buffers on %s: %w", cfg.Path, err)
	}

	return s, nil
}

// SerialOpener returns an Opener for the given configuration
func SerialOpener(cfg SerialConfig) Opener {
	return func(ctx context.Context) (Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return OpenSerial(cfg)
	}
}

// checkDevicePresent reports ErrDeviceAbsent for a missing device node.
// Only filesystem paths are checked; COM port names are left to the driver.
func checkDevicePresent(path string) error {
	if !strings.HasPrefix(path, "/") {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDeviceAbsent, path)
	}
	return nil
}

func (s *Serial) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrTransportClosed
	}
	return s.port.Read(p)
}

// Write sends bytes to the device
func (s *Serial) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ResetBuffers discards both the input and the output driver buffers
func (s *Serial) ResetBuffers() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.ResetOutputBuffer()
}

// Close closes the port once; later calls return nil
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func (s *Serial) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.cfg.Path, s.cfg.Baud)
}
