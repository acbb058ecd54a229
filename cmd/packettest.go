// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/airframe"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes checksum verification. Garbage bytes and corrupt frames are
skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before installing the service.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	layout, err := cfg.Layout()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	timeout := time.Duration(packetTestTimeout) * time.Second
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Airstation - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid %s frame...\n\n", layout.Name)

	decoder := airframe.NewDecoder(layout)
	skipped, rejected := 0, 0

	for ctx.Err() == nil {
		sample, n, err := decoder.Next(conn)
		skipped += n

		switch {
		case err == nil:
			if skipped > 0 || rejected > 0 {
				fmt.Printf("(skipped %d bytes and %d bad frames before sync)\n", skipped, rejected)
			}
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Print(airframe.FormatSample(sample))
			os.Exit(0)

		case !airframe.IsRecoverable(err):
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)

		case errors.Is(err, airframe.ErrChecksum), errors.Is(err, airframe.ErrIncompleteFrame):
			rejected++
		}
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
	os.Exit(1)

	return nil
}
