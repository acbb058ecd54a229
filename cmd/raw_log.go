// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/airframe"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded frames in human-readable format",
	Long: `Continuously decode and display frames as they arrive.

Each frame is shown with its timestamp and every channel value. Checksum
failures and incomplete frames are reported inline. Nothing is published and
the link is not reopened on failure.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Airstation - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Layout: %s (%d channels, %d byte frames)\n", layout.Name, len(layout.Channels), layout.FrameLen()+1)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := airframe.NewDecoder(layout)

	for ctx.Err() == nil {
		skipped, err := decoder.Sync(conn)
		if skipped > 0 {
			fmt.Printf("[SYNC] skipped %d bytes\n", skipped)
		}
		if err != nil {
			if !airframe.IsRecoverable(err) {
				fmt.Fprintf(os.Stderr, "Connection closed: %v\n", err)
				return nil
			}
			continue
		}

		frame, err := decoder.ReadFrame(conn)
		if err != nil {
			if !airframe.IsRecoverable(err) {
				fmt.Fprintf(os.Stderr, "Connection closed: %v\n", err)
				return nil
			}
			fmt.Printf("[ERROR] %v\n", err)
			continue
		}

		if rawLogHex {
			fmt.Print(airframe.FormatFrame(append([]byte{airframe.SyncByte}, frame...)))
		}

		sample, err := decoder.DecodeFrame(frame)
		if err != nil {
			var cerr *airframe.ChecksumError
			if errors.As(err, &cerr) {
				fmt.Printf("[ERROR] checksum mismatch: expected 0x%02X, got 0x%02X\n", cerr.Expected, cerr.Received)
			} else {
				fmt.Printf("[ERROR] %v\n", err)
			}
			continue
		}

		fmt.Print(airframe.FormatSample(sample))
		for _, anomaly := range airframe.ValidateSample(sample) {
			fmt.Printf("  [WARN] %s\n", anomaly.Message)
		}
	}

	return nil
}
