// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/airstation/pkg/airframe"
)

var linkTestDuration int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test link stability over a period of time",
	Long: `Stay connected for a fixed duration and report frame statistics.

Frames are decoded but not published. A summary is printed every second and
the final statistics at the end. The link is not reopened on failure, so a
flaky cable or adapter shows up as a failed run.

Exit codes:
  0 - Test completed without a transport error
  1 - Transport error before the duration elapsed
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
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

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Airstation - Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	decoder := airframe.NewDecoder(layout)
	stats := airframe.NewStatistics()

	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	nextReport := start.Add(time.Second)

	for time.Now().Before(endTime) {
		_, skipped, err := decoder.Next(conn)
		stats.Update(err, skipped)

		if err != nil && !airframe.IsRecoverable(err) {
			fmt.Printf("\n[%s] Transport error: %v\n", time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Print(stats.String())
			fmt.Printf("Result: FAILED (transport error)\n")
			os.Exit(1)
		}

		if now := time.Now(); now.After(nextReport) {
			fmt.Printf("[%s] %d valid, %d rejected, %d bytes skipped (%.0fs remaining)\n",
				now.Format("15:04:05.000"), stats.ValidFrames, stats.Errors(), stats.SkippedBytes,
				time.Until(endTime).Seconds())
			nextReport = now.Add(time.Second)
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkTestDuration)
	fmt.Print(stats.String())
	fmt.Printf("Result: PASSED (link stable)\n")

	return nil
}
