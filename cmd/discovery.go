// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/config"
	"github.com/Thermoquad/airstation/pkg/transport"
)

var (
	discoveryTimeout int
	discoveryProbe   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List serial ports and find the station",
	Long: `List the serial ports on this machine with their USB details.

With --probe, each port is opened at the variant's baud rate and watched for a
valid frame, which identifies the port the station is attached to.

Examples:
  # List ports
  airstation discovery

  # Find the seismic station's port
  airstation discovery --variant seis --probe

Exit codes:
  0 - Ports listed (with --probe: at least one port produced a valid frame)
  1 - No ports found (with --probe: no port produced a valid frame)
  2 - Enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 5, "Seconds to wait for a frame on each port (with --probe)")
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", false, "Probe each port for valid frames")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout, err := cfg.Layout()
	if err != nil {
		return err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Airstation - Port Discovery\n")
	fmt.Printf("Ports found: %d\n\n", len(ports))

	if len(ports) == 0 {
		fmt.Printf("No serial ports found. Check the USB cable and adapter driver.\n")
		os.Exit(1)
	}

	found := 0
	for _, port := range ports {
		fmt.Printf("%s\n", port.Name)
		if port.IsUSB {
			fmt.Printf("  USB: %s:%s", strings.ToLower(port.VID), strings.ToLower(port.PID))
			if port.SerialNumber != "" {
				fmt.Printf("  Serial: %s", port.SerialNumber)
			}
			if port.Product != "" {
				fmt.Printf("  Product: %s", port.Product)
			}
			fmt.Printf("\n")
		}

		if !discoveryProbe {
			continue
		}

		sample, err := probePort(cfg, layout, port.Name)
		switch {
		case err != nil:
			fmt.Printf("  Probe: %v\n", err)
		case sample == nil:
			fmt.Printf("  Probe: no valid %s frame in %ds\n", layout.Name, discoveryTimeout)
		default:
			found++
			fmt.Printf("  Probe: valid %s frame\n", layout.Name)
			fmt.Print(indent(airframe.FormatSample(sample), "  "))
		}
	}

	if discoveryProbe {
		fmt.Printf("\n--- Discovery summary ---\n")
		fmt.Printf("Ports with %s frames: %d\n", layout.Name, found)
		if found == 0 {
			os.Exit(1)
		}
	}

	return nil
}

// probePort waits up to the discovery timeout for one valid frame on path.
// A nil sample with a nil error means the port stayed silent or garbled.
func probePort(cfg *config.Config, layout *airframe.Layout, path string) (*airframe.Sample, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout > time.Second {
		readTimeout = time.Second
	}

	port, err := transport.OpenSerial(transport.SerialConfig{
		Path:        path,
		Baud:        cfg.Baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer port.Close()

	decoder := airframe.NewDecoder(layout)
	deadline := time.Now().Add(time.Duration(discoveryTimeout) * time.Second)

	for time.Now().Before(deadline) {
		sample, _, err := decoder.Next(port)
		if err == nil {
			return sample, nil
		}
		if !airframe.IsRecoverable(err) {
			return nil, err
		}
	}

	return nil, nil
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}
