// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Airstation - Air Station Serial Acquisition
//
// Reads measurement frames from an air-monitoring station over a serial link
// and publishes the latest reading for the station's web page.

package main

import (
	"os"

	"github.com/Thermoquad/airstation/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
