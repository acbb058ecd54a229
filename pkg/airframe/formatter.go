// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"fmt"
	"strings"
)

// FormatSample formats a sample into a human-readable string
func FormatSample(s *Sample) string {
	timestamp := s.timestamp.Format("15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s frame (%d channels)\n", timestamp, strings.ToUpper(s.layout.Name), len(s.values))
	for i, c := range s.layout.Channels {
		fmt.Fprintf(&b, "  %-12s %s\n", c.Name+":", FormatValue(s.values[i]))
	}
	return b.String()
}

// FormatValue renders a channel value with two decimals
func FormatValue(v float32) string {
	return fmt.Sprintf("%.2f", v)
}

// FormatFrame renders raw frame bytes as a hex dump
func FormatFrame(frame []byte) string {
	result := "  Frame: "
	for i, b := range frame {
		if i > 0 && i%16 == 0 {
			result += "\n         "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
