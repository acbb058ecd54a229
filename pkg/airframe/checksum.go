// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

// Checksum computes the running XOR of all payload bytes
func Checksum(payload []byte) byte {
	var cs byte
	for _, b := range payload {
		cs ^= b
	}
	return cs
}
