// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package airframe implements the air station serial frame protocol.
//
// A frame on the wire is a single sync byte followed by a fixed-size payload of
// little-endian float32 channels and one trailing XOR checksum byte. The payload
// shape (channel count, order and names) is described by a Layout, so the same
// decoder serves every station variant.
package airframe

// SyncByte marks the start of every frame
const SyncByte = 0x8A

// Channel field width on the wire (float32)
const ChannelSize = 4

// ChecksumSize is the trailing checksum length
const ChecksumSize = 1

// DefaultMaxScan bounds how many non-sync bytes Sync consumes before giving up
const DefaultMaxScan = 4096
