// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodePayload packs channel values as little-endian float32 in wire order
func EncodePayload(layout *Layout, values []float32) ([]byte, error) {
	if len(values) != len(layout.Channels) {
		return nil, fmt.Errorf("layout %s expects %d channels, got %d", layout.Name, len(layout.Channels), len(values))
	}

	payload := make([]byte, layout.PayloadLen())
	for i, v := range values {
		binary.LittleEndian.PutUint32(payload[i*ChannelSize:], math.Float32bits(v))
	}
	return payload, nil
}

// EncodeFrame creates a complete wire frame: sync byte, payload, checksum.
// This is what the station firmware writes for every measurement.
func EncodeFrame(layout *Layout, values []float32) ([]byte, error) {
	payload, err := EncodePayload(layout, values)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+layout.FrameLen())
	frame = append(frame, SyncByte)
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame, nil
}

// EncodeSample re-encodes a decoded sample to wire format
func EncodeSample(s *Sample) []byte {
	frame, err := EncodeFrame(s.layout, s.values)
	if err != nil {
		panic(fmt.Sprintf("airframe: encode error: %v", err))
	}
	return frame
}
