// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes a record for the durable sink
type Codec interface {
	Name() string
	Encode(r Record) ([]byte, error)
}

// JSONCodec writes the ordered JSON object consumed by the web dashboard
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

// Encode calls MarshalJSON directly; json.Marshal would compact the separators
func (JSONCodec) Encode(r Record) ([]byte, error) {
	return r.MarshalJSON()
}

// CBORCodec writes a core deterministic CBOR map
type CBORCodec struct {
	em cbor.EncMode
}

// NewCBORCodec creates a CBOR codec with core deterministic encoding
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return &CBORCodec{em: em}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Encode(r Record) ([]byte, error) {
	return c.em.Marshal(r.Map())
}

// CodecByName returns the codec for "json" or "cbor"
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("unknown record format %q (use json or cbor)", name)
	}
}
