// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// DefaultFileMode is applied to the published file regardless of umask
const DefaultFileMode os.FileMode = 0o644

// FilePublisher atomically replaces a file with the latest record.
//
// The record is written to a temporary file in the target's directory, synced
// to disk, then renamed over the target. Readers see either the previous or
// the new record, never a partial one.
type FilePublisher struct {
	path  string
	codec Codec
	mode  os.FileMode
}

// FileOption configures a FilePublisher
type FileOption func(*FilePublisher)

// WithCodec selects the record encoding (JSON by default)
func WithCodec(c Codec) FileOption {
	return func(p *FilePublisher) {
		p.codec = c
	}
}

// WithMode sets the permissions of the published file
func WithMode(mode os.FileMode) FileOption {
	return func(p *FilePublisher) {
		p.mode = mode
	}
}

// NewFilePublisher creates a publisher for the given target path
func NewFilePublisher(path string, opts ...FileOption) *FilePublisher {
	p := &FilePublisher{
		path:  path,
		codec: JSONCodec{},
		mode:  DefaultFileMode,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the target path
func (p *FilePublisher) Path() string {
	return p.path
}

// Publish encodes and atomically writes the record
func (p *FilePublisher) Publish(r Record) error {
	data, err := p.codec.Encode(r)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", p.codec.Name(), err)
	}

	err = renameio.WriteFile(p.path, data, p.mode,
		renameio.WithTempDir(filepath.Dir(p.path)),
		renameio.WithStaticPermissions(p.mode),
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.path, err)
	}
	return nil
}
