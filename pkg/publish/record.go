// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish turns decoded samples into durable records for downstream readers.
package publish

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/Thermoquad/airstation/pkg/airframe"
)

// TimestampKey is the record key holding the creation time
const TimestampKey = "create_at"

// TimestampLayout is the fixed-width local time format of TimestampKey
const TimestampLayout = "2006-01-02 15:04:05"

// Field is one named numeric value of a record
type Field struct {
	Key   string
	Value float64
}

// Record is the published state: every channel in wire order, then derived
// values, then the creation timestamp. Records are written wholesale.
type Record struct {
	fields    []Field
	createdAt time.Time
}

// NewRecord flattens a sample and its derived values into a record
func NewRecord(s *airframe.Sample, derived []Field, at time.Time) Record {
	layout := s.Layout()
	values := s.Values()

	fields := make([]Field, 0, len(values)+len(derived))
	for i, c := range layout.Channels {
		fields = append(fields, Field{Key: c.Key, Value: float64(values[i])})
	}
	fields = append(fields, derived...)

	return Record{fields: fields, createdAt: at}
}

// Fields returns a copy of the numeric fields in publish order
func (r Record) Fields() []Field {
	f := make([]Field, len(r.fields))
	copy(f, r.fields)
	return f
}

// Get returns the value of a numeric field
func (r Record) Get(key string) (float64, bool) {
	for _, f := range r.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return 0, false
}

// CreatedAt returns the record creation time
func (r Record) CreatedAt() time.Time {
	return r.createdAt
}

// Timestamp returns the creation time in TimestampLayout, local time
func (r Record) Timestamp() string {
	return r.createdAt.Local().Format(TimestampLayout)
}

// Map returns the record as a generic map
func (r Record) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.fields)+1)
	for _, f := range r.fields {
		m[f.Key] = f.Value
	}
	m[TimestampKey] = r.Timestamp()
	return m
}

// MarshalJSON writes the record as an object with keys in publish order.
// JSON has no NaN or Inf, so non-finite values are written as null.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for _, f := range r.fields {
		if err := writeMember(&buf, f.Key, jsonNumber(f.Value)); err != nil {
			return nil, err
		}
		buf.WriteString(", ")
	}
	if err := writeMember(&buf, TimestampKey, r.Timestamp()); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonNumber(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func writeMember(buf *bytes.Buffer, key string, value interface{}) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteString(": ")
	buf.Write(v)
	return nil
}
