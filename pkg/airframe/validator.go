// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of sample anomalies
type AnomalyType int

const (
	AnomalyNonFinite AnomalyType = iota
	AnomalyOutOfRange
)

// ValidationError describes a suspicious channel value.
// Anomalies are advisory: the decoder never rejects a sample for them.
type ValidationError struct {
	Type    AnomalyType
	Channel string
	Value   float32
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateSample reports non-finite values and values outside a channel's bounds
func ValidateSample(s *Sample) []ValidationError {
	errors := []ValidationError{}

	for i, c := range s.layout.Channels {
		v := s.values[i]
		f := float64(v)

		if math.IsNaN(f) || math.IsInf(f, 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonFinite,
				Channel: c.Key,
				Value:   v,
				Message: fmt.Sprintf("%s is not finite (%v)", c.Name, v),
			})
			continue
		}

		if c.bounded() && !c.inRange(f) {
			errors = append(errors, ValidationError{
				Type:    AnomalyOutOfRange,
				Channel: c.Key,
				Value:   v,
				Message: fmt.Sprintf("%s=%.2f outside %.0f..%.0f", c.Name, v, c.Min, c.Max),
			})
		}
	}

	return errors
}
