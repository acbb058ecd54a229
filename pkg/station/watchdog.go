// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import "time"

// Watchdog tracks the time of the last successfully decoded sample.
//
// A wedged serial device often keeps answering reads with zero bytes and never
// raises an error; the watchdog turns that silence into a reconnect.
type Watchdog struct {
	last time.Time
}

// NewWatchdog creates a watchdog touched at now
func NewWatchdog(now time.Time) *Watchdog {
	return &Watchdog{last: now}
}

// Touch resets the clock
func (w *Watchdog) Touch(now time.Time) {
	w.last = now
}

// LastTouch returns the time of the last Touch
func (w *Watchdog) LastTouch() time.Time {
	return w.last
}

// Since returns the time elapsed since the last Touch
func (w *Watchdog) Since(now time.Time) time.Duration {
	return now.Sub(w.last)
}

// IsStale reports whether more than threshold elapsed since the last Touch.
// A threshold of zero or less disables the check.
func (w *Watchdog) IsStale(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(w.last) > threshold
}
