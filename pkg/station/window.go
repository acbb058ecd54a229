// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

// RollingWindow is a fixed-capacity FIFO of channel values
type RollingWindow struct {
	values []float64
	start  int
	count  int
}

// NewRollingWindow creates a window holding at most capacity values
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{values: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when full
func (w *RollingWindow) Push(v float64) {
	if w.count < len(w.values) {
		w.values[(w.start+w.count)%len(w.values)] = v
		w.count++
		return
	}
	w.values[w.start] = v
	w.start = (w.start + 1) % len(w.values)
}

// Average returns the arithmetic mean, or 0 when empty
func (w *RollingWindow) Average() float64 {
	if w.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.values[(w.start+i)%len(w.values)]
	}
	return sum / float64(w.count)
}

// Len returns the number of values held
func (w *RollingWindow) Len() int {
	return w.count
}

// Cap returns the window capacity
func (w *RollingWindow) Cap() int {
	return len(w.values)
}

// Values returns the contents oldest first
func (w *RollingWindow) Values() []float64 {
	out := make([]float64, w.count)
	for i := range out {
		out[i] = w.values[(w.start+i)%len(w.values)]
	}
	return out
}
