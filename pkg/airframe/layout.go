// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package airframe

import (
	"fmt"
	"math"
	"strings"
)

// Channel describes one float32 field of the payload
type Channel struct {
	Name string // Human-readable name
	Key  string // Published record key

	// Advisory plausibility bounds, only used by ValidateSample
	Min float64
	Max float64
}

// Averaging names the channel that feeds a rolling average
type Averaging struct {
	Channel string // Key of the averaged channel
	Key     string // Published record key for the average
	Window  int    // Number of samples in the window
}

// Layout is the payload-layout descriptor of a protocol variant
type Layout struct {
	Name     string
	Channels []Channel
	Average  *Averaging
}

// PayloadLen returns the number of payload bytes (checksum excluded)
func (l *Layout) PayloadLen() int {
	return len(l.Channels) * ChannelSize
}

// FrameLen returns the number of bytes that follow the sync byte
func (l *Layout) FrameLen() int {
	return l.PayloadLen() + ChecksumSize
}

// Index returns the wire position of the channel with the given key, or -1
func (l *Layout) Index(key string) int {
	for i, c := range l.Channels {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// Keys returns the record keys in wire order
func (l *Layout) Keys() []string {
	keys := make([]string, len(l.Channels))
	for i, c := range l.Channels {
		keys[i] = c.Key
	}
	return keys
}

// StationLayout is the 8-channel weather, radiation and particulate station
var StationLayout = &Layout{
	Name: "station",
	Channels: []Channel{
		{Name: "Temperature", Key: "temperature", Min: -60, Max: 85},
		{Name: "Humidity", Key: "humidity", Min: 0, Max: 100},
		{Name: "Pressure", Key: "pressure", Min: 300, Max: 1100},
		{Name: "Dose Rate", Key: "usv", Min: 0, Max: 1000},
		{Name: "PM1.0", Key: "pm1.0", Min: 0, Max: 1000},
		{Name: "PM2.5", Key: "pm2.5", Min: 0, Max: 1000},
		{Name: "PM4.0", Key: "pm4.0", Min: 0, Max: 1000},
		{Name: "PM10", Key: "pm10", Min: 0, Max: 1000},
	},
	Average: &Averaging{Channel: "usv", Key: "usv_avg", Window: 60},
}

// SeisLayout is the 3-channel BME280 seismometer-hut station
var SeisLayout = &Layout{
	Name: "seis",
	Channels: []Channel{
		{Name: "Temperature", Key: "temperature", Min: -60, Max: 85},
		{Name: "Humidity", Key: "humidity", Min: 0, Max: 100},
		{Name: "Pressure", Key: "pressure", Min: 300, Max: 1100},
	},
}

// Layouts lists the built-in protocol variants
var Layouts = []*Layout{StationLayout, SeisLayout}

// LayoutByName looks up a built-in layout
func LayoutByName(name string) (*Layout, error) {
	for _, l := range Layouts {
		if strings.EqualFold(l.Name, name) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unknown layout %q (available: %s)", name, layoutNames())
}

func layoutNames() string {
	names := make([]string, len(Layouts))
	for i, l := range Layouts {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}

// bounded reports whether the channel declares plausibility bounds
func (c Channel) bounded() bool {
	return c.Min != 0 || c.Max != 0
}

func (c Channel) inRange(v float64) bool {
	return !math.IsNaN(v) && v >= c.Min && v <= c.Max
}
