// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import (
	"time"

	"github.com/Thermoquad/airstation/pkg/airframe"
	"github.com/Thermoquad/airstation/pkg/publish"
)

// EventKind identifies what an Event reports
type EventKind int

const (
	EventStateChange EventKind = iota
	EventSample
	EventChecksumFailure
	EventIncompleteFrame
	EventPublishFailure
	EventOpenFailure
	EventTransportError
	EventStale
	EventReconnect
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state"
	case EventSample:
		return "sample"
	case EventChecksumFailure:
		return "checksum"
	case EventIncompleteFrame:
		return "incomplete"
	case EventPublishFailure:
		return "publish"
	case EventOpenFailure:
		return "open"
	case EventTransportError:
		return "transport"
	case EventStale:
		return "stale"
	case EventReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Event is delivered synchronously to pipeline observers.
// Observers run on the acquisition goroutine and must not block.
type Event struct {
	Kind  EventKind
	At    time.Time
	State ConnectionState

	Sample *airframe.Sample
	Record *publish.Record
	Err    error

	// Stats is a snapshot taken when the event was emitted
	Stats airframe.Statistics
}
