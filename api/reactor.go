// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Capability contract between the poll reactor and the transport layers
// consuming readiness notifications.

package api

import (
	"context"
	"time"
)

// Callback is invoked when a readiness wait completes. err is nil on success
// and an *Error with ErrCodeDescriptorShutdown when the descriptor was shut
// down. ctx carries the identity of the polling worker that fired it, if any.
type Callback func(ctx context.Context, err error)

// Direction selects the read or write readiness slot of a descriptor.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// ReadinessNotifier is the subset of a tracked descriptor used by transports.
type ReadinessNotifier interface {
	// NotifyOnReadable arms cb for the next readable edge.
	NotifyOnReadable(cb Callback)
	// NotifyOnWritable arms cb for the next writable edge.
	NotifyOnWritable(cb Callback)
	// Shutdown fails every pending and future wait with reason.
	Shutdown(reason error)
	// IsShutdown reports whether Shutdown was called.
	IsShutdown() bool
}

// Poller is a blocking poll entry point shared by worker goroutines.
type Poller interface {
	// Work blocks until readiness, a kick, or the deadline.
	// A zero deadline blocks without limit.
	Work(ctx context.Context, deadline time.Time) error
	// Shutdown stops the poller; onDone runs once it fully quiesced.
	Shutdown(onDone Callback)
}
