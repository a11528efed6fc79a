//go:build unix

// File: reactor/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The pollset and worker executing a poll iteration travel in the
// context handed to callbacks, standing in for thread identity when
// deciding whether a kick would target the calling worker itself.

package reactor

import "context"

type pollerKey struct{}

type pollerIdentity struct {
	pollset *Pollset
	worker  *Worker
}

func withPoller(ctx context.Context, p *Pollset, w *Worker) context.Context {
	return context.WithValue(ctx, pollerKey{}, pollerIdentity{pollset: p, worker: w})
}

func identity(ctx context.Context) pollerIdentity {
	if ctx == nil {
		return pollerIdentity{}
	}
	id, _ := ctx.Value(pollerKey{}).(pollerIdentity)
	return id
}

// WorkerFromContext returns the worker whose poll iteration fired the
// callback receiving ctx, or nil.
func WorkerFromContext(ctx context.Context) *Worker {
	return identity(ctx).worker
}

// PollsetFromContext returns the pollset being worked when ctx was handed to
// a callback, or nil.
func PollsetFromContext(ctx context.Context) *Pollset {
	return identity(ctx).pollset
}
