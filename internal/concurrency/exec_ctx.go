// File: internal/concurrency/exec_ctx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecCtx collects callbacks scheduled while locks are held and runs them
// once the caller has released every lock.

package concurrency

import (
	"context"

	"github.com/momentics/hioload-poll/api"
)

// ExecCtx is owned by a single goroutine for the duration of one public
// operation (or one poll iteration).
type ExecCtx struct {
	ctx  context.Context
	list *ClosureList
}

// NewExecCtx binds an execution context to ctx. Callbacks receive ctx.
func NewExecCtx(ctx context.Context) *ExecCtx {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ExecCtx{ctx: ctx, list: NewClosureList()}
}

// Context returns the context handed to callbacks.
func (e *ExecCtx) Context() context.Context {
	return e.ctx
}

// Sched queues cb(err) for the next Flush.
func (e *ExecCtx) Sched(cb api.Callback, err error) {
	e.list.Add(cb, err)
}

// SchedList moves every callback of l into this context.
func (e *ExecCtx) SchedList(l *ClosureList) {
	l.MoveTo(e.list)
}

// Pending reports whether callbacks are queued.
func (e *ExecCtx) Pending() bool {
	return !e.list.Empty()
}

// Flush runs queued callbacks and reports whether any ran.
func (e *ExecCtx) Flush() bool {
	return e.list.Run(e.ctx) > 0
}
