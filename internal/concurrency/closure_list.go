// File: internal/concurrency/closure_list.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO list of pending callbacks with their completion errors.

package concurrency

import (
	"context"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-poll/api"
)

type closure struct {
	cb  api.Callback
	err error
}

// ClosureList is a FIFO of scheduled callbacks. Not safe for concurrent use;
// callers guard it with the lock of the owning structure.
type ClosureList struct {
	q *queue.Queue
}

// NewClosureList creates an empty list.
func NewClosureList() *ClosureList {
	return &ClosureList{q: queue.New()}
}

// Add appends cb to be run with err. A nil cb is ignored.
func (l *ClosureList) Add(cb api.Callback, err error) {
	if cb == nil {
		return
	}
	l.q.Add(closure{cb: cb, err: err})
}

// Len returns the number of pending callbacks.
func (l *ClosureList) Len() int {
	return l.q.Length()
}

// Empty reports whether no callback is pending.
func (l *ClosureList) Empty() bool {
	return l.q.Length() == 0
}

// MoveTo transfers every pending callback to dst, preserving order.
func (l *ClosureList) MoveTo(dst *ClosureList) {
	for l.q.Length() > 0 {
		dst.q.Add(l.q.Remove())
	}
}

// Run pops and invokes callbacks until the list is empty, including ones
// added while running. It returns how many ran.
func (l *ClosureList) Run(ctx context.Context) int {
	n := 0
	for l.q.Length() > 0 {
		c := l.q.Remove().(closure)
		c.cb(ctx, c.err)
		n++
	}
	return n
}
