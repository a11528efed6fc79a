// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"

	"go.uber.org/atomic"
)

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage and counts allocations made
// by the creator.
type SyncPool[T any] struct {
	pool    *sync.Pool
	created atomic.Int64
}

var _ ObjectPool[int] = (*SyncPool[int])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	sp := &SyncPool[T]{}
	sp.pool = &sync.Pool{New: func() any {
		sp.created.Inc()
		return creator()
	}}
	return sp
}

// Get returns a pooled object or a new one.
func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

// Put returns obj for reuse. The caller must not touch it afterwards.
func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// Created reports how many objects the creator allocated.
func (sp *SyncPool[T]) Created() int64 {
	return sp.created.Load()
}
