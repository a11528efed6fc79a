//go:build unix

// File: reactor/pollset_set.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"context"
	"sync"

	"github.com/momentics/hioload-poll/api"
	"github.com/momentics/hioload-poll/internal/concurrency"
)

// PollsetSet is a bag of pollsets, nested sets and descriptors. Every
// descriptor added to the bag is propagated to every pollset and nested set
// in it, including ones added later. Orphaned descriptors are pruned lazily.
type PollsetSet struct {
	engine *Engine

	mu       sync.Mutex
	pollsets []*Pollset
	sets     []*PollsetSet
	fds      []*Descriptor
}

// NewPollsetSet returns an empty set.
func (e *Engine) NewPollsetSet() *PollsetSet {
	return &PollsetSet{engine: e}
}

// pruneLocked drops orphaned descriptors and calls add for the others.
func (s *PollsetSet) pruneLocked(add func(*Descriptor)) {
	live := s.fds[:0]
	for _, d := range s.fds {
		if d.IsOrphaned() {
			d.unref()
			continue
		}
		add(d)
		live = append(live, d)
	}
	clear(s.fds[len(live):])
	s.fds = live
}

// AddPollset makes p observe the set.
func (s *PollsetSet) AddPollset(p *Pollset) {
	p.mu.Lock()
	p.setCount++
	p.mu.Unlock()
	s.mu.Lock()
	s.pollsets = append(s.pollsets, p)
	s.pruneLocked(p.AddDescriptor)
	s.mu.Unlock()
}

// DelPollset removes p. A shutdown of p waiting for its last observer
// completes here.
func (s *PollsetSet) DelPollset(p *Pollset) {
	s.mu.Lock()
	n := len(s.pollsets)
	s.pollsets = swapRemove(s.pollsets, p)
	removed := len(s.pollsets) < n
	s.mu.Unlock()
	if removed {
		s.releasePollset(p)
	}
}

func (s *PollsetSet) releasePollset(p *Pollset) {
	ec := concurrency.NewExecCtx(context.Background())
	p.mu.Lock()
	p.setCount--
	p.checkShutdownLocked(ec)
	p.mu.Unlock()
	ec.Flush()
}

// AddPollsetSet nests item under s.
func (s *PollsetSet) AddPollsetSet(item *PollsetSet) {
	if item == s {
		panic(api.NewUsageError("pollset set added to itself"))
	}
	s.mu.Lock()
	s.sets = append(s.sets, item)
	s.pruneLocked(item.AddDescriptor)
	s.mu.Unlock()
}

// DelPollsetSet removes a nested set.
func (s *PollsetSet) DelPollsetSet(item *PollsetSet) {
	s.mu.Lock()
	s.sets = swapRemove(s.sets, item)
	s.mu.Unlock()
}

// AddDescriptor adds d to s and to everything reachable from it.
func (s *PollsetSet) AddDescriptor(d *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ref()
	s.fds = append(s.fds, d)
	for _, p := range s.pollsets {
		p.AddDescriptor(d)
	}
	for _, child := range s.sets {
		child.AddDescriptor(d)
	}
}

// DelDescriptor removes d from s and from nested sets. Pollsets keep it
// until it is orphaned.
func (s *PollsetSet) DelDescriptor(d *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.fds {
		if have == d {
			last := len(s.fds) - 1
			s.fds[i] = s.fds[last]
			s.fds[last] = nil
			s.fds = s.fds[:last]
			d.unref()
			break
		}
	}
	for _, child := range s.sets {
		child.DelDescriptor(d)
	}
}

// Destroy drops the set's descriptor references and stops observing its
// pollsets.
func (s *PollsetSet) Destroy() {
	s.mu.Lock()
	fds, pollsets := s.fds, s.pollsets
	s.fds, s.pollsets, s.sets = nil, nil, nil
	s.mu.Unlock()
	for _, d := range fds {
		d.unref()
	}
	for _, p := range pollsets {
		s.releasePollset(p)
	}
}

func swapRemove[T comparable](items []T, item T) []T {
	var zero T
	for i, have := range items {
		if have == item {
			last := len(items) - 1
			items[i] = items[last]
			items[last] = zero
			return items[:last]
		}
	}
	return items
}
