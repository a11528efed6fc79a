//go:build unix

// File: reactor/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/internal/concurrency"
	"github.com/momentics/hioload-poll/internal/wakeup"
)

// Worker is one goroutine's participation in Pollset.Work. It is only valid
// while that call is in progress; kicking it afterwards is harmless.
type Worker struct {
	signal             wakeup.Signal
	reevaluate         bool
	kickedSpecifically bool
	next, prev         *Worker
}

// KickBroadcast targets every worker of a pollset in Pollset.Kick.
var KickBroadcast = &Worker{}

// watcher is one poll iteration's interest in one descriptor, from
// beginPoll to endPoll.
type watcher struct {
	fd      *Descriptor
	pollset *Pollset
	worker  *Worker
	// idx is the position in fd.inactive, -1 when not parked there.
	idx int
}

// pollScratch holds the per-iteration arrays handed to poll(2).
type pollScratch struct {
	pfds     []unix.PollFd
	watchers []watcher
	descs    []*Descriptor
}

func (s *pollScratch) reset(n int) {
	if cap(s.pfds) < n {
		s.pfds = make([]unix.PollFd, n)
		s.watchers = make([]watcher, n)
		s.descs = make([]*Descriptor, n)
	}
	s.pfds = s.pfds[:n]
	s.watchers = s.watchers[:n]
	s.descs = s.descs[:n]
	for i := range s.pfds {
		s.pfds[i] = unix.PollFd{}
		s.watchers[i] = watcher{idx: -1}
		s.descs[i] = nil
	}
}

func (s *pollScratch) release() {
	for i := range s.watchers {
		s.watchers[i] = watcher{}
		s.descs[i] = nil
	}
}

func (w *watcher) end(ec *concurrency.ExecCtx, gotRead, gotWrite bool, notifier *Pollset) {
	if w.fd != nil {
		w.fd.endPoll(ec, w, gotRead, gotWrite, notifier)
	}
}

// Worker ring, a circular list through the pollset's root sentinel.

func (p *Pollset) hasWorkersLocked() bool {
	return p.root.next != &p.root
}

func (p *Pollset) removeWorkerLocked(w *Worker) {
	w.prev.next = w.next
	w.next.prev = w.prev
	w.next, w.prev = nil, nil
}

func (p *Pollset) popFrontWorkerLocked() *Worker {
	if !p.hasWorkersLocked() {
		return nil
	}
	w := p.root.next
	p.removeWorkerLocked(w)
	return w
}

func (p *Pollset) pushBackWorkerLocked(w *Worker) {
	w.next = &p.root
	w.prev = p.root.prev
	w.prev.next = w
	w.next.prev = w
}

func (p *Pollset) pushFrontWorkerLocked(w *Worker) {
	w.prev = &p.root
	w.next = p.root.next
	w.prev.next = w
	w.next.prev = w
}
