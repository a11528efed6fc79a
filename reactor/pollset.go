//go:build unix

// File: reactor/pollset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pollset is a group of descriptors polled together by any number of
// worker goroutines, each blocked in its own poll(2) that also watches a
// private wakeup signal.

package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/api"
	"github.com/momentics/hioload-poll/internal/concurrency"
	"github.com/momentics/hioload-poll/internal/wakeup"
)

const (
	pollinCheck  = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	polloutCheck = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

const (
	kickReevaluate = 1 << iota
	kickCanKickSelf
)

// Pollset groups descriptors for polling. Create it with Engine.NewPollset.
type Pollset struct {
	engine *Engine
	logger lager.Logger

	mu                   sync.Mutex
	root                 Worker
	fds                  []*Descriptor
	shuttingDown         bool
	calledShutdown       bool
	kickedWithoutPollers bool
	shutdownDone         api.Callback
	idleJobs             *concurrency.ClosureList
	setCount             int
	wakeupCache          []wakeup.Signal
}

var _ api.Poller = (*Pollset)(nil)

// NewPollset returns an empty pollset.
func (e *Engine) NewPollset() *Pollset {
	p := &Pollset{
		engine:   e,
		logger:   e.logger.Session("pollset"),
		idleJobs: concurrency.NewClosureList(),
	}
	p.root.next = &p.root
	p.root.prev = &p.root
	return p
}

func (p *Pollset) hasObserversLocked() bool {
	return p.hasWorkersLocked() || p.setCount > 0
}

// AddDescriptor adds d to the pollset and kicks a worker so it starts
// polling it. Adding a descriptor twice is a no-op.
func (p *Pollset) AddDescriptor(d *Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.fds {
		if have == d {
			return
		}
	}
	p.fds = append(p.fds, d)
	d.ref()
	if err := p.kickLocked(context.Background(), nil, 0); err != nil {
		p.logger.Error("add-fd-kick", err, lager.Data{"fd": d.fd})
	}
}

// AddIdleJob queues cb to run when the pollset next has no workers.
func (p *Pollset) AddIdleJob(cb api.Callback) {
	p.mu.Lock()
	p.idleJobs.Add(cb, nil)
	p.mu.Unlock()
}

// Kick wakes a worker blocked in Work: target itself, every worker when
// target is KickBroadcast, or any worker other than the caller's own when
// target is nil. When nothing is polling the next Work returns without
// blocking.
func (p *Pollset) Kick(ctx context.Context, target *Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kickLocked(ctx, target, 0)
}

func wakeSignal(w *Worker) error {
	if w.signal == nil {
		return nil
	}
	return w.signal.Wakeup()
}

func (p *Pollset) kickLocked(ctx context.Context, target *Worker, flags int) error {
	p.engine.kicks.Inc()
	self := identity(ctx).worker
	var failure *api.Error
	switch {
	case target == KickBroadcast:
		if flags&kickReevaluate != 0 {
			panic(api.NewUsageError("broadcast kick cannot request reevaluation"))
		}
		for w := p.root.next; w != &p.root; w = w.next {
			api.AppendChild(&failure, "Kick Failure", wakeSignal(w))
		}
		p.kickedWithoutPollers = true
	case target != nil:
		if target == self && flags&kickCanKickSelf == 0 {
			break
		}
		if flags&kickReevaluate != 0 {
			target.reevaluate = true
		}
		target.kickedSpecifically = true
		api.AppendChild(&failure, "Kick Failure", wakeSignal(target))
	default:
		if flags&kickReevaluate != 0 {
			panic(api.NewUsageError("anonymous kick cannot request reevaluation"))
		}
		w := p.popFrontWorkerLocked()
		if w == nil {
			p.kickedWithoutPollers = true
			break
		}
		if w == self {
			p.pushBackWorkerLocked(w)
			w = p.popFrontWorkerLocked()
			if flags&kickCanKickSelf == 0 && w == self {
				p.pushBackWorkerLocked(w)
				w = nil
			}
		}
		if w != nil {
			p.pushBackWorkerLocked(w)
			api.AppendChild(&failure, "Kick Failure", wakeSignal(w))
		}
	}
	return api.AsError(failure)
}

// Work polls the pollset once until readiness, a kick or deadline.
func (p *Pollset) Work(ctx context.Context, deadline time.Time) error {
	return p.WorkWithHandle(ctx, deadline, nil)
}

// WorkWithHandle is Work that first hands the worker to onWorker so other
// goroutines can target it with Kick. Callbacks made ready by the poll run
// on the calling goroutine before it returns, with no lock held.
// Poll failures are returned as a composite error; they are not fatal.
func (p *Pollset) WorkWithHandle(ctx context.Context, deadline time.Time, onWorker func(*Worker)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w := &Worker{}
	p.engine.works.Inc()
	var failure *api.Error

	p.mu.Lock()
	sig, err := p.takeSignalLocked()
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("wakeup-init", err)
		return api.OSError(err, "wakeup init")
	}
	w.signal = sig
	if onWorker != nil {
		// A kick landing before the poll leaves the signal readable.
		p.mu.Unlock()
		onWorker(w)
		p.mu.Lock()
	}
	ec := concurrency.NewExecCtx(withPoller(ctx, p, nil))

	switch {
	case !p.hasWorkersLocked() && !p.idleJobs.Empty():
		ec.SchedList(p.idleJobs)
	case p.shuttingDown:
	default:
		added, queued := false, false
		for keepPolling := true; keepPolling; {
			keepPolling = false
			if p.kickedWithoutPollers {
				p.kickedWithoutPollers = false
			} else {
				if !added {
					p.pushFrontWorkerLocked(w)
					added = true
					ec = concurrency.NewExecCtx(withPoller(ctx, p, w))
				}
				for _, err := range p.pollOnceLocked(ec, w, deadline) {
					api.AppendChild(&failure, "pollset_work", err)
				}
				queued = ec.Flush() || queued
				p.mu.Lock()
			}
			if w.reevaluate && failure == nil {
				w.reevaluate = false
				p.kickedWithoutPollers = false
				if queued || w.kickedSpecifically {
					deadline = immediate
				}
				keepPolling = true
			}
		}
		if added {
			p.removeWorkerLocked(w)
		}
	}
	p.wakeupCache = append(p.wakeupCache, w.signal)
	w.signal = nil

	if p.shuttingDown {
		switch {
		case p.hasWorkersLocked():
			if err := p.kickLocked(context.Background(), nil, 0); err != nil {
				p.logger.Error("shutdown-kick", err)
			}
		case !p.calledShutdown && !p.hasObserversLocked():
			p.calledShutdown = true
			ec.SchedList(p.idleJobs)
			p.finishShutdownLocked(ec)
		case !p.idleJobs.Empty():
			ec.SchedList(p.idleJobs)
		}
	}
	p.mu.Unlock()
	ec.Flush()
	if failure != nil {
		p.logger.Error("work", failure)
	}
	return api.AsError(failure)
}

func (p *Pollset) takeSignalLocked() (wakeup.Signal, error) {
	if n := len(p.wakeupCache); n > 0 {
		sig := p.wakeupCache[n-1]
		p.wakeupCache[n-1] = nil
		p.wakeupCache = p.wakeupCache[:n-1]
		return sig, nil
	}
	return p.engine.newSignal()
}

// pollOnceLocked runs one poll(2) for w. It is entered with p.mu held and
// returns with it released.
func (p *Pollset) pollOnceLocked(ec *concurrency.ExecCtx, w *Worker, deadline time.Time) []error {
	live := p.fds[:0]
	for _, d := range p.fds {
		if d.IsOrphaned() || d.pollhup.Load() {
			d.unref()
			continue
		}
		live = append(live, d)
	}
	clear(p.fds[len(live):])
	p.fds = live

	s := p.engine.scratch.Get()
	s.reset(len(live) + 1)
	s.pfds[0] = unix.PollFd{Fd: int32(w.signal.ReadFD()), Events: unix.POLLIN}
	for i, d := range live {
		d.ref()
		s.descs[i+1] = d
		s.pfds[i+1].Fd = int32(d.fd)
	}
	p.mu.Unlock()

	for i := 1; i < len(s.pfds); i++ {
		d := s.descs[i]
		s.pfds[i].Events = d.beginPoll(p, w, unix.POLLIN, unix.POLLOUT, &s.watchers[i])
		d.unref()
	}

	timeout := DeadlineToMillis(deadline, time.Now())
	p.logger.Debug("poll", lager.Data{"fds": len(s.pfds), "timeout_ms": timeout})
	p.engine.polls.Inc()
	r, err := p.engine.poll(s.pfds, timeout)
	for errors.Is(err, unix.EINTR) {
		timeout = DeadlineToMillis(deadline, time.Now())
		r, err = p.engine.poll(s.pfds, timeout)
	}

	var errs []error
	switch {
	case err != nil:
		errs = append(errs, api.OSError(err, "poll").
			WithContext("fds", len(s.pfds)).
			WithContext("timeout_ms", timeout))
		for i := 1; i < len(s.pfds); i++ {
			s.watchers[i].end(ec, true, true, nil)
		}
	case r == 0:
		for i := 1; i < len(s.pfds); i++ {
			s.watchers[i].end(ec, false, false, nil)
		}
	default:
		if s.pfds[0].Revents&pollinCheck != 0 {
			p.logger.Debug("got-wakeup")
			p.engine.consumed.Inc()
			if err := w.signal.Consume(); err != nil {
				errs = append(errs, api.OSError(err, "wakeup consume"))
			}
		}
		for i := 1; i < len(s.pfds); i++ {
			rev := s.pfds[i].Revents
			if rev&unix.POLLHUP != 0 {
				s.descs[i].pollhup.Store(true)
			}
			if rev != 0 {
				p.logger.Debug("got-event", lager.Data{"fd": s.pfds[i].Fd, "revents": rev})
			}
			s.watchers[i].end(ec, rev&pollinCheck != 0, rev&polloutCheck != 0, p)
		}
	}
	s.release()
	p.engine.scratch.Put(s)
	return errs
}

// Shutdown stops the pollset: every worker is kicked, queued idle jobs run
// and onDone is scheduled once no worker or pollset set observes it.
// Calling Shutdown twice panics.
func (p *Pollset) Shutdown(onDone api.Callback) {
	ec := concurrency.NewExecCtx(context.Background())
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		panic(api.NewUsageError("pollset shut down twice"))
	}
	p.shuttingDown = true
	p.shutdownDone = onDone
	if err := p.kickLocked(ec.Context(), KickBroadcast, 0); err != nil {
		p.logger.Error("shutdown-kick", err)
	}
	if !p.hasWorkersLocked() {
		ec.SchedList(p.idleJobs)
	}
	if !p.calledShutdown && !p.hasObserversLocked() {
		p.calledShutdown = true
		p.finishShutdownLocked(ec)
	}
	p.mu.Unlock()
	ec.Flush()
}

// checkShutdownLocked finishes a pending shutdown once the last observer
// went away.
func (p *Pollset) checkShutdownLocked(ec *concurrency.ExecCtx) {
	if p.shuttingDown && !p.calledShutdown && !p.hasObserversLocked() {
		p.calledShutdown = true
		p.finishShutdownLocked(ec)
	}
}

func (p *Pollset) finishShutdownLocked(ec *concurrency.ExecCtx) {
	for _, d := range p.fds {
		d.unref()
	}
	clear(p.fds)
	p.fds = nil
	ec.Sched(p.shutdownDone, nil)
	p.shutdownDone = nil
	p.logger.Debug("shutdown-finished")
}

// Destroy releases cached wakeup signals. The pollset must have no workers
// and no queued idle jobs.
func (p *Pollset) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasWorkersLocked() {
		panic(api.NewUsageError("pollset destroyed with active workers"))
	}
	if !p.idleJobs.Empty() {
		panic(api.NewUsageError("pollset destroyed with pending idle jobs"))
	}
	for _, sig := range p.wakeupCache {
		if err := sig.Close(); err != nil {
			p.logger.Error("wakeup-close", err)
		}
	}
	p.wakeupCache = nil
}
