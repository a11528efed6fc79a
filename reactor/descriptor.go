//go:build unix

// File: reactor/descriptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor tracks one OS descriptor: reference state, read and write
// readiness slots, the watchers currently polling it and its close path.

package reactor

import (
	"context"
	"fmt"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"go.uber.org/atomic"
	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/api"
	"github.com/momentics/hioload-poll/internal/concurrency"
)

type slotState uint8

const (
	slotNotReady slotState = iota
	slotReady
	slotWaiting
)

// slot is the readiness state of one direction. cb is set only while waiting.
type slot struct {
	state slotState
	cb    api.Callback
}

// Descriptor is a tracked OS descriptor. Create it with Engine.NewDescriptor
// and dispose of it with Orphan or Release.
type Descriptor struct {
	engine *Engine
	name   string
	fd     int

	_ cpu.CacheLinePad
	// refst: bit 0 set while active, references counted in steps of 2.
	refst   atomic.Int64
	pollhup atomic.Bool
	_       cpu.CacheLinePad

	mu           sync.Mutex
	shutdown     bool
	shutdownErr  error
	closed       bool
	released     bool
	readSlot     slot
	writeSlot    slot
	inactive     []*watcher
	readWatcher  *watcher
	writeWatcher *watcher
	onDone       api.Callback
	readNotifier *Pollset
}

var _ api.ReadinessNotifier = (*Descriptor)(nil)

// NewDescriptor starts tracking fd. The descriptor is active with one
// reference owned by the caller.
func (e *Engine) NewDescriptor(fd int, name string) *Descriptor {
	d := &Descriptor{engine: e, name: name, fd: fd}
	d.refst.Store(1)
	e.register(d)
	e.fdCreated.Inc()
	e.logger.Debug("fd-create", lager.Data{"fd": fd, "name": name})
	return d
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s fd=%d", d.name, d.fd)
}

func (d *Descriptor) refBy(n int64) {
	if old := d.refst.Add(n) - n; old <= 0 {
		panic(api.NewUsageError("ref on released descriptor %s (refst %d)", d, old))
	}
}

func (d *Descriptor) unrefBy(n int64) {
	old := d.refst.Sub(n) + n
	switch {
	case old == n:
		d.destroy()
	case old < n:
		panic(api.NewUsageError("unref below zero on %s (refst %d)", d, old))
	}
}

func (d *Descriptor) ref()   { d.refBy(2) }
func (d *Descriptor) unref() { d.unrefBy(2) }

func (d *Descriptor) destroy() {
	d.shutdownErr = nil
	d.engine.unregister(d)
	d.engine.logger.Debug("fd-destroy", lager.Data{"fd": d.fd, "name": d.name})
}

// IsOrphaned reports whether the owner gave up the descriptor.
func (d *Descriptor) IsOrphaned() bool {
	return d.refst.Load()&1 == 0
}

// WrappedFD returns the raw descriptor, or -1 once it was closed or released.
func (d *Descriptor) WrappedFD() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.released {
		return -1
	}
	return d.fd
}

// NotifyOnReadable arms cb for the next readable edge.
func (d *Descriptor) NotifyOnReadable(cb api.Callback) {
	d.NotifyOn(context.Background(), api.Read, cb)
}

// NotifyOnWritable arms cb for the next writable edge.
func (d *Descriptor) NotifyOnWritable(cb api.Callback) {
	d.NotifyOn(context.Background(), api.Write, cb)
}

// NotifyOn arms cb for the next edge of dir. cb runs immediately if the
// direction is already ready, and with a shutdown error once the descriptor
// is shut down. Callbacks re-arming from inside a poll iteration pass the
// ctx they received so kicks aimed at their own worker are skipped.
// Arming a direction that already has a pending callback panics.
func (d *Descriptor) NotifyOn(ctx context.Context, dir api.Direction, cb api.Callback) {
	ec := concurrency.NewExecCtx(ctx)
	d.mu.Lock()
	d.notifyOnLocked(ec, dir, cb)
	d.mu.Unlock()
	ec.Flush()
}

func (d *Descriptor) slotFor(dir api.Direction) *slot {
	if dir == api.Write {
		return &d.writeSlot
	}
	return &d.readSlot
}

func (d *Descriptor) notifyOnLocked(ec *concurrency.ExecCtx, dir api.Direction, cb api.Callback) {
	st := d.slotFor(dir)
	switch {
	case d.shutdown || d.pollhup.Load():
		ec.Sched(cb, api.NewShutdownError(d.shutdownErr))
	case st.state == slotNotReady:
		st.state = slotWaiting
		st.cb = cb
	case st.state == slotReady:
		st.state = slotNotReady
		ec.Sched(cb, d.shutdownErrorLocked())
		d.maybeWakeOneWatcherLocked(ec)
	default:
		d.mu.Unlock()
		err := api.NewUsageError("%s: callback already pending for %s", d, dir)
		d.engine.logger.Error("notify-on", err)
		panic(err)
	}
}

func (d *Descriptor) shutdownErrorLocked() error {
	if !d.shutdown {
		return nil
	}
	return api.NewShutdownError(d.shutdownErr)
}

// setReadyLocked records an edge on st and reports whether a waiting
// callback was scheduled.
func (d *Descriptor) setReadyLocked(ec *concurrency.ExecCtx, st *slot) bool {
	switch st.state {
	case slotReady:
		return false
	case slotNotReady:
		st.state = slotReady
		return false
	}
	cb := st.cb
	st.cb = nil
	st.state = slotNotReady
	ec.Sched(cb, d.shutdownErrorLocked())
	return true
}

// Shutdown fails every pending and future wait with reason. Only the first
// call has an effect.
func (d *Descriptor) Shutdown(reason error) {
	ec := concurrency.NewExecCtx(context.Background())
	d.mu.Lock()
	if !d.shutdown {
		d.shutdown = true
		d.shutdownErr = reason
		// Not every descriptor is a socket; ENOTSOCK is expected.
		_ = unix.Shutdown(d.fd, unix.SHUT_RDWR)
		d.setReadyLocked(ec, &d.readSlot)
		d.setReadyLocked(ec, &d.writeSlot)
		d.engine.logger.Debug("fd-shutdown", lager.Data{"fd": d.fd, "name": d.name})
	}
	d.mu.Unlock()
	ec.Flush()
}

// IsShutdown reports whether Shutdown was called.
func (d *Descriptor) IsShutdown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown
}

// ReadNotifierPollset returns the pollset that most recently observed
// readability on d, or nil.
func (d *Descriptor) ReadNotifierPollset() *Pollset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readNotifier
}

// Orphan gives up ownership. The raw descriptor is closed as soon as no
// poll iteration references it, unless releaseFD hands it back to the
// caller (returned) or alreadyClosed says someone else closed it. onDone
// runs once that has happened.
func (d *Descriptor) Orphan(onDone api.Callback, releaseFD bool, alreadyClosed bool) int {
	ec := concurrency.NewExecCtx(context.Background())
	fd := -1
	d.mu.Lock()
	if d.IsOrphaned() {
		d.mu.Unlock()
		panic(api.NewUsageError("%s orphaned twice", d))
	}
	d.onDone = onDone
	if releaseFD {
		fd = d.fd
		d.released = true
	} else if alreadyClosed {
		d.released = true
	}
	d.refBy(1)
	if !d.hasWatchersLocked() {
		d.closeLocked(ec)
	} else {
		d.wakeAllWatchersLocked(ec)
	}
	d.mu.Unlock()
	d.unref()
	ec.Flush()
	return fd
}

// Release orphans d and returns the raw descriptor without closing it.
func (d *Descriptor) Release(onDone api.Callback) int {
	return d.Orphan(onDone, true, false)
}

func (d *Descriptor) hasWatchersLocked() bool {
	return len(d.inactive) > 0 || d.readWatcher != nil || d.writeWatcher != nil
}

func (d *Descriptor) closeLocked(ec *concurrency.ExecCtx) {
	d.closed = true
	if !d.released {
		if err := unix.Close(d.fd); err != nil {
			d.engine.logger.Error("fd-close", err, lager.Data{"fd": d.fd, "name": d.name})
		}
	}
	d.engine.fdClosed.Inc()
	ec.Sched(d.onDone, nil)
	d.onDone = nil
}

func (d *Descriptor) maybeWakeOneWatcherLocked(ec *concurrency.ExecCtx) {
	switch {
	case len(d.inactive) > 0:
		d.kickWatcher(ec, d.inactive[0])
	case d.readWatcher != nil:
		d.kickWatcher(ec, d.readWatcher)
	case d.writeWatcher != nil:
		d.kickWatcher(ec, d.writeWatcher)
	}
}

func (d *Descriptor) wakeAllWatchersLocked(ec *concurrency.ExecCtx) {
	for _, w := range d.inactive {
		d.kickWatcher(ec, w)
	}
	if d.readWatcher != nil {
		d.kickWatcher(ec, d.readWatcher)
	}
	if d.writeWatcher != nil && d.writeWatcher != d.readWatcher {
		d.kickWatcher(ec, d.writeWatcher)
	}
}

func (d *Descriptor) kickWatcher(ec *concurrency.ExecCtx, w *watcher) {
	p := w.pollset
	p.mu.Lock()
	err := p.kickLocked(ec.Context(), w.worker, kickReevaluate)
	p.mu.Unlock()
	if err != nil {
		d.engine.logger.Error("kick-watcher", err, lager.Data{"fd": d.fd})
	}
}

// beginPoll registers w as polling d on behalf of worker and returns the
// events poll(2) should watch. A direction is claimed only when it is not
// already ready and no other watcher holds it.
func (d *Descriptor) beginPoll(p *Pollset, worker *Worker, readMask, writeMask int16, w *watcher) int16 {
	d.ref()
	d.mu.Lock()
	if d.shutdown {
		w.fd = nil
		w.pollset = nil
		w.worker = nil
		w.idx = -1
		d.mu.Unlock()
		d.unref()
		return 0
	}
	var mask int16
	if readMask != 0 && d.readWatcher == nil && d.readSlot.state != slotReady {
		d.readWatcher = w
		mask |= readMask
	}
	if writeMask != 0 && d.writeWatcher == nil && d.writeSlot.state != slotReady {
		d.writeWatcher = w
		mask |= writeMask
	}
	w.idx = -1
	if mask == 0 && worker != nil {
		w.idx = len(d.inactive)
		d.inactive = append(d.inactive, w)
	}
	w.pollset = p
	w.worker = worker
	w.fd = d
	d.mu.Unlock()
	return mask
}

// endPoll unregisters w and records the edges observed by its poll.
func (d *Descriptor) endPoll(ec *concurrency.ExecCtx, w *watcher, gotRead, gotWrite bool, notifier *Pollset) {
	d.mu.Lock()
	wasPolling, kick := false, false
	if w == d.readWatcher {
		wasPolling = true
		kick = kick || !gotRead
		d.readWatcher = nil
	}
	if w == d.writeWatcher {
		wasPolling = true
		kick = kick || !gotWrite
		d.writeWatcher = nil
	}
	if !wasPolling && w.idx >= 0 {
		d.unlinkInactiveLocked(w)
	}
	if gotRead {
		if d.setReadyLocked(ec, &d.readSlot) {
			kick = true
		}
		if notifier != nil {
			d.readNotifier = notifier
		}
	}
	if gotWrite && d.setReadyLocked(ec, &d.writeSlot) {
		kick = true
	}
	if kick {
		d.maybeWakeOneWatcherLocked(ec)
	}
	if d.IsOrphaned() && !d.hasWatchersLocked() && !d.closed {
		d.closeLocked(ec)
	}
	d.mu.Unlock()
	d.unref()
}

func (d *Descriptor) unlinkInactiveLocked(w *watcher) {
	i, last := w.idx, len(d.inactive)-1
	d.inactive[i] = d.inactive[last]
	d.inactive[i].idx = i
	d.inactive[last] = nil
	d.inactive = d.inactive[:last]
	w.idx = -1
}
