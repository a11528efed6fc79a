//go:build unix

// File: internal/wakeup/cv.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Condition-variable emulation of wakeup descriptors. Signals are small
// negative integers resolved against a table; Poll answers them from the
// table and hands real descriptors to a background poller goroutine that
// loops poll(2) with a bounded period and publishes its result by closing
// a channel.

package wakeup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/internal/concurrency"
)

const (
	defaultCVPollPeriod  = time.Second
	defaultCVShutdownMax = 3 * time.Second
	defaultCVTableSize   = 16
)

// CVOptions tunes the emulation.
type CVOptions struct {
	// PollPeriod bounds each background poll(2) so abandoned pollers exit.
	PollPeriod time.Duration
	// ShutdownGrace bounds how long Close waits for background pollers.
	ShutdownGrace time.Duration
	// RealPoll is the poll strategy used by background pollers.
	RealPoll PollFunc
}

// ErrPollersOutstanding is returned by CVTable.Close when background pollers
// did not exit within the grace period.
var ErrPollersOutstanding = errors.New("cv wakeup: background pollers still running")

func fdToIdx(fd int) int  { return -(fd + 1) }
func idxToFd(idx int) int { return -idx - 1 }

// cvWaiter is one foreground poll call parked on the table.
type cvWaiter struct {
	ch chan struct{}
}

func (w *cvWaiter) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

type cvSlot struct {
	inUse   bool
	isSet   bool
	waiters map[*cvWaiter]struct{}
}

// bgPoller owns one real poll(2) loop. Identical concurrent requests share it.
type bgPoller struct {
	key       string
	fds       []unix.PollFd
	done      chan struct{}
	watchers  int
	completed bool
	retval    int
	err       error
}

// CVTable is the process-wide state of the emulation, owned by one engine.
type CVTable struct {
	mu       sync.Mutex
	slots    []cvSlot
	free     []int
	pollers  map[string]*bgPoller
	closing  bool
	drainedC bool
	drained  chan struct{}
	active   atomic.Int64
	opts     CVOptions
	logger   lager.Logger
	realPoll PollFunc
}

// NewCVTable initializes an emulation table.
func NewCVTable(opts CVOptions, logger lager.Logger) *CVTable {
	if opts.PollPeriod <= 0 {
		opts.PollPeriod = defaultCVPollPeriod
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultCVShutdownMax
	}
	if opts.RealPoll == nil {
		opts.RealPoll = SysPoll
	}
	t := &CVTable{
		pollers:  make(map[string]*bgPoller),
		drained:  make(chan struct{}),
		opts:     opts,
		logger:   logger.Session("cv-wakeup"),
		realPoll: opts.RealPoll,
	}
	t.growLocked(defaultCVTableSize)
	return t
}

func (t *CVTable) growLocked(n int) {
	base := len(t.slots)
	for i := 0; i < n; i++ {
		t.slots = append(t.slots, cvSlot{})
	}
	for i := base + n - 1; i >= base; i-- {
		t.free = append(t.free, i)
	}
}

// Name implements Provider.
func (t *CVTable) Name() string { return "cv" }

// Available implements Provider; the emulation needs no OS support.
func (t *CVTable) Available() bool { return true }

// New allocates a table slot and returns its signal.
func (t *CVTable) New() (Signal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		t.growLocked(len(t.slots))
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.slots[idx] = cvSlot{inUse: true, waiters: make(map[*cvWaiter]struct{})}
	return &cvSignal{t: t, fd: idxToFd(idx)}, nil
}

// ActivePollers returns the number of running background pollers.
func (t *CVTable) ActivePollers() int64 {
	return t.active.Load()
}

type cvSignal struct {
	t  *CVTable
	fd int
}

func (s *cvSignal) ReadFD() int { return s.fd }

func (s *cvSignal) Wakeup() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	slot := &s.t.slots[fdToIdx(s.fd)]
	if !slot.isSet {
		slot.isSet = true
		for w := range slot.waiters {
			w.signal()
		}
	}
	return nil
}

func (s *cvSignal) Consume() error {
	s.t.mu.Lock()
	s.t.slots[fdToIdx(s.fd)].isSet = false
	s.t.mu.Unlock()
	return nil
}

func (s *cvSignal) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	idx := fdToIdx(s.fd)
	if !s.t.slots[idx].inUse {
		return nil
	}
	s.t.slots[idx] = cvSlot{}
	s.t.free = append(s.t.free, idx)
	return nil
}

func (t *CVTable) slotLocked(fd int) *cvSlot {
	idx := fdToIdx(fd)
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].inUse {
		return nil
	}
	return &t.slots[idx]
}

// Poll implements PollProvider. Negative descriptors polled for POLLIN are
// answered from the table; the rest go to a background poller. The caller
// waits on its own deadline.
func (t *CVTable) Poll(fds []unix.PollFd, timeoutMs int) (int, error) {
	w := &cvWaiter{ch: make(chan struct{}, 1)}
	skip := false
	nsock := 0

	t.mu.Lock()
	for i := range fds {
		fds[i].Revents = 0
		switch {
		case fds[i].Fd < 0 && fds[i].Events&unix.POLLIN != 0:
			if slot := t.slotLocked(int(fds[i].Fd)); slot != nil {
				slot.waiters[w] = struct{}{}
				if slot.isSet {
					skip = true
				}
			}
		case fds[i].Fd >= 0:
			nsock++
		}
	}

	var timer <-chan time.Time
	if !skip && timeoutMs >= 0 {
		tm := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer tm.Stop()
		timer = tm.C
	}

	res := 0
	var err error
	var bp *bgPoller
	if !skip && nsock > 0 {
		sock := make([]unix.PollFd, 0, nsock)
		for i := range fds {
			if fds[i].Fd >= 0 {
				sock = append(sock, unix.PollFd{Fd: fds[i].Fd, Events: fds[i].Events})
			}
		}
		bp = t.pollerLocked(sock)
		bp.watchers++
		t.mu.Unlock()
		select {
		case <-bp.done:
		case <-w.ch:
		case <-timer:
		}
		t.mu.Lock()
		bp.watchers--
		if bp.completed {
			res, err = bp.retval, bp.err
		}
	} else if !skip {
		t.mu.Unlock()
		select {
		case <-w.ch:
		case <-timer:
		}
		t.mu.Lock()
	}

	idx := 0
	for i := range fds {
		switch {
		case fds[i].Fd < 0 && fds[i].Events&unix.POLLIN != 0:
			slot := t.slotLocked(int(fds[i].Fd))
			if slot == nil {
				continue
			}
			delete(slot.waiters, w)
			if slot.isSet {
				fds[i].Revents = unix.POLLIN
				if res >= 0 {
					res++
				}
			}
		case fds[i].Fd >= 0:
			if bp != nil && bp.completed {
				fds[i].Revents = bp.fds[idx].Revents
			}
			idx++
		}
	}
	t.mu.Unlock()
	return res, err
}

func pollKey(fds []unix.PollFd) string {
	buf := make([]byte, 6*len(fds))
	for i, pfd := range fds {
		binary.LittleEndian.PutUint32(buf[i*6:], uint32(pfd.Fd))
		binary.LittleEndian.PutUint16(buf[i*6+4:], uint16(pfd.Events))
	}
	return string(buf)
}

func (t *CVTable) pollerLocked(fds []unix.PollFd) *bgPoller {
	key := pollKey(fds)
	if p, ok := t.pollers[key]; ok && !p.completed {
		return p
	}
	p := &bgPoller{key: key, fds: fds, done: make(chan struct{})}
	t.pollers[key] = p
	t.active.Inc()
	concurrency.Go(func() { t.runPoll(p) })
	return p
}

func (t *CVTable) runPoll(p *bgPoller) {
	period := int(t.opts.PollPeriod / time.Millisecond)
	defer t.pollerExited()
	for {
		n, err := t.realPoll(p.fds, period)
		if errors.Is(err, unix.EINTR) {
			n, err = 0, nil
		}
		t.mu.Lock()
		if n != 0 || err != nil {
			p.completed = true
			p.retval, p.err = n, err
			close(p.done)
		}
		if p.watchers == 0 || p.completed {
			if t.pollers[p.key] == p {
				delete(t.pollers, p.key)
			}
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

func (t *CVTable) pollerExited() {
	t.mu.Lock()
	if t.active.Dec() == 0 && t.closing && !t.drainedC {
		t.drainedC = true
		close(t.drained)
	}
	t.mu.Unlock()
}

// Close waits, bounded by ShutdownGrace, for background pollers to exit.
func (t *CVTable) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	if t.active.Load() == 0 {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	select {
	case <-t.drained:
		return nil
	case <-time.After(t.opts.ShutdownGrace):
		err := fmt.Errorf("%w: %d", ErrPollersOutstanding, t.active.Load())
		t.logger.Error("close", err)
		return err
	}
}
