//go:build unix

package reactor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/api"
	"github.com/momentics/hioload-poll/internal/wakeup"
	"github.com/momentics/hioload-poll/reactor"
)

// brokenPoll hands out pipe signals but fails every poll(2).
type brokenPoll struct {
	wakeup.Provider
}

func (brokenPoll) Poll([]unix.PollFd, int) (int, error) { return -1, unix.EBADF }

func TestPollFailureWakesClaimedDescriptors(t *testing.T) {
	e := newEngine(t, reactor.WithWakeupProvider(brokenPoll{wakeup.PipeProvider()}))
	p := e.NewPollset()
	a, b := socketPair(t)
	defer unix.Close(b)
	d := e.NewDescriptor(a, "poll-failure")
	p.AddDescriptor(d)

	readable, writable := newRecorder(), newRecorder()
	d.NotifyOnReadable(readable.cb)
	d.NotifyOnWritable(writable.cb)

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = p.Work(context.Background(), time.Now().Add(20*time.Millisecond))
	}
	if !errors.Is(err, api.ErrSyscallFailure) {
		t.Fatalf("Work: %v, want syscall failure", err)
	}
	if !errors.Is(err, unix.EBADF) {
		t.Fatalf("Work: %v, want the poll errno", err)
	}
	if readable.count() != 1 || writable.count() != 1 {
		t.Fatalf("claimed waits fired read=%d write=%d, want 1 each",
			readable.count(), writable.count())
	}

	d.Orphan(nil, false, false)
	p.Shutdown(nil)
	p.Destroy()
}
