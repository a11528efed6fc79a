//go:build linux

package reactor_test

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/api"
)

func TestHangupFailsLaterWaitsAndPrunes(t *testing.T) {
	e := newEngine(t)
	p := e.NewPollset()
	a, b := socketPair(t)
	d := e.NewDescriptor(a, "hangup")
	p.AddDescriptor(d)

	rec := newRecorder()
	d.NotifyOnReadable(rec.cb)
	if err := unix.Close(b); err != nil {
		t.Fatalf("close peer: %v", err)
	}
	workUntil(t, p, func() bool { return rec.count() == 1 })
	if err := rec.lastErr(); err != nil {
		t.Fatalf("hangup edge delivered error: %v", err)
	}

	d.NotifyOnReadable(rec.cb)
	if n := rec.count(); n != 2 {
		t.Fatalf("wait after hangup fired %d times, want 2", n)
	}
	if err := rec.lastErr(); !errors.Is(err, api.ErrDescriptorShutdown) {
		t.Fatalf("wait after hangup: %v, want fd shutdown", err)
	}

	workUntil(t, p, func() bool { return !p.HasDescriptor(d) })

	d.Orphan(nil, false, false)
	p.Shutdown(nil)
	p.Destroy()
	if live := e.LiveObjects(); len(live) != 0 {
		t.Fatalf("live objects after teardown: %v", live)
	}
}
