//go:build unix

package reactor

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/control"
	"github.com/momentics/hioload-poll/internal/concurrency"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(WithLogger(lagertest.NewTestLogger("reactor-internal")), WithConfig(control.DefaultConfig()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Shutdown() })
	return e
}

func newPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

func TestRefcountParity(t *testing.T) {
	e := newTestEngine(t)
	a, _ := newPair(t)
	d := e.NewDescriptor(a, "parity")

	for i := 0; i < 10; i++ {
		d.ref()
	}
	for i := 0; i < 10; i++ {
		d.unref()
		if d.IsOrphaned() {
			t.Fatal("ref/unref flipped the active bit")
		}
	}
	if got := d.refst.Load(); got != 1 {
		t.Fatalf("refst = %d, want 1", got)
	}

	// A poll reference keeps the struct alive across the orphan.
	d.ref()
	d.Orphan(nil, false, false)
	if !d.IsOrphaned() {
		t.Fatal("orphan did not clear the active bit")
	}
	if got := d.refst.Load(); got != 2 {
		t.Fatalf("refst after orphan = %d, want 2", got)
	}
	if len(e.LiveObjects()) != 1 {
		t.Fatal("descriptor released while referenced")
	}
	d.unref()
	if len(e.LiveObjects()) != 0 {
		t.Fatal("descriptor not released at zero")
	}
	if closed := e.Metrics().Counter(control.MetricFDClosed).Load(); closed != 1 {
		t.Fatalf("raw handle closed %d times", closed)
	}
}

func TestAtMostOneClaimant(t *testing.T) {
	e := newTestEngine(t)
	a, _ := newPair(t)
	d := e.NewDescriptor(a, "claim")
	p := e.NewPollset()

	var holders atomic.Int64
	var violated atomic.Bool
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := &Worker{}
			for i := 0; i < 500; i++ {
				var w watcher
				mask := d.beginPoll(p, worker, unix.POLLIN, unix.POLLOUT, &w)
				if mask != 0 {
					if holders.Inc() > 1 {
						violated.Store(true)
					}
					runtime.Gosched()
					holders.Dec()
				}
				ec := concurrency.NewExecCtx(context.Background())
				w.end(ec, false, false, nil)
				ec.Flush()
			}
		}()
	}
	wg.Wait()
	if violated.Load() {
		t.Fatal("two watchers claimed the descriptor at once")
	}
	d.mu.Lock()
	watching := d.hasWatchersLocked()
	d.mu.Unlock()
	if watching {
		t.Fatal("watchers left registered")
	}
	if got := d.refst.Load(); got != 1 {
		t.Fatalf("refst = %d, want 1", got)
	}
	d.Orphan(nil, false, false)
}

func TestInactiveWatcherUnlink(t *testing.T) {
	e := newTestEngine(t)
	a, _ := newPair(t)
	d := e.NewDescriptor(a, "arena")
	p := e.NewPollset()

	var claimer watcher
	if d.beginPoll(p, &Worker{}, unix.POLLIN, 0, &claimer) == 0 {
		t.Fatal("first watcher did not claim")
	}
	parked := make([]watcher, 4)
	for i := range parked {
		if mask := d.beginPoll(p, &Worker{}, unix.POLLIN, 0, &parked[i]); mask != 0 {
			t.Fatalf("watcher %d claimed %d", i, mask)
		}
	}
	ec := concurrency.NewExecCtx(context.Background())
	// Remove from the middle, then the rest.
	for _, i := range []int{1, 3, 0, 2} {
		parked[i].end(ec, false, false, nil)
		d.mu.Lock()
		for j, w := range d.inactive {
			if w.idx != j {
				d.mu.Unlock()
				t.Fatalf("inactive[%d] has idx %d", j, w.idx)
			}
		}
		d.mu.Unlock()
	}
	claimer.end(ec, true, false, nil)
	ec.Flush()
	if d.hasWatchersLocked() {
		t.Fatal("watchers left registered")
	}
	d.Orphan(nil, false, false)
}
