//go:build unix

package reactor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/control"
	"github.com/momentics/hioload-poll/reactor"
)

func newEngine(t *testing.T, opts ...reactor.Option) *reactor.Engine {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.CVPollPeriod = 20 * time.Millisecond
	opts = append([]reactor.Option{
		reactor.WithLogger(lagertest.NewTestLogger("reactor")),
		reactor.WithConfig(cfg),
	}, opts...)
	e, err := reactor.NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Shutdown(); err != nil {
			t.Errorf("engine shutdown: %v", err)
		}
	})
	return e
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("nonblock: %v", err)
		}
	}
	return fds[0], fds[1]
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// recorder counts callback invocations and keeps the last error.
type recorder struct {
	mu    sync.Mutex
	calls int
	err   error
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) cb(_ context.Context, err error) {
	r.mu.Lock()
	r.calls++
	r.err = err
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// workUntil runs short Work iterations until cond holds or a second passes.
func workUntil(t *testing.T, p *reactor.Pollset, cond func() bool) {
	t.Helper()
	limit := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(limit) {
			t.Fatal("condition not reached")
		}
		if err := p.Work(context.Background(), time.Now().Add(20*time.Millisecond)); err != nil {
			t.Fatalf("Work: %v", err)
		}
	}
}

func expectPanic(t *testing.T, want error, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, want) {
			t.Fatalf("panic value %v, want %v", r, want)
		}
	}()
	f()
}
