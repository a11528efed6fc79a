//go:build unix

package wakeup_test

import (
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/internal/wakeup"
)

func newCVTable(t *testing.T, opts wakeup.CVOptions) *wakeup.CVTable {
	t.Helper()
	if opts.PollPeriod == 0 {
		opts.PollPeriod = 20 * time.Millisecond
	}
	return wakeup.NewCVTable(opts, lagertest.NewTestLogger("cv"))
}

func TestCVSignalsUseNegativeDescriptors(t *testing.T) {
	table := newCVTable(t, wakeup.CVOptions{})
	defer table.Close()
	seen := map[int]bool{}
	var sigs []wakeup.Signal
	// More than the initial table size forces growth.
	for i := 0; i < 40; i++ {
		s, err := table.New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.ReadFD() >= 0 || seen[s.ReadFD()] {
			t.Fatalf("bad emulated descriptor %d", s.ReadFD())
		}
		seen[s.ReadFD()] = true
		sigs = append(sigs, s)
	}
	freed := sigs[7].ReadFD()
	sigs[7].Close()
	s, _ := table.New()
	if s.ReadFD() != freed {
		t.Fatalf("slot not reused: got %d, want %d", s.ReadFD(), freed)
	}
}

func TestCVPollWokenBySignal(t *testing.T) {
	table := newCVTable(t, wakeup.CVOptions{})
	defer table.Close()
	s, _ := table.New()

	result := make(chan []unix.PollFd, 1)
	go func() {
		fds := []unix.PollFd{{Fd: int32(s.ReadFD()), Events: unix.POLLIN}}
		n, err := table.Poll(fds, -1)
		if n != 1 || err != nil {
			t.Errorf("Poll = %d, %v", n, err)
		}
		result <- fds
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Wakeup(); err != nil {
		t.Fatalf("Wakeup: %v", err)
	}
	select {
	case fds := <-result:
		if fds[0].Revents&unix.POLLIN == 0 {
			t.Fatal("POLLIN not reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Poll not woken")
	}

	// Still set: an immediate poll reports it, consuming clears it.
	fds := []unix.PollFd{{Fd: int32(s.ReadFD()), Events: unix.POLLIN}}
	if n, _ := table.Poll(fds, 0); n != 1 {
		t.Fatalf("Poll on set signal = %d", n)
	}
	s.Consume()
	if n, _ := table.Poll(fds, 0); n != 0 {
		t.Fatalf("Poll after Consume = %d", n)
	}
}

func TestCVPollTimesOut(t *testing.T) {
	table := newCVTable(t, wakeup.CVOptions{})
	defer table.Close()
	s, _ := table.New()
	start := time.Now()
	fds := []unix.PollFd{{Fd: int32(s.ReadFD()), Events: unix.POLLIN}}
	n, err := table.Poll(fds, 30)
	if n != 0 || err != nil {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("returned after %v", elapsed)
	}
}

func TestCVPollRealDescriptor(t *testing.T) {
	table := newCVTable(t, wakeup.CVOptions{})
	s, _ := table.New()
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(pair[0])
	defer unix.Close(pair[1])
	if _, err := unix.Write(pair[1], []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	fds := []unix.PollFd{
		{Fd: int32(s.ReadFD()), Events: unix.POLLIN},
		{Fd: int32(pair[0]), Events: unix.POLLIN},
	}
	n, err := table.Poll(fds, 1000)
	if err != nil || n != 1 {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	if fds[1].Revents&unix.POLLIN == 0 || fds[0].Revents != 0 {
		t.Fatalf("revents = %v", fds)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCVCloseBoundedByGrace(t *testing.T) {
	release := make(chan struct{})
	table := newCVTable(t, wakeup.CVOptions{
		ShutdownGrace: 50 * time.Millisecond,
		RealPoll: func([]unix.PollFd, int) (int, error) {
			<-release
			return 0, nil
		},
	})
	fds := []unix.PollFd{{Fd: 0, Events: unix.POLLIN}}
	if n, err := table.Poll(fds, 10); n != 0 || err != nil {
		t.Fatalf("Poll = %d, %v", n, err)
	}
	if table.ActivePollers() != 1 {
		t.Fatalf("ActivePollers = %d", table.ActivePollers())
	}
	err := table.Close()
	if !errors.Is(err, wakeup.ErrPollersOutstanding) {
		t.Fatalf("Close = %v, want ErrPollersOutstanding", err)
	}
	close(release)
	deadline := time.Now().Add(time.Second)
	for table.ActivePollers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background poller did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
