//go:build unix

// File: internal/wakeup/pipe_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking pipe backend, the portable fallback.

package wakeup

import (
	"errors"

	"golang.org/x/sys/unix"
)

type pipeProvider struct{}

// PipeProvider returns the pipe backend.
func PipeProvider() Provider { return pipeProvider{} }

func (pipeProvider) Name() string { return "pipe" }

func (p pipeProvider) Available() bool {
	s, err := p.New()
	if err != nil {
		return false
	}
	_ = s.Close()
	return true
}

func (pipeProvider) New() (Signal, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, wrapOS(err, "pipe")
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, wrapOS(err, "pipe nonblock")
		}
	}
	return &pipeSignal{rfd: fds[0], wfd: fds[1]}, nil
}

type pipeSignal struct {
	rfd, wfd int
}

func (s *pipeSignal) ReadFD() int { return s.rfd }

func (s *pipeSignal) Wakeup() error {
	one := []byte{0}
	err := retryEINTR(func() error {
		_, err := unix.Write(s.wfd, one)
		return err
	})
	// a full pipe is already readable
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return wrapOS(err, "pipe write")
}

func (s *pipeSignal) Consume() error {
	var buf [128]byte
	for {
		n, err := unix.Read(s.rfd, buf[:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		case err != nil:
			return wrapOS(err, "pipe read")
		case n == 0:
			// writer closed
			return nil
		}
	}
}

func (s *pipeSignal) Close() error {
	var errs []error
	if s.rfd >= 0 {
		errs = append(errs, unix.Close(s.rfd))
	}
	if s.wfd >= 0 {
		errs = append(errs, unix.Close(s.wfd))
	}
	s.rfd, s.wfd = -1, -1
	return wrapOS(errors.Join(errs...), "pipe close")
}
