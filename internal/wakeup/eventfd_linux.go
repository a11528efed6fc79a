//go:build linux

// File: internal/wakeup/eventfd_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// eventfd(2) counter backend.

package wakeup

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

type eventfdProvider struct{}

// EventfdProvider returns the eventfd backend.
func EventfdProvider() Provider { return eventfdProvider{} }

func (eventfdProvider) Name() string { return "eventfd" }

func (p eventfdProvider) Available() bool {
	s, err := p.New()
	if err != nil {
		return false
	}
	_ = s.Close()
	return true
}

func (eventfdProvider) New() (Signal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, wrapOS(err, "eventfd")
	}
	return &eventfdSignal{fd: fd}, nil
}

type eventfdSignal struct {
	fd int
}

func (s *eventfdSignal) ReadFD() int { return s.fd }

func (s *eventfdSignal) Wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	err := retryEINTR(func() error {
		_, err := unix.Write(s.fd, buf[:])
		return err
	})
	// EAGAIN means the counter is saturated, which still reads as signalled.
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return wrapOS(err, "eventfd write")
}

func (s *eventfdSignal) Consume() error {
	var buf [8]byte
	err := retryEINTR(func() error {
		_, err := unix.Read(s.fd, buf[:])
		return err
	})
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return wrapOS(err, "eventfd read")
}

func (s *eventfdSignal) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return wrapOS(err, "eventfd close")
}
