//go:build unix

// File: internal/wakeup/signal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wakeup

import (
	"errors"
	"fmt"

	"code.cloudfoundry.org/lager/v3"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-poll/api"
)

// Signal is one wakeup doorbell. ReadFD is polled for POLLIN; Wakeup makes
// it readable; Consume makes it non-readable again.
type Signal interface {
	ReadFD() int
	Wakeup() error
	Consume() error
	Close() error
}

// Provider creates Signals of one backend.
type Provider interface {
	Name() string
	// Available probes whether the backend works on this host.
	Available() bool
	New() (Signal, error)
}

// PollFunc has the semantics of poll(2). EINTR is reported as an error.
type PollFunc func(fds []unix.PollFd, timeoutMs int) (int, error)

// PollProvider is implemented by providers whose signals are not real
// descriptors and therefore need their own poll strategy.
type PollProvider interface {
	Provider
	Poll(fds []unix.PollFd, timeoutMs int) (int, error)
}

// SysPoll is the plain poll(2) strategy.
func SysPoll(fds []unix.PollFd, timeoutMs int) (int, error) {
	return unix.Poll(fds, timeoutMs)
}

// PollFor returns the poll strategy matching p.
func PollFor(p Provider) PollFunc {
	if pp, ok := p.(PollProvider); ok {
		return pp.Poll
	}
	return SysPoll
}

// Options controls backend selection.
type Options struct {
	// ForceCV selects the condition-variable emulation even when native
	// primitives exist.
	ForceCV bool
	CV      CVOptions
}

// Select probes the fastest native backend (eventfd, then pipe) or returns
// the emulation when forced. It fails with api.ErrNoWakeup when nothing works.
func Select(opts Options, logger lager.Logger) (Provider, error) {
	logger = logger.Session("wakeup-select")
	if opts.ForceCV {
		logger.Info("forced", lager.Data{"backend": "cv"})
		return NewCVTable(opts.CV, logger), nil
	}
	for _, p := range []Provider{EventfdProvider(), PipeProvider()} {
		if p.Available() {
			logger.Debug("selected", lager.Data{"backend": p.Name()})
			return p, nil
		}
		logger.Debug("unavailable", lager.Data{"backend": p.Name()})
	}
	err := api.NewError(api.ErrCodeNoWakeup, "no wakeup fd available")
	logger.Error("failed", err)
	return nil, err
}

func retryEINTR(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func wrapOS(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("wakeup %s: %w", op, err)
}
