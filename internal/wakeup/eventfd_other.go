//go:build unix && !linux

// File: internal/wakeup/eventfd_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wakeup

import "github.com/momentics/hioload-poll/api"

type eventfdProvider struct{}

// EventfdProvider returns the eventfd backend, unavailable on this platform.
func EventfdProvider() Provider { return eventfdProvider{} }

func (eventfdProvider) Name() string    { return "eventfd" }
func (eventfdProvider) Available() bool { return false }

func (eventfdProvider) New() (Signal, error) {
	return nil, api.ErrNotSupported
}
