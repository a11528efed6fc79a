//go:build unix

// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"code.cloudfoundry.org/lager/v3"

	"github.com/momentics/hioload-poll/control"
	"github.com/momentics/hioload-poll/internal/wakeup"
)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger   lager.Logger
	config   *control.Config
	metrics  *control.MetricsRegistry
	provider wakeup.Provider
}

// WithLogger sets the logger. Sessions are derived per component.
func WithLogger(l lager.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithConfig replaces the environment-derived configuration.
func WithConfig(c control.Config) Option {
	return func(o *engineOptions) { o.config = &c }
}

// WithMetrics shares a metrics registry with the caller.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithWakeupProvider bypasses backend probing.
func WithWakeupProvider(p wakeup.Provider) Option {
	return func(o *engineOptions) { o.provider = p }
}
