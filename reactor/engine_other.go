//go:build !unix

// File: reactor/engine_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-poll/api"

// Engine is unavailable on platforms without poll(2).
type Engine struct{}

// Option configures an Engine.
type Option func(*Engine)

// NewEngine reports that the poll reactor is not supported here.
func NewEngine(...Option) (*Engine, error) {
	return nil, api.ErrNotSupported
}
