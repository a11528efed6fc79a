// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes runtime configuration, counters and debug probes of an engine.
type Control interface {
	GetConfig() map[string]any
	Stats() map[string]any
	RegisterDebugProbe(name string, fn func() any)
}
