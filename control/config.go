// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Engine configuration: a typed Config read once at startup from the
// environment, and a thread-safe snapshot store exposing it to probes.

package control

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
)

// Environment variables consulted by LoadConfig.
const (
	EnvForceCVWakeup   = "HIOLOAD_POLL_CV_WAKEUP"
	EnvCVPollPeriod    = "HIOLOAD_POLL_CV_PERIOD"
	EnvCVShutdownGrace = "HIOLOAD_POLL_CV_SHUTDOWN_GRACE"
	EnvLogLevel        = "HIOLOAD_POLL_LOG_LEVEL"
)

// Config is the process-wide reactor configuration.
type Config struct {
	// ForceCVWakeup selects the condition-variable wakeup emulation instead
	// of probing for eventfd or pipe.
	ForceCVWakeup bool
	// CVPollPeriod bounds each background poll of the emulation.
	CVPollPeriod time.Duration
	// CVShutdownGrace bounds the wait for background pollers on close.
	CVShutdownGrace time.Duration
	// LogLevel is the minimum level of the default stderr sink.
	LogLevel lager.LogLevel
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		CVPollPeriod:    time.Second,
		CVShutdownGrace: 3 * time.Second,
		LogLevel:        lager.INFO,
	}
}

// LoadConfig overlays environment variables on DefaultConfig. Malformed
// values keep the default.
func LoadConfig() Config {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) Config {
	cfg := DefaultConfig()
	if v, ok := lookup(EnvForceCVWakeup); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ForceCVWakeup = b
		}
	}
	if v, ok := lookup(EnvCVPollPeriod); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CVPollPeriod = d
		}
	}
	if v, ok := lookup(EnvCVShutdownGrace); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CVShutdownGrace = d
		}
	}
	if v, ok := lookup(EnvLogLevel); ok {
		if lvl, ok := parseLogLevel(v); ok {
			cfg.LogLevel = lvl
		}
	}
	return cfg
}

func parseLogLevel(s string) (lager.LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return lager.DEBUG, true
	case "info":
		return lager.INFO, true
	case "error":
		return lager.ERROR, true
	case "fatal":
		return lager.FATAL, true
	}
	return lager.INFO, false
}

// Snapshot flattens the config for ConfigStore.
func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"wakeup.force_cv":       c.ForceCVWakeup,
		"wakeup.cv_poll_period": c.CVPollPeriod.String(),
		"wakeup.cv_grace":       c.CVShutdownGrace.String(),
		"log.level":             int(c.LogLevel),
	}
}

// ConfigStore is a key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values and notifies listeners synchronously.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener called after every SetConfig.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
