//go:build unix

// File: reactor/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine ties together the selected wakeup backend, the poll strategy,
// logging, metrics and the registry of live descriptors.

package reactor

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-poll/api"
	"github.com/momentics/hioload-poll/control"
	"github.com/momentics/hioload-poll/internal/wakeup"
	"github.com/momentics/hioload-poll/pool"
)

// Engine creates descriptors, pollsets and pollset sets sharing one wakeup
// backend. It implements api.Control and api.GracefulShutdown.
type Engine struct {
	logger   lager.Logger
	cfg      control.Config
	config   *control.ConfigStore
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	provider wakeup.Provider
	poll     wakeup.PollFunc
	scratch  *pool.SyncPool[*pollScratch]

	kicks     *control.Counter
	works     *control.Counter
	polls     *control.Counter
	consumed  *control.Counter
	fdCreated *control.Counter
	fdClosed  *control.Counter

	objMu   sync.Mutex
	objects map[*Descriptor]string

	closed atomic.Bool
}

var (
	_ api.Control          = (*Engine)(nil)
	_ api.GracefulShutdown = (*Engine)(nil)
)

// NewEngine selects a wakeup backend and returns a ready engine. It fails
// with api.ErrNoWakeup when no backend works on this host.
func NewEngine(opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	cfg := control.LoadConfig()
	if o.config != nil {
		cfg = *o.config
	}
	logger := o.logger
	if logger == nil {
		logger = lager.NewLogger("hioload-poll")
		logger.RegisterSink(lager.NewWriterSink(os.Stderr, cfg.LogLevel))
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = control.NewMetricsRegistry()
	}

	provider := o.provider
	if provider == nil {
		var err error
		provider, err = wakeup.Select(wakeup.Options{
			ForceCV: cfg.ForceCVWakeup,
			CV: wakeup.CVOptions{
				PollPeriod:    cfg.CVPollPeriod,
				ShutdownGrace: cfg.CVShutdownGrace,
			},
		}, logger)
		if err != nil {
			logger.Error("wakeup-select", err)
			return nil, err
		}
	}

	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		config:   control.NewConfigStore(),
		metrics:  metrics,
		probes:   control.NewDebugProbes(),
		provider: provider,
		poll:     wakeup.PollFor(provider),
		scratch:  pool.NewSyncPool(func() *pollScratch { return &pollScratch{} }),
		objects:  make(map[*Descriptor]string),

		kicks:     metrics.Counter(control.MetricPollsetKick),
		works:     metrics.Counter(control.MetricPollsetWork),
		polls:     metrics.Counter(control.MetricSyscallPoll),
		consumed:  metrics.Counter(control.MetricWakeupConsumed),
		fdCreated: metrics.Counter(control.MetricFDCreated),
		fdClosed:  metrics.Counter(control.MetricFDClosed),
	}
	e.config.SetConfig(cfg.Snapshot())
	e.probes.RegisterProbe("wakeup.backend", func() any { return provider.Name() })
	e.probes.RegisterProbe("engine.live_objects", func() any { return len(e.LiveObjects()) })
	control.RegisterPlatformProbes(e.probes)
	metrics.Set("wakeup.backend", provider.Name())

	logger.Info("engine-started", lager.Data{"wakeup": provider.Name()})
	return e, nil
}

// Logger returns the engine logger.
func (e *Engine) Logger() lager.Logger { return e.logger }

// WakeupBackend names the selected wakeup backend.
func (e *Engine) WakeupBackend() string { return e.provider.Name() }

// Metrics returns the counters maintained by the engine.
func (e *Engine) Metrics() *control.MetricsRegistry { return e.metrics }

// GetConfig returns the effective configuration.
func (e *Engine) GetConfig() map[string]any { return e.config.GetSnapshot() }

// Stats merges counters and debug probes.
func (e *Engine) Stats() map[string]any {
	out := e.metrics.GetSnapshot()
	for k, v := range e.probes.DumpState() {
		out[k] = v
	}
	return out
}

// RegisterDebugProbe adds a named probe reported by Stats.
func (e *Engine) RegisterDebugProbe(name string, fn func() any) {
	e.probes.RegisterProbe(name, fn)
}

// LiveObjects lists descriptors that have not been fully released, sorted.
func (e *Engine) LiveObjects() []string {
	e.objMu.Lock()
	out := make([]string, 0, len(e.objects))
	for _, name := range e.objects {
		out = append(out, name)
	}
	e.objMu.Unlock()
	sort.Strings(out)
	return out
}

// Shutdown releases the wakeup backend. Descriptors still alive are
// reported as leaks; Shutdown does not wait for them.
func (e *Engine) Shutdown() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if leaked := e.LiveObjects(); len(leaked) > 0 {
		e.logger.Info("leaked-descriptors", lager.Data{"count": len(leaked), "objects": leaked})
	}
	var err error
	if c, ok := e.provider.(io.Closer); ok {
		err = c.Close()
	}
	if err != nil {
		e.logger.Error("shutdown", err)
		return fmt.Errorf("engine shutdown: %w", err)
	}
	e.logger.Info("engine-stopped")
	return nil
}

func (e *Engine) newSignal() (wakeup.Signal, error) {
	return e.provider.New()
}

func (e *Engine) register(d *Descriptor) {
	e.objMu.Lock()
	e.objects[d] = fmt.Sprintf("%s fd=%d", d.name, d.fd)
	e.objMu.Unlock()
}

func (e *Engine) unregister(d *Descriptor) {
	e.objMu.Lock()
	delete(e.objects, d)
	e.objMu.Unlock()
}
