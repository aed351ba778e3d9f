// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adchub/adchub/internal/adc"
	"github.com/adchub/adchub/pkg/errutil"
)

// DefaultTimeout bounds a single hook invocation.
const DefaultTimeout = 5 * time.Second

// Dispatcher fans hub events out to registered plugins. Each plugin
// has its own FIFO worker, so its hooks run one at a time in the order
// the hub fired them, each under a timeout. Errors are logged, never
// returned.
type Dispatcher struct {
	entries []*entry
	timeout time.Duration
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

type call struct {
	ctx  context.Context
	hook string
	fn   func(context.Context) error
}

// entry is a plugin and its pending calls. A worker goroutine runs while
// calls are queued and exits when the queue is empty.
type entry struct {
	plugin  Plugin
	mu      sync.Mutex
	pending []call
	running bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

// NewDispatcher creates a dispatcher with no plugins.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a plugin.
func (d *Dispatcher) Register(p Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, &entry{plugin: p})
	slog.Info("plugin registered", "plugin", p.Name())
}

func (d *Dispatcher) snapshot() []*entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Login fires LoginHook.
func (d *Dispatcher) Login(ctx context.Context, u User) {
	for _, e := range d.snapshot() {
		if h, ok := e.plugin.(LoginHook); ok {
			d.invoke(ctx, e, "login", func(ctx context.Context) error {
				return h.OnLogin(ctx, u)
			})
		}
	}
}

// Logout fires LogoutHook.
func (d *Dispatcher) Logout(ctx context.Context, u User, reason string) {
	for _, e := range d.snapshot() {
		if h, ok := e.plugin.(LogoutHook); ok {
			d.invoke(ctx, e, "logout", func(ctx context.Context) error {
				return h.OnLogout(ctx, u, reason)
			})
		}
	}
}

// Search fires SearchHook. Each hook holds its own reference to msg
// until it returns.
func (d *Dispatcher) Search(ctx context.Context, u User, msg *adc.Message) {
	for _, e := range d.snapshot() {
		if h, ok := e.plugin.(SearchHook); ok {
			msg.Retain()
			d.invoke(ctx, e, "search", func(ctx context.Context) error {
				defer msg.Release()
				return h.OnSearch(ctx, u, msg)
			})
		}
	}
}

// Connect fires ConnectHook.
func (d *Dispatcher) Connect(ctx context.Context, from, to User) {
	for _, e := range d.snapshot() {
		if h, ok := e.plugin.(ConnectHook); ok {
			d.invoke(ctx, e, "connect", func(ctx context.Context) error {
				return h.OnConnect(ctx, from, to)
			})
		}
	}
}

// Wait blocks until every queued hook has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// invoke queues fn on the plugin's worker, starting one if none runs.
func (d *Dispatcher) invoke(ctx context.Context, e *entry, hook string, fn func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, call{ctx: ctx, hook: hook, fn: fn})
	if e.running {
		return
	}
	e.running = true
	d.wg.Add(1)
	go d.work(e)
}

func (d *Dispatcher) work(e *entry) {
	defer d.wg.Done()
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		c := e.pending[0]
		e.pending[0] = call{}
		e.pending = e.pending[1:]
		e.mu.Unlock()

		d.run(e.plugin.Name(), c)
	}
}

func (d *Dispatcher) run(pluginName string, c call) {
	// Hooks outlive the request that fired them, including shutdown
	// logouts, so only the timeout bounds them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), d.timeout)
	defer cancel()

	err := c.fn(ctx)
	switch {
	case err == nil:
		HookCalls.WithLabelValues(pluginName, c.hook, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		HookCalls.WithLabelValues(pluginName, c.hook, "timeout").Inc()
		slog.Warn("plugin hook timed out",
			"plugin", pluginName,
			"hook", c.hook,
			"timeout", d.timeout.String())
	default:
		HookCalls.WithLabelValues(pluginName, c.hook, "error").Inc()
		errutil.LogError(nil, "plugin hook failed", err,
			"plugin", pluginName,
			"hook", c.hook)
	}
}
