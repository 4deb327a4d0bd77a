// Package connwatch tracks whether the services the engine depends on
// (MCP tool servers, the model host) are reachable.
//
// Each watched target is probed in two phases. At startup the probe is
// retried with exponential backoff until it succeeds or the attempt
// budget runs out. After that the target is polled at a fixed interval
// and every up/down transition is logged, published on the event bus,
// and passed to the optional callbacks.
package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robbarto2/AgenticOps/internal/events"
)

// Target kinds.
const (
	KindMCP = "mcp"
	KindLLM = "llm"
)

// ProbeFunc returns nil when the target is reachable.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// First is the delay after the first failed startup probe.
	First time.Duration
	// Ceiling caps the startup delay.
	Ceiling time.Duration
	Factor  float64
	// Attempts is the number of startup probes before falling back to
	// interval polling.
	Attempts int
	Interval time.Duration
	// Timeout bounds each probe.
	Timeout time.Duration
}

// DefaultSchedule retries at 2s, 4s, 8s ... up to 60s for ten attempts,
// then polls once a minute.
func DefaultSchedule() Schedule {
	return Schedule{
		First:    2 * time.Second,
		Ceiling:  60 * time.Second,
		Factor:   2,
		Attempts: 10,
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.First <= 0 {
		s.First = d.First
	}
	if s.Ceiling <= 0 {
		s.Ceiling = d.Ceiling
	}
	if s.Factor <= 1 {
		s.Factor = d.Factor
	}
	if s.Attempts <= 0 {
		s.Attempts = d.Attempts
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

func (s Schedule) grow(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * s.Factor)
	if d > s.Ceiling {
		return s.Ceiling
	}
	return d
}

// Target describes one dependency to watch.
type Target struct {
	Name     string
	Kind     string
	Probe    ProbeFunc
	Schedule Schedule

	// OnUp and OnDown run on their own goroutine after a transition.
	OnUp   func()
	OnDown func(err error)
}

// Status is a point-in-time view of one target.
type Status struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Up       bool      `json:"up"`
	Since    time.Time `json:"since,omitzero"`
	Checked  time.Time `json:"checked,omitzero"`
	Failures int       `json:"consecutive_failures,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Watcher probes a single target.
type Watcher struct {
	target Target
	bus    *events.Bus
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	up       bool
	since    time.Time
	checked  time.Time
	failures int
	lastErr  error
}

// Up reports whether the last probe succeeded.
func (w *Watcher) Up() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.up
}

// Err returns the last probe error, nil while the target is up.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current view of the target.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		Name:     w.target.Name,
		Kind:     w.target.Kind,
		Up:       w.up,
		Since:    w.since,
		Checked:  w.checked,
		Failures: w.failures,
	}
	if w.lastErr != nil {
		s.Error = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher exits.
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	sched := w.target.Schedule

	delay := sched.First
	for attempt := 1; attempt <= sched.Attempts; attempt++ {
		if w.check(ctx) == nil {
			w.logger.Info("dependency reachable", "attempt", attempt)
			break
		}
		if attempt == sched.Attempts {
			w.logger.Warn("dependency unreachable at startup, polling", "attempts", attempt, "error", w.Err())
			break
		}
		w.logger.Debug("startup probe failed", "attempt", attempt, "retry_in", delay, "error", w.Err())
		if !sleep(ctx, delay) {
			return
		}
		delay = sched.grow(delay)
	}

	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check probes once and applies the result.
func (w *Watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.target.Schedule.Timeout)
	err := w.target.Probe(pctx)
	cancel()
	if err != nil && ctx.Err() != nil {
		// Shutting down; not a transition.
		return err
	}
	w.record(err)
	return err
}

func (w *Watcher) record(err error) {
	now := time.Now()
	w.mu.Lock()
	was := w.up
	w.checked = now
	w.lastErr = err
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	w.up = err == nil
	if w.up != was || w.since.IsZero() {
		w.since = now
	}
	w.mu.Unlock()

	data := map[string]any{"name": w.target.Name, "kind": w.target.Kind}
	switch {
	case err == nil && !was:
		w.bus.Emit(events.SourceConnwatch, events.KindDependencyUp, data)
		if w.target.OnUp != nil {
			go w.target.OnUp()
		}
	case err != nil && was:
		w.logger.Warn("dependency went down", "error", err)
		data["error"] = err.Error()
		w.bus.Emit(events.SourceConnwatch, events.KindDependencyDown, data)
		if w.target.OnDown != nil {
			go w.target.OnDown(err)
		}
	case err == nil && was:
	default:
		w.logger.Debug("dependency still unreachable", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager owns the watchers of a process.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a Manager. bus may be nil.
func NewManager(logger *slog.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:      bus,
		logger:   logger.With("component", "connwatch"),
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing t until ctx is done or Stop is called. A second
// target with the same name replaces and stops the first.
func (m *Manager) Watch(ctx context.Context, t Target) (*Watcher, error) {
	if t.Name == "" {
		return nil, errors.New("connwatch: target name is required")
	}
	if t.Probe == nil {
		return nil, errors.New("connwatch: target probe is required")
	}
	t.Schedule = t.Schedule.withDefaults()

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		target: t,
		bus:    m.bus,
		logger: m.logger.With("dependency", t.Name, "kind", t.Kind),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.watchers[t.Name]
	m.watchers[t.Name] = w
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go w.run(wctx)
	return w, nil
}

// Up reports whether the named target is reachable. Unknown names are
// reported as down.
func (m *Manager) Up(name string) bool {
	m.mu.RLock()
	w := m.watchers[name]
	m.mu.RUnlock()
	return w != nil && w.Up()
}

// Status returns every target's status, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.RUnlock()
	for _, w := range ws {
		w.Stop()
	}
}
