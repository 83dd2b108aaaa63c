// Package connwatch tracks the reachability of Alfred's external
// dependencies: the model backend and Home Assistant.
//
// Each watched service is probed with exponential backoff until it first
// answers, then polled at a fixed interval. Transitions between up and
// down are logged and reported through an optional callback; the latest
// status is available at any time without probing.
package connwatch

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Probe checks whether a service answers. nil means healthy.
type Probe func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	Initial         time.Duration // first retry delay
	Max             time.Duration // retry delay ceiling
	Factor          float64       // growth per retry
	StartupAttempts int           // backoff attempts before switching to polling
	Poll            time.Duration // steady-state interval
	ProbeTimeout    time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... up to 60s for ten attempts,
// then polls every 60s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:         2 * time.Second,
		Max:             60 * time.Second,
		Factor:          2,
		StartupAttempts: 10,
		Poll:            60 * time.Second,
		ProbeTimeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	if b.StartupAttempts <= 0 {
		b.StartupAttempts = d.StartupAttempts
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next returns the delay after cur, capped at Max.
func (b Backoff) next(cur time.Duration) time.Duration {
	return min(time.Duration(float64(cur)*b.Factor), b.Max)
}

// Service describes one dependency to watch.
type Service struct {
	Name    string
	Probe   Probe
	Backoff Backoff

	// OnChange is called, on its own goroutine, whenever the service goes
	// up or down. A service that never answered is not reported down.
	OnChange func(name string, up bool, err error)
}

// Status is a point-in-time view of a service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service in the background.
type Watcher struct {
	svc    Service
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the latest probe result.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.svc.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.svc.Backoff

	delay := b.Initial
	for attempt := 1; attempt <= b.StartupAttempts; attempt++ {
		err := w.check(ctx)
		if err == nil {
			break
		}
		if attempt == b.StartupAttempts {
			w.logger.Warn("service unreachable, falling back to polling",
				"service", w.svc.Name, "attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("service probe failed, retrying",
			"service", w.svc.Name, "attempt", attempt, "next_delay", delay, "error", err)
		if !sleep(ctx, delay) {
			return
		}
		delay = b.next(delay)
	}

	ticker := time.NewTicker(b.Poll)
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

// check runs one probe, records it and reports any transition.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.svc.Backoff.ProbeTimeout)
	err := w.svc.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	was := w.ready
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	switch {
	case !was && err == nil:
		w.logger.Info("service reachable", "service", w.svc.Name)
	case was && err != nil:
		w.logger.Warn("service became unreachable", "service", w.svc.Name, "error", err)
	default:
		return err
	}
	if w.svc.OnChange != nil {
		go w.svc.OnChange(w.svc.Name, err == nil, err)
	}
	return err
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

// Manager owns the watchers for every dependency.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager returns an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, watchers: make(map[string]*Watcher)}
}

// Watch starts a watcher for svc that runs until ctx ends or Stop is
// called. Zero Backoff fields take their defaults.
func (m *Manager) Watch(ctx context.Context, svc Service) (*Watcher, error) {
	if svc.Name == "" {
		return nil, errors.New("connwatch: service name is required")
	}
	if svc.Probe == nil {
		return nil, errors.New("connwatch: probe is required")
	}
	svc.Backoff = svc.Backoff.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.watchers[svc.Name]; dup {
		return nil, errors.New("connwatch: service " + svc.Name + " already watched")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		svc:    svc,
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.watchers[svc.Name] = w
	go w.run(watchCtx)
	return w, nil
}

// Status returns every watched service, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	statuses := lo.MapToSlice(m.watchers, func(_ string, w *Watcher) Status { return w.Status() })
	m.mu.RUnlock()
	slices.SortFunc(statuses, func(a, b Status) int { return cmp.Compare(a.Name, b.Name) })
	return statuses
}

// Stop stops every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := lo.Values(m.watchers)
	m.mu.RUnlock()
	for _, w := range watchers {
		w.Stop()
	}
}
