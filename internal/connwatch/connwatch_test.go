package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastBackoff keeps tests in the millisecond range.
func fastBackoff() Backoff {
	return Backoff{
		Initial:         time.Millisecond,
		Max:             4 * time.Millisecond,
		Factor:          2,
		StartupAttempts: 5,
		Poll:            5 * time.Millisecond,
		ProbeTimeout:    50 * time.Millisecond,
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// changes records OnChange calls.
type changes struct {
	mu  sync.Mutex
	ups []bool
}

func (c *changes) record(_ string, up bool, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ups = append(c.ups, up)
}

func (c *changes) get() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.ups...)
}

func TestBackoffDefaultsAndGrowth(t *testing.T) {
	b := Backoff{Initial: time.Second}.withDefaults()
	if b.Initial != time.Second {
		t.Errorf("Initial = %v, want explicit 1s kept", b.Initial)
	}
	if b.Max != 60*time.Second || b.Poll != 60*time.Second || b.StartupAttempts != 10 {
		t.Errorf("defaults not applied: %+v", b)
	}

	want := []time.Duration{2, 4, 8, 16, 32, 60, 60}
	d := time.Second
	for i, w := range want {
		d = b.next(d)
		if d != w*time.Second {
			t.Errorf("step %d = %v, want %v", i, d, w*time.Second)
		}
	}
}

func TestWatchReadyOnFirstProbe(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()
	var c changes

	w, err := m.Watch(context.Background(), Service{
		Name:     "ollama",
		Probe:    func(context.Context) error { return nil },
		Backoff:  fastBackoff(),
		OnChange: c.record,
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "ready", w.Ready)
	eventually(t, "one change", func() bool { return len(c.get()) == 1 })
	if got := c.get(); !got[0] {
		t.Errorf("changes = %v, want [true]", got)
	}
	if s := w.Status(); s.LastError != "" || s.LastCheck.IsZero() {
		t.Errorf("status = %+v", s)
	}
}

func TestWatchRetriesUntilUp(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()

	var probes atomic.Int32
	w, err := m.Watch(context.Background(), Service{
		Name: "homeassistant",
		Probe: func(context.Context) error {
			if probes.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		Backoff: fastBackoff(),
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "ready", w.Ready)
	if n := probes.Load(); n < 3 {
		t.Errorf("probes = %d, want at least 3", n)
	}
}

func TestNeverReadyIsNotReportedDown(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()
	var c changes
	var probes atomic.Int32

	w, err := m.Watch(context.Background(), Service{
		Name: "ollama",
		Probe: func(context.Context) error {
			probes.Add(1)
			return errors.New("no route to host")
		},
		Backoff:  fastBackoff(),
		OnChange: c.record,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Past the startup attempts and into polling.
	eventually(t, "polling", func() bool { return probes.Load() > 7 })
	if w.Ready() {
		t.Error("Ready() = true, want false")
	}
	if got := c.get(); len(got) != 0 {
		t.Errorf("changes = %v, want none", got)
	}
	if s := w.Status(); s.LastError != "no route to host" {
		t.Errorf("LastError = %q", s.LastError)
	}
}

func TestDownAndRecovery(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()
	var c changes
	var failing atomic.Bool

	w, err := m.Watch(context.Background(), Service{
		Name: "homeassistant",
		Probe: func(context.Context) error {
			if failing.Load() {
				return errors.New("502 bad gateway")
			}
			return nil
		},
		Backoff:  fastBackoff(),
		OnChange: c.record,
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "ready", w.Ready)
	failing.Store(true)
	eventually(t, "down", func() bool { return !w.Ready() })
	failing.Store(false)
	eventually(t, "recovered", w.Ready)

	eventually(t, "three changes", func() bool { return len(c.get()) == 3 })
	got := c.get()
	if !got[0] || got[1] || !got[2] {
		t.Errorf("changes = %v, want [true false true]", got)
	}
}

func TestProbeTimeoutApplies(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()

	b := fastBackoff()
	b.ProbeTimeout = 5 * time.Millisecond
	w, err := m.Watch(context.Background(), Service{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: b,
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "timeout recorded", func() bool {
		return w.Status().LastError == context.DeadlineExceeded.Error()
	})
}

func TestWatchValidation(t *testing.T) {
	m := NewManager(quietLogger())
	defer m.Stop()
	ok := func(context.Context) error { return nil }

	if _, err := m.Watch(context.Background(), Service{Probe: ok}); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := m.Watch(context.Background(), Service{Name: "x"}); err == nil {
		t.Error("nil probe accepted")
	}
	if _, err := m.Watch(context.Background(), Service{Name: "x", Probe: ok, Backoff: fastBackoff()}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Watch(context.Background(), Service{Name: "x", Probe: ok}); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestManagerStatusSortedAndStop(t *testing.T) {
	m := NewManager(quietLogger())
	ctx := context.Background()
	for _, name := range []string{"ollama", "homeassistant"} {
		if _, err := m.Watch(ctx, Service{
			Name:    name,
			Probe:   func(context.Context) error { return nil },
			Backoff: fastBackoff(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, "all ready", func() bool {
		for _, s := range m.Status() {
			if !s.Ready {
				return false
			}
		}
		return true
	})
	st := m.Status()
	if len(st) != 2 || st[0].Name != "homeassistant" || st[1].Name != "ollama" {
		t.Errorf("status = %+v", st)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestContextCancelStopsWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(quietLogger())
	w, err := m.Watch(ctx, Service{
		Name:    "ollama",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: Backoff{Initial: time.Hour, StartupAttempts: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
}
