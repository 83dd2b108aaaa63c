package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/nugget/alfred/internal/decision"
)

// Stage identifies which model call an invocation was.
type Stage string

// Model call stages.
const (
	StagePrimary Stage = "primary"
	StageRepair  Stage = "repair"
	StageQA      Stage = "qa"
)

// Invocation describes one completed model call.
type Invocation struct {
	Engine   string
	Stage    Stage
	Output   string
	Duration time.Duration
	Err      error
}

// Outcome describes how one Process call ended. Intent is set on success;
// Err is set on failure. RepairAttempted is true when a repair call was
// made, whatever its result.
type Outcome struct {
	Engine          string
	Intent          string
	RepairAttempted bool
	Err             error
}

// Observer receives engine events. Implementations must not block and
// must not fail the request; they are called inline.
type Observer interface {
	ModelInvoked(Invocation)
	DecisionMade(Outcome)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) ModelInvoked(Invocation) {}
func (NopObserver) DecisionMade(Outcome)    {}

// Observers fans events out to each observer in order.
type Observers []Observer

func (obs Observers) ModelInvoked(inv Invocation) {
	for _, o := range obs {
		o.ModelInvoked(inv)
	}
}

func (obs Observers) DecisionMade(out Outcome) {
	for _, o := range obs {
		o.DecisionMade(out)
	}
}

// FileObserver overwrites a fixed file with the raw output of the latest
// primary or repair call. Write failures are logged at debug and
// otherwise ignored.
type FileObserver struct {
	Path   string
	Logger *slog.Logger
}

// NewFileObserver returns a FileObserver writing to path.
func NewFileObserver(path string, logger *slog.Logger) *FileObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileObserver{Path: path, Logger: logger}
}

func (f *FileObserver) ModelInvoked(inv Invocation) {
	if f.Path == "" || inv.Err != nil || inv.Stage == StageQA {
		return
	}
	if err := os.WriteFile(f.Path, []byte(inv.Output), 0o644); err != nil {
		f.Logger.Debug("failed to write model output", "path", f.Path, "error", err)
	}
}

func (*FileObserver) DecisionMade(Outcome) {}

// LogObserver logs every event.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogObserver) ModelInvoked(inv Invocation) {
	if inv.Err != nil {
		l.logger().Warn("model call failed",
			"engine", inv.Engine, "stage", inv.Stage,
			"elapsed", inv.Duration.Round(time.Millisecond), "error", inv.Err)
		return
	}
	l.logger().Debug("model call complete",
		"engine", inv.Engine, "stage", inv.Stage,
		"elapsed", inv.Duration.Round(time.Millisecond),
		"output", decision.Excerpt(inv.Output))
}

func (l LogObserver) DecisionMade(out Outcome) {
	if out.Err != nil {
		l.logger().Warn("decision failed",
			"engine", out.Engine, "repair_attempted", out.RepairAttempted, "error", out.Err)
		return
	}
	l.logger().Info("decision made",
		"engine", out.Engine, "intent", out.Intent, "repair_attempted", out.RepairAttempted)
}
