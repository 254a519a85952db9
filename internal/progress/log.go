package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LogManager implements Manager with throttled structured log lines for
// non-TTY environments (CI, containers, redirected stderr).
type LogManager struct {
	logger   *slog.Logger
	interval time.Duration
}

// NewLogManager creates a log-based progress manager writing to logger.
func NewLogManager(logger *slog.Logger) *LogManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogManager{logger: logger, interval: logInterval}
}

func (m *LogManager) NewTracker(index, total int, name string) Tracker {
	return &logTracker{
		logger: m.logger.With(
			slog.String("block", fmt.Sprintf("%d/%d", index+1, total)),
			slog.String("name", name),
		),
		interval: m.interval,
		start:    time.Now(),
	}
}

func (m *LogManager) Wait() {}

const logInterval = 20 * time.Second

// logTracker implements Tracker with throttled log output.
type logTracker struct {
	logger   *slog.Logger
	interval time.Duration
	start    time.Time

	mu      sync.Mutex
	stage   string
	lastLog time.Time
}

func (t *logTracker) SetStage(stage string) {
	t.mu.Lock()
	t.stage = stage
	t.lastLog = time.Time{} // reset throttle so next progress update prints
	t.mu.Unlock()
	t.logger.Info(stage)
}

// throttled reports whether a progress line is due and, if so, claims it.
func (t *logTracker) throttled() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.lastLog) < t.interval {
		return "", true
	}
	t.lastLog = now
	return t.stage, false
}

func (t *logTracker) SetProgress(current, total int64) {
	stage, skip := t.throttled()
	if skip {
		return
	}
	if total > 0 {
		pct := float64(current) / float64(total) * 100
		t.logger.Info(stage,
			slog.Int64("current", current),
			slog.Int64("total", total),
			slog.String("pct", fmt.Sprintf("%.0f%%", pct)),
		)
	} else if current > 0 {
		t.logger.Info(stage, slog.Int64("current", current))
	}
}

func (t *logTracker) SetCounter(name string, value int64) {
	stage, skip := t.throttled()
	if skip {
		return
	}
	t.logger.Info(stage, slog.Int64(name, value))
}

func (t *logTracker) LogWarning(msg string) {
	t.logger.Warn(msg)
}

func (t *logTracker) Done() {
	elapsed := time.Since(t.start).Truncate(time.Millisecond)
	t.logger.Info("finished", slog.Duration("elapsed", elapsed))
}
