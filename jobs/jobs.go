// Package jobs provides the progress-reporting side channel consumed by
// long-running operations. Reporting is best effort: a reporter must never
// fail the operation it observes.
package jobs

import (
	"log/slog"
	"sync"
)

// Reporter receives progress updates from a long-running operation.
type Reporter interface {
	// SetProgress records a completion percentage and a status message.
	// Implementations must be safe for concurrent use and must not block
	// the calling operation.
	SetProgress(percent int, message string)
}

// Discard is a Reporter that drops all updates.
type Discard struct{}

func (Discard) SetProgress(int, string) {}

// Tracker is a Reporter that remembers the latest state and clamps the
// percentage so it never decreases and never exceeds 100.
type Tracker struct {
	mu      sync.Mutex
	percent int
	message string
}

func (t *Tracker) SetProgress(percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent > t.percent {
		t.percent = min(percent, 100)
	}
	if message != "" {
		t.message = message
	}
}

// Progress returns the latest percentage and message.
func (t *Tracker) Progress() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent, t.message
}

// Logged wraps a Reporter and mirrors updates to a structured logger.
type Logged struct {
	Next   Reporter
	Logger *slog.Logger
	Name   string
}

func (l *Logged) SetProgress(percent int, message string) {
	if l.Logger != nil {
		l.Logger.Debug("job progress", "job", l.Name, "percent", percent, "message", message)
	}
	if l.Next != nil {
		l.Next.SetProgress(percent, message)
	}
}
