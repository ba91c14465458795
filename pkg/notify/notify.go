// Package notify defines the user-facing collaborators of the API layer and
// offline scope: transient notifications, a loading indicator and a
// confirmation dialog.
//
// Library code depends only on the interfaces here. The CLI supplies
// terminal implementations and falls back to [LogNotifier] when output is
// not a terminal; [Recorder] is for tests.
package notify

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Severity classifies a notification.
type Severity string

// Notification severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// DefaultDuration returns how long a notification of severity s stays
// visible: 4 seconds for errors, 3 seconds otherwise.
func DefaultDuration(s Severity) time.Duration {
	if s == SeverityError {
		return 4 * time.Second
	}
	return 3 * time.Second
}

// Notifier shows a short-lived message to the user.
type Notifier interface {
	Notify(message string, severity Severity, duration time.Duration)
}

// LoadingIndicator is shown while a user-initiated request is in flight.
type LoadingIndicator interface {
	Show()
	Hide()
}

// Confirmer asks the user to confirm an action. Exactly one of onConfirm
// and onCancel is called; either may be nil.
type Confirmer interface {
	Confirm(title, message string, onConfirm, onCancel func())
}

// Nop discards notifications, never shows a loading state and cancels
// every confirmation.
type Nop struct{}

func (Nop) Notify(string, Severity, time.Duration) {}
func (Nop) Show()                                  {}
func (Nop) Hide()                                  {}

func (Nop) Confirm(_, _ string, _, onCancel func()) {
	if onCancel != nil {
		onCancel()
	}
}

// LogNotifier writes notifications to a charm logger, mapping severity to
// log level. The CLI uses it for quiet runs and when output is not a terminal.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify logs message at the level matching severity.
func (n LogNotifier) Notify(message string, severity Severity, duration time.Duration) {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	switch severity {
	case SeverityError:
		logger.Error(message, "duration", duration)
	case SeverityWarning:
		logger.Warn(message, "duration", duration)
	default:
		logger.Info(message, "severity", severity, "duration", duration)
	}
}

// Message is a notification captured by [Recorder].
type Message struct {
	Text     string
	Severity Severity
	Duration time.Duration
}

// Recorder keeps every notification and counts loading transitions. It is
// a test helper for code that takes a Notifier or LoadingIndicator and is
// safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	shows    int
	hides    int
}

// Notify records the message.
func (r *Recorder) Notify(message string, severity Severity, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Text: message, Severity: severity, Duration: duration})
}

// Show counts a show.
func (r *Recorder) Show() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shows++
}

// Hide counts a hide.
func (r *Recorder) Hide() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hides++
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Loading returns how often Show and Hide were called.
func (r *Recorder) Loading() (shows, hides int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shows, r.hides
}

var (
	_ Notifier         = Nop{}
	_ LoadingIndicator = Nop{}
	_ Confirmer        = Nop{}
	_ Notifier         = LogNotifier{}
	_ Notifier         = (*Recorder)(nil)
	_ LoadingIndicator = (*Recorder)(nil)
)
