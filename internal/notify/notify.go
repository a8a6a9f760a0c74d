package notify

import (
	"sync"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"mvideodk-relay/pkg/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier shows a short message to the user. Callers treat failures as
// best effort and never act on them.
type Notifier interface {
	Notify(level Level, title, message string) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, title, message string) error {
	entry := logger.WithFields(logrus.Fields{"context": "background", "title": title})
	if level == LevelError {
		entry.Warn(message)
	} else {
		entry.Info(message)
	}
	return nil
}

// TerminalNotifier prints notifications with pterm, the way an OS toast
// would surface them to someone running the relay from a terminal.
type TerminalNotifier struct{}

func (TerminalNotifier) Notify(level Level, title, message string) error {
	printer := pterm.Success
	if level == LevelError {
		printer = pterm.Error
	}
	printer.Printfln("%s: %s", title, message)
	return nil
}

// Multi fans out to every notifier and reports the first failure.
type Multi []Notifier

func (m Multi) Notify(level Level, title, message string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(level, title, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Notification is one recorded call to a Recorder.
type Notification struct {
	Level   Level
	Title   string
	Message string
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	Err   error
}

func (r *Recorder) Notify(level Level, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: level, Title: title, Message: message})
	return r.Err
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}
