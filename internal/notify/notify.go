// Package notify surfaces operator-facing events on the desktop.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

type Notifier interface {
	Notify(title, message string)
}

// Desktop shows a native notification and mirrors it to the log. Hosts
// without a notification daemon only get the log line.
type Desktop struct {
	AppName string
}

func NewDesktop(appName string) *Desktop {
	return &Desktop{AppName: appName}
}

func (d *Desktop) Notify(title, message string) {
	slog.Info("Operator notification", "app", d.AppName, "title", title, "message", message)
	if err := beeep.Notify(title, message, ""); err != nil {
		slog.Debug("Desktop notification unavailable", "error", err)
	}
}

// Log only writes notifications to the log.
type Log struct{}

func (Log) Notify(title, message string) {
	slog.Info("Operator notification", "title", title, "message", message)
}
