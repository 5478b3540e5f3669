package collab

import (
	"log"

	"github.com/dyluth/stave/internal/printer"
)

// Severity classifies a user-facing notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier surfaces transient, non-fatal notices to the user.
type Notifier interface {
	Notify(severity Severity, title, detail string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(severity Severity, title, detail string)

func (f NotifierFunc) Notify(severity Severity, title, detail string) {
	f(severity, title, detail)
}

// PrinterNotifier prints notices to the terminal.
type PrinterNotifier struct{}

func (PrinterNotifier) Notify(severity Severity, title, detail string) {
	switch severity {
	case SeveritySuccess:
		printer.Success("%s: %s\n", title, detail)
	case SeverityWarning:
		printer.Warning("%s: %s\n", title, detail)
	case SeverityError:
		printer.Failure("%s: %s\n", title, detail)
	default:
		printer.Info("%s: %s\n", title, detail)
	}
}

type logNotifier struct{}

func (logNotifier) Notify(severity Severity, title, detail string) {
	log.Printf("[Collab] %s: %s: %s", severity, title, detail)
}
