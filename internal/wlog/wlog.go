// Package wlog is the core's structured logger: a thin field-scoped wrapper
// over logrus, matching the way the original modules/trace package wraps
// logrus and gates a step-timer behind a verbose flag.
package wlog

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetVerbose raises the log level the way the CLI collaborator's -V flag
// does for the original Globals.Verbose.
func SetVerbose(v bool) {
	if v {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// For returns a logger scoped to one core subsystem, e.g. wlog.For("index").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Tracker prints step timings to stderr when debug logging is enabled,
// mirroring modules/trace.Tracker.
type Tracker struct {
	log  *logrus.Entry
	last time.Time
}

func NewTracker(component string) *Tracker {
	return &Tracker{log: For(component), last: time.Now()}
}

func (t *Tracker) StepNext(format string, args ...any) {
	now := time.Now()
	t.log.Debugf(format+" (%s)", append(args, now.Sub(t.last))...)
	t.last = now
}
