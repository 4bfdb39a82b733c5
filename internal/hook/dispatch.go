package hook

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Dispatcher runs every hook matching a decision.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	log      logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(manager *Manager, executor *Executor, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{manager: manager, executor: executor, log: log}
}

// Dispatch runs the hooks bound to ev in name order and returns how many
// reported success. Failures are logged and do not stop later hooks.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) int {
	ok := 0
	for _, h := range d.manager.Match(ev.Gesture, ev.Confidence) {
		entry := d.log.WithFields(logrus.Fields{"hook": h.Manifest.Name, "gesture": ev.Gesture})

		resp, err := d.executor.Execute(ctx, h, ev)
		if err != nil {
			entry.WithError(err).Warn("hook failed")
			continue
		}
		if !resp.Success {
			entry.WithField("error", resp.Error).Warn("hook reported failure")
			continue
		}
		entry.Debug("hook ran")
		ok++
	}
	return ok
}
