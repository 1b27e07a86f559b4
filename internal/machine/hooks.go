// internal/machine/hooks.go

package machine

import (
	"github.com/sirupsen/logrus"

	"osek/internal/sched"
)

// LogHooks logs the hook routines the kernel runs. Pre- and post-task hooks
// are logged at debug level.
type LogHooks struct {
	Logger logrus.FieldLogger
}

var _ sched.Hooks = LogHooks{}

func (h LogHooks) StartupHook() { h.Logger.Info("startup hook") }

func (h LogHooks) ShutdownHook(err error) {
	if err != nil {
		h.Logger.WithError(err).Warn("shutdown hook")
		return
	}
	h.Logger.Info("shutdown hook")
}

func (h LogHooks) PreTaskHook(id sched.TaskID) {
	h.Logger.WithField("task_id", id).Debug("pre-task hook")
}

func (h LogHooks) PostTaskHook(id sched.TaskID) {
	h.Logger.WithField("task_id", id).Debug("post-task hook")
}

func (h LogHooks) ErrorHook(call sched.Syscall, err error) {
	h.Logger.WithFields(logrus.Fields{
		"call":   call,
		"status": err,
	}).Error("error hook")
}
