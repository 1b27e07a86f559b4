package job

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"osek/internal/machine"
	"osek/internal/sched"
)

// EvLog is the event the Logger task waits on.
const EvLog sched.EventMask = 0x1

// Demo holds the task bodies of the sample application in os.yml and counts
// what they did.
type Demo struct {
	Cycles     atomic.Int64 // Task1 activations served
	Logged     atomic.Int64 // events handled by Logger
	Heartbeats atomic.Int64 // Heartbeat alarm callbacks
	Locked     atomic.Int64 // SHARED sections completed by Task0
}

// Registry returns the callbacks referenced from os.yml.
func (d *Demo) Registry() sched.Registry {
	return sched.Registry{
		Callbacks: map[string]func(){
			"heartbeat": func() { d.Heartbeats.Add(1) },
		},
	}
}

// Bodies returns the task bodies by task name.
func (d *Demo) Bodies() map[string]machine.Body {
	return map[string]machine.Body{
		"Task0":  d.task0,
		"Task1":  d.task1,
		"Logger": d.logger,
	}
}

// task0 is the low priority background job: it works inside the SHARED
// critical section a few times and ends.
func (d *Demo) task0(env *machine.Env) {
	res := env.Resource("SHARED")
	for i := 0; i < 3; i++ {
		if err := env.GetResource(res); err != nil {
			env.Logger().WithError(err).Error("get SHARED")
			return
		}
		WaitTicks(2)(env)
		if err := env.ReleaseResource(res); err != nil {
			env.Logger().WithError(err).Error("release SHARED")
			return
		}
		d.Locked.Add(1)
		WaitTicks(1)(env)
	}
}

// task1 runs on every expiry of its alarm and wakes the logger.
func (d *Demo) task1(env *machine.Env) {
	d.Cycles.Add(1)
	if err := env.SetEvent(env.Task("Logger"), EvLog); err != nil {
		env.Logger().WithError(err).Error("wake logger")
	}
}

// logger is an extended task that never terminates.
func (d *Demo) logger(env *machine.Env) {
	for {
		if err := env.WaitEvent(EvLog); err != nil {
			env.Logger().WithError(err).Error("wait")
			return
		}
		ev, err := env.GetEvent(env.ID())
		if err != nil {
			env.Logger().WithError(err).Error("get event")
			return
		}
		if err := env.ClearEvent(EvLog); err != nil {
			env.Logger().WithError(err).Error("clear event")
			return
		}
		n := d.Logged.Add(1)
		env.Logger().WithFields(logrus.Fields{
			"events": fmt.Sprintf("%#x", ev),
			"cycle":  n,
		}).Info("event handled")
	}
}
