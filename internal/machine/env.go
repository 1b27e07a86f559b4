// internal/machine/env.go

package machine

import (
	"github.com/sirupsen/logrus"

	"osek/internal/sched"
)

// Env is the view a task body has of the OS. Its methods trap into the
// kernel and are preemption points; they must only be called from the body
// the Env was handed to.
type Env struct {
	m  *Machine
	id sched.TaskID
}

// ID returns the task the body runs as.
func (e *Env) ID() sched.TaskID { return e.id }

// Kernel returns the kernel, for read-only inspection.
func (e *Env) Kernel() *sched.Kernel { return e.m.k }

// Logger returns the machine's logger with the task name attached.
func (e *Env) Logger() logrus.FieldLogger {
	return e.m.logger.WithField("task", e.m.k.Task(e.id).Name)
}

// Checkpoint is a preemption point for bodies that compute for a while
// without making system calls.
func (e *Env) Checkpoint() { e.m.point(e.id) }

// Task looks a task up by name; unknown names give an id the kernel rejects.
func (e *Env) Task(name string) sched.TaskID {
	id, _ := e.m.k.TaskByName(name)
	return id
}

// Resource looks a resource up by name.
func (e *Env) Resource(name string) sched.ResourceID {
	id, _ := e.m.k.ResourceByName(name)
	return id
}

// Alarm looks an alarm up by name.
func (e *Env) Alarm(name string) sched.AlarmID {
	id, _ := e.m.k.AlarmByName(name)
	return id
}

// Counter looks a counter up by name.
func (e *Env) Counter(name string) sched.CounterID {
	id, _ := e.m.k.CounterByName(name)
	return id
}

// Trap performs a raw system call. A successful TerminateTask or ChainTask
// does not return, nor does ShutdownOS.
func (e *Env) Trap(req sched.Request) sched.Reply {
	e.m.point(e.id)
	rep := e.m.k.Trap(req)
	switch req.Call {
	case sched.SysTerminateTask, sched.SysChainTask:
		if rep.Status == sched.StatusOK {
			e.m.exit()
		}
	case sched.SysShutdownOS:
		e.m.finish(nil)
	}
	e.m.point(e.id)
	return rep
}

func (e *Env) ActivateTask(id sched.TaskID) error {
	return e.Trap(sched.Request{Call: sched.SysActivateTask, Task: id}).Err()
}

// TerminateTask ends the current activation. It returns only on error.
func (e *Env) TerminateTask() error {
	return e.Trap(sched.Request{Call: sched.SysTerminateTask}).Err()
}

// ChainTask ends the current activation and activates id. It returns only
// on error.
func (e *Env) ChainTask(id sched.TaskID) error {
	return e.Trap(sched.Request{Call: sched.SysChainTask, Task: id}).Err()
}

func (e *Env) Schedule() error {
	return e.Trap(sched.Request{Call: sched.SysSchedule}).Err()
}

func (e *Env) GetTaskID() (sched.TaskID, error) {
	rep := e.Trap(sched.Request{Call: sched.SysGetTaskID})
	return rep.Task, rep.Err()
}

func (e *Env) GetTaskState(id sched.TaskID) (sched.TaskState, error) {
	rep := e.Trap(sched.Request{Call: sched.SysGetTaskState, Task: id})
	return rep.State, rep.Err()
}

func (e *Env) GetResource(id sched.ResourceID) error {
	return e.Trap(sched.Request{Call: sched.SysGetResource, Res: id}).Err()
}

func (e *Env) ReleaseResource(id sched.ResourceID) error {
	return e.Trap(sched.Request{Call: sched.SysReleaseResource, Res: id}).Err()
}

func (e *Env) SetEvent(id sched.TaskID, mask sched.EventMask) error {
	return e.Trap(sched.Request{Call: sched.SysSetEvent, Task: id, Mask: mask}).Err()
}

func (e *Env) ClearEvent(mask sched.EventMask) error {
	return e.Trap(sched.Request{Call: sched.SysClearEvent, Mask: mask}).Err()
}

func (e *Env) GetEvent(id sched.TaskID) (sched.EventMask, error) {
	rep := e.Trap(sched.Request{Call: sched.SysGetEvent, Task: id})
	return rep.Mask, rep.Err()
}

// WaitEvent parks the body until an event of mask is set.
func (e *Env) WaitEvent(mask sched.EventMask) error {
	return e.Trap(sched.Request{Call: sched.SysWaitEvent, Mask: mask}).Err()
}

func (e *Env) GetAlarmBase(id sched.AlarmID) (sched.AlarmBase, error) {
	rep := e.Trap(sched.Request{Call: sched.SysGetAlarmBase, Alarm: id})
	return rep.Base, rep.Err()
}

func (e *Env) GetAlarm(id sched.AlarmID) (sched.TickType, error) {
	rep := e.Trap(sched.Request{Call: sched.SysGetAlarm, Alarm: id})
	return rep.Tick, rep.Err()
}

func (e *Env) SetRelAlarm(id sched.AlarmID, increment, cycle sched.TickType) error {
	return e.Trap(sched.Request{Call: sched.SysSetRelAlarm, Alarm: id, Tick: increment, Cycle: cycle}).Err()
}

func (e *Env) SetAbsAlarm(id sched.AlarmID, start, cycle sched.TickType) error {
	return e.Trap(sched.Request{Call: sched.SysSetAbsAlarm, Alarm: id, Tick: start, Cycle: cycle}).Err()
}

func (e *Env) CancelAlarm(id sched.AlarmID) error {
	return e.Trap(sched.Request{Call: sched.SysCancelAlarm, Alarm: id}).Err()
}

// IncrementCounter advances a software counter.
func (e *Env) IncrementCounter(id sched.CounterID) error {
	e.m.point(e.id)
	err := e.m.k.IncrementCounter(id)
	e.m.point(e.id)
	return err
}

// ShutdownOS stops the OS with err. It does not return.
func (e *Env) ShutdownOS(err error) {
	e.m.point(e.id)
	e.m.shutdown(err)
}
