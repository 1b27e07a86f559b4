// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of kernel event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusActivate
	StatusDispatch
	StatusPreempt
	StatusTerminate
	StatusWait
	StatusWake
	StatusLock
	StatusUnlock
	StatusAlarm
	StatusTick
	StatusError
	StatusStartup
	StatusShutdown
)

// StatusEvent is emitted on every tick and on every state change the
// kernel makes.
type StatusEvent struct {
	Time     time.Time
	Tick     uint64
	Kind     StatusKind
	TaskID   TaskID
	Priority Priority // current priority of TaskID
	State    TaskState
	Detail   string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusActivate:
		return "Activate"
	case StatusDispatch:
		return "Dispatch"
	case StatusPreempt:
		return "Preempt"
	case StatusTerminate:
		return "Terminate"
	case StatusWait:
		return "Wait"
	case StatusWake:
		return "Wake"
	case StatusLock:
		return "Lock"
	case StatusUnlock:
		return "Unlock"
	case StatusAlarm:
		return "Alarm"
	case StatusTick:
		return "Tick"
	case StatusError:
		return "Error"
	case StatusStartup:
		return "Startup"
	case StatusShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Tracer receives status events. Trace is called with the kernel critical
// section held and must not block for long or call back into the kernel.
type Tracer interface {
	Trace(ev StatusEvent)
}

type nopTracer struct{}

func (nopTracer) Trace(StatusEvent) {}

// emit builds a status event for t (which may be nil) and hands it to the
// tracer.
func (k *Kernel) emit(kind StatusKind, t *Task, detail string) {
	ev := StatusEvent{
		Time:   time.Now(),
		Tick:   k.ticks,
		Kind:   kind,
		TaskID: InvalidTask,
		Detail: detail,
	}
	if t != nil {
		ev.TaskID = t.ID
		ev.Priority = t.dyn.priority
		ev.State = t.dyn.state
	}
	k.tracer.Trace(ev)
}
