// internal/sched/syscall.go

package sched

// Syscall is a system call trap number. The values are the wire contract
// with the trap handler and must not be renumbered.
type Syscall uint8

const (
	SysInvalid Syscall = iota
	SysStartOS
	SysActivateTask
	SysTerminateTask
	SysChainTask
	SysSchedule
	SysGetTaskID
	SysGetTaskState
	SysGetResource
	SysReleaseResource
	SysSetEvent
	SysClearEvent
	SysGetEvent
	SysWaitEvent
	SysGetAlarmBase
	SysGetAlarm
	SysSetRelAlarm
	SysSetAbsAlarm
	SysCancelAlarm
	SysSuspendInterrupts
	SysResumeInterrupts
	SysShutdownOS
)

// Not trap numbers; used to label errors raised inside the kernel.
const (
	SysIncrementCounter Syscall = 0x80 + iota
	SysAlarmAction
)

var syscallNames = map[Syscall]string{
	SysInvalid:           "InvalidSyscall",
	SysStartOS:           "StartOS",
	SysActivateTask:      "ActivateTask",
	SysTerminateTask:     "TerminateTask",
	SysChainTask:         "ChainTask",
	SysSchedule:          "Schedule",
	SysGetTaskID:         "GetTaskID",
	SysGetTaskState:      "GetTaskState",
	SysGetResource:       "GetResource",
	SysReleaseResource:   "ReleaseResource",
	SysSetEvent:          "SetEvent",
	SysClearEvent:        "ClearEvent",
	SysGetEvent:          "GetEvent",
	SysWaitEvent:         "WaitEvent",
	SysGetAlarmBase:      "GetAlarmBase",
	SysGetAlarm:          "GetAlarm",
	SysSetRelAlarm:       "SetRelAlarm",
	SysSetAbsAlarm:       "SetAbsAlarm",
	SysCancelAlarm:       "CancelAlarm",
	SysSuspendInterrupts: "SuspendInterrupts",
	SysResumeInterrupts:  "ResumeInterrupts",
	SysShutdownOS:        "ShutdownOS",
	SysIncrementCounter:  "IncrementCounter",
	SysAlarmAction:       "AlarmAction",
}

func (s Syscall) String() string {
	if n, ok := syscallNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Request is one trapped system call with its raw arguments. Which fields
// are read depends on Call.
type Request struct {
	Call  Syscall
	Task  TaskID
	Res   ResourceID
	Alarm AlarmID
	Mask  EventMask
	Tick  TickType // increment or start
	Cycle TickType
	Mode  AppMode
}

// Reply carries the status and any by-reference output of a system call.
type Reply struct {
	Status Status
	Task   TaskID
	State  TaskState
	Mask   EventMask
	Tick   TickType
	Base   AlarmBase
}

// Trap dispatches a trapped system call to the matching kernel method.
func (k *Kernel) Trap(req Request) Reply {
	var (
		rep Reply
		err error
	)
	switch req.Call {
	case SysStartOS:
		err = k.StartOS(req.Mode)
	case SysActivateTask:
		err = k.ActivateTask(req.Task)
	case SysTerminateTask:
		err = k.TerminateTask()
	case SysChainTask:
		err = k.ChainTask(req.Task)
	case SysSchedule:
		err = k.Schedule()
	case SysGetTaskID:
		rep.Task, err = k.GetTaskID()
	case SysGetTaskState:
		rep.State, err = k.GetTaskState(req.Task)
	case SysGetResource:
		err = k.GetResource(req.Res)
	case SysReleaseResource:
		err = k.ReleaseResource(req.Res)
	case SysSetEvent:
		err = k.SetEvent(req.Task, req.Mask)
	case SysClearEvent:
		err = k.ClearEvent(req.Mask)
	case SysGetEvent:
		rep.Mask, err = k.GetEvent(req.Task)
	case SysWaitEvent:
		err = k.WaitEvent(req.Mask)
	case SysGetAlarmBase:
		rep.Base, err = k.GetAlarmBase(req.Alarm)
	case SysGetAlarm:
		rep.Tick, err = k.GetAlarm(req.Alarm)
	case SysSetRelAlarm:
		err = k.SetRelAlarm(req.Alarm, req.Tick, req.Cycle)
	case SysSetAbsAlarm:
		err = k.SetAbsAlarm(req.Alarm, req.Tick, req.Cycle)
	case SysCancelAlarm:
		err = k.CancelAlarm(req.Alarm)
	case SysShutdownOS:
		k.ShutdownOS(nil)
	default:
		// interrupt masking belongs to the platform, not the core
		k.enter()
		err = k.fail(req.Call, ErrNoFunc)
		k.leave()
	}
	rep.Status = StatusOf(err)
	return rep
}

// Err returns the status as an error, nil for StatusOK.
func (r Reply) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return r.Status
}
