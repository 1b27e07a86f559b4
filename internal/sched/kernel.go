// internal/sched/kernel.go

package sched

import (
	"fmt"
	"sync"
)

// OsState is the execution context the kernel is currently in.
type OsState uint8

const (
	StateBoot OsState = iota
	StateTask
	StateISR1
	StateISR2
	StateAlarmCallback
	StateShutdown
	StateInternalKernel
	StateStartupHook
	StateShutdownHook
	StateErrorHook
	StatePreTaskHook
	StatePostTaskHook
)

func (s OsState) String() string {
	switch s {
	case StateBoot:
		return "Boot"
	case StateTask:
		return "Task"
	case StateISR1:
		return "ISR1"
	case StateISR2:
		return "ISR2"
	case StateAlarmCallback:
		return "AlarmCallback"
	case StateShutdown:
		return "Shutdown"
	case StateInternalKernel:
		return "Kernel"
	case StateStartupHook:
		return "StartupHook"
	case StateShutdownHook:
		return "ShutdownHook"
	case StateErrorHook:
		return "ErrorHook"
	case StatePreTaskHook:
		return "PreTaskHook"
	case StatePostTaskHook:
		return "PostTaskHook"
	default:
		return "Unknown"
	}
}

// Switch is a dispatch decision handed to the port: leave From, enter To.
// NewContext is set when To has no saved context (first dispatch of an
// activation, or the idle task).
type Switch struct {
	From       TaskID
	To         TaskID
	NewContext bool
	Preempted  bool // From stays ready at the front of its level
}

// Dispatcher performs the context switch the scheduler decided on. It is
// called with the kernel critical section held and must not call back into
// the kernel.
type Dispatcher interface {
	Dispatch(sw Switch)
}

// Hooks are the OSEK hook routines. They run with the critical section held
// and must not call back into the kernel.
type Hooks interface {
	StartupHook()
	ShutdownHook(err error)
	PreTaskHook(id TaskID)
	PostTaskHook(id TaskID)
	ErrorHook(call Syscall, err error)
}

// NopHooks implements Hooks with empty routines.
type NopHooks struct{}

func (NopHooks) StartupHook() {}
func (NopHooks) ShutdownHook(error) {}
func (NopHooks) PreTaskHook(TaskID) {}
func (NopHooks) PostTaskHook(TaskID) {}
func (NopHooks) ErrorHook(Syscall, error) {}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(Switch) {}

// Kernel holds every piece of OS state. All fields below mu are mutated only
// with mu held.
type Kernel struct {
	mu         sync.Locker // critical section
	check      validator
	hooks      Hooks
	dispatcher Dispatcher
	tracer     Tracer

	tasks     []Task
	resources []Resource
	counters  []Counter
	alarms    []Alarm
	modes     []string
	idle      *Task
	rq        *ReadyQueue

	running   *Task
	preempted *Task
	onCPU     *Task // task the port is executing
	osState   OsState
	appMode   AppMode
	ticks     uint64
	isrDepth  int
	isrSaved  OsState

	forceScheduling  bool
	schedulerNeeded  bool
	dispatcherNeeded bool
	newContext       bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithHooks installs the hook routines.
func WithHooks(h Hooks) Option { return func(k *Kernel) { k.hooks = h } }

// WithDispatcher installs the port's dispatcher.
func WithDispatcher(d Dispatcher) Option { return func(k *Kernel) { k.dispatcher = d } }

// WithTracer streams status events to tr.
func WithTracer(tr Tracer) Option { return func(k *Kernel) { k.tracer = tr } }

// WithCriticalSection replaces the default mutex with a platform-provided
// enter/leave capability.
func WithCriticalSection(l sync.Locker) Option { return func(k *Kernel) { k.mu = l } }

// New creates a kernel from static tables. The tables are copied so several
// kernels may be built from the same tables.
func New(tb *Tables, opts ...Option) (*Kernel, error) {
	if tb == nil {
		return nil, fmt.Errorf("sched: nil tables")
	}
	if len(tb.Tasks) == 0 {
		return nil, fmt.Errorf("sched: no tasks configured")
	}

	k := &Kernel{
		mu:         &sync.Mutex{},
		hooks:      NopHooks{},
		dispatcher: nopDispatcher{},
		tracer:     nopTracer{},
		check:      standardChecks{},
		osState:    StateBoot,
		modes:      append([]string(nil), tb.AppModes...),
	}
	if tb.Checking == ExtendedChecking {
		k.check = extendedChecks{}
	}
	for _, opt := range opts {
		opt(k)
	}

	k.tasks = make([]Task, len(tb.Tasks))
	for i, t := range tb.Tasks {
		if t.InternalResource != nil {
			ir := *t.InternalResource
			t.InternalResource = &ir
		}
		k.tasks[i] = t
	}
	k.resources = append([]Resource(nil), tb.Resources...)
	k.counters = append([]Counter(nil), tb.Counters...)
	k.alarms = append([]Alarm(nil), tb.Alarms...)
	k.idle = &k.tasks[len(k.tasks)-1]

	var backend levelBackend
	switch tb.Conformance {
	case BCC1, ECC1:
		backend = newSlotBackend(len(tb.Levels))
	default:
		b, err := newFIFOBackend(tb.LevelCapacity)
		if err != nil {
			return nil, fmt.Errorf("sched: ready queue: %w", err)
		}
		backend = b
	}
	k.rq = newReadyQueue(append([]Priority(nil), tb.Levels...), backend)
	k.resetObjects()
	return k, nil
}

// resetObjects puts tasks, resources, counters and alarms in boot state.
func (k *Kernel) resetObjects() {
	k.rq.init()
	for i := range k.tasks {
		t := &k.tasks[i]
		t.reset(k.rq.levelFor(t.Priority))
		if t.InternalResource != nil {
			t.InternalResource.taken = false
		}
	}
	for i := range k.resources {
		k.resources[i].owner = InvalidTask
		k.resources[i].next = nil
	}
	for i := range k.counters {
		k.counters[i].current = 0
		k.counters[i].head = noAlarm
	}
	for i := range k.alarms {
		a := &k.alarms[i]
		a.state = AlarmSleep
		a.prev, a.next = noAlarm, noAlarm
	}
	k.running, k.preempted, k.onCPU = nil, nil, nil
}

// enter takes the critical section.
func (k *Kernel) enter() { k.mu.Lock() }

// leave is the return-from-system-call point: a pending rescheduling request
// made at task level is served before the critical section is released.
func (k *Kernel) leave() {
	if k.osState == StateTask && k.schedulerNeeded {
		k.reschedule()
	}
	k.mu.Unlock()
}

// guard rejects every system call once the OS is shut down, without
// calling the error hook.
func (k *Kernel) guard() error {
	if k.osState == StateShutdown {
		return ErrCallLevel
	}
	return nil
}

// fail reports a failed system call through the error hook. It returns err
// unchanged so callers can write return k.fail(call, err).
func (k *Kernel) fail(call Syscall, err error) error {
	if err == nil {
		return nil
	}
	k.reportError(call, err)
	return err
}

func (k *Kernel) reportError(call Syscall, err error) {
	k.emit(StatusError, k.running, fmt.Sprintf("%s: %v", call, err))
	if k.osState == StateErrorHook {
		return
	}
	prev := k.osState
	k.osState = StateErrorHook
	k.hooks.ErrorHook(call, err)
	k.osState = prev
}

// requestSchedule marks a rescheduling point. Nothing is requested during
// boot; StartOS schedules once at the end.
func (k *Kernel) requestSchedule() {
	if k.osState != StateBoot {
		k.schedulerNeeded = true
	}
}

// reschedule runs the scheduler and forwards a task switch to the port.
func (k *Kernel) reschedule() (Switch, bool) {
	k.schedule()
	if !k.dispatcherNeeded {
		return Switch{}, false
	}

	sw := Switch{
		From:       InvalidTask,
		To:         k.running.ID,
		NewContext: k.newContext,
	}
	if k.onCPU != nil {
		sw.From = k.onCPU.ID
		sw.Preempted = k.onCPU.dyn.state == Ready && k.onCPU != k.idle
	}
	if k.onCPU == k.running && !k.newContext {
		k.dispatcherNeeded = false
		return Switch{}, false
	}
	k.onCPU = k.running
	k.dispatcherNeeded = false
	k.dispatcher.Dispatch(sw)
	return sw, true
}

// schedule decides which task runs next. It never switches stacks itself;
// the port is told through dispatcherNeeded and newContext.
func (k *Kernel) schedule() {
	k.dispatcherNeeded = false
	k.newContext = false

	head := k.rq.head
	taskSwitch := false
	preempt := false

	switch {
	case k.running != nil && head != nil:
		if k.forceScheduling || head.Priority > k.running.dyn.priority {
			taskSwitch = true
			preempt = true
		}
	case k.running == nil && head == nil:
		k.idle.dyn.state = Running
		k.running = k.idle
		k.newContext = true
		k.osState = StateTask
		k.dispatcherNeeded = true
		k.emit(StatusIdle, k.idle, "")
	case k.running == nil && head != nil:
		taskSwitch = true
	}

	if taskSwitch {
		next, err := k.rq.removeFront()
		if err != nil {
			k.forceScheduling = false
			k.schedulerNeeded = false
			return
		}
		if next.dyn.state == Activated {
			k.newContext = true
		}
		if preempt {
			k.preempt(k.running)
		}
		k.getInternalResource(next)
		next.dyn.state = Running
		k.running = next
		k.rq.peekHighest()
		k.osState = StateTask
		k.callPreTaskHook(next)
		k.emit(StatusDispatch, next, "")
		k.dispatcherNeeded = true
	}

	k.forceScheduling = false
	k.schedulerNeeded = false
}

// preempt moves the running task back to the ready queue ahead of the other
// tasks of its level. The idle task is never queued.
func (k *Kernel) preempt(t *Task) {
	t.dyn.state = Ready
	if t == k.idle {
		return
	}
	if err := k.rq.addFront(t); err != nil {
		k.reportError(SysInvalid, err)
	}
	k.preempted = t
	k.emit(StatusPreempt, t, "")

	prev := k.osState
	k.osState = StatePostTaskHook
	k.hooks.PostTaskHook(t.ID)
	k.osState = prev
}

func (k *Kernel) callPreTaskHook(t *Task) {
	k.osState = StatePreTaskHook
	k.hooks.PreTaskHook(t.ID)
	k.osState = StateTask
}

// Task returns the task with the given id, or nil.
func (k *Kernel) Task(id TaskID) *Task {
	if id < 0 || int(id) >= len(k.tasks) {
		return nil
	}
	return &k.tasks[id]
}

// TaskCount returns the number of configured tasks including idle.
func (k *Kernel) TaskCount() int { return len(k.tasks) }

// IdleTask returns the id of the idle task.
func (k *Kernel) IdleTask() TaskID { return k.idle.ID }

// Resource returns the resource with the given id, or nil.
func (k *Kernel) Resource(id ResourceID) *Resource {
	if id < 0 || int(id) >= len(k.resources) {
		return nil
	}
	return &k.resources[id]
}

// Counter returns the counter with the given id, or nil.
func (k *Kernel) Counter(id CounterID) *Counter {
	if id < 0 || int(id) >= len(k.counters) {
		return nil
	}
	return &k.counters[id]
}

// Alarm returns the alarm with the given id, or nil.
func (k *Kernel) Alarm(id AlarmID) *Alarm {
	if id < 0 || int(id) >= len(k.alarms) {
		return nil
	}
	return &k.alarms[id]
}

// State returns the OS state.
func (k *Kernel) State() OsState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.osState
}

// Running returns the running task, InvalidTask if none.
func (k *Kernel) Running() TaskID {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running == nil {
		return InvalidTask
	}
	return k.running.ID
}

// ReadyHead returns the task that would be dispatched next, InvalidTask if
// the ready queue is empty.
func (k *Kernel) ReadyHead() TaskID {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.rq.head == nil {
		return InvalidTask
	}
	return k.rq.head.ID
}

// ReadyCount returns the number of tasks in the ready queue.
func (k *Kernel) ReadyCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rq.Len()
}

// ReadyTasks returns the ready tasks in the order they would be dispatched.
func (k *Kernel) ReadyTasks() []TaskID {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.rq.Tasks()
}

// SchedulerNeeded reports a pending rescheduling request.
func (k *Kernel) SchedulerNeeded() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.schedulerNeeded
}

// Ticks returns how many hardware ticks the kernel has processed.
func (k *Kernel) Ticks() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}
