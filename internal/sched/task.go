package sched

// TaskID uniquely identifies a task in the kernel. IDs are dense, 0..N-1.
type TaskID int

// InvalidTask is returned by GetTaskID when no task is running and marks a
// resource without an owner.
const InvalidTask TaskID = -1

// Priority is a task or ceiling priority; higher is more important.
type Priority int

// EventMask is a set of event bits owned by an extended task.
type EventMask uint32

// TaskState is the OSEK task state.
type TaskState uint8

const (
	Suspended TaskState = iota
	Activated           // no saved context yet
	Ready
	Running
	Waiting
)

func (s TaskState) String() string {
	switch s {
	case Suspended:
		return "SUSPENDED"
	case Activated:
		return "NEW"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Waiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// TaskKind selects whether a task may wait on events.
type TaskKind uint8

const (
	Basic TaskKind = iota
	Extended
)

func (k TaskKind) String() string {
	if k == Extended {
		return "EXTENDED"
	}
	return "BASIC"
}

// Policy is the scheduling policy of a task.
type Policy uint8

const (
	FullPreemptive Policy = iota
	NonPreemptive
)

func (p Policy) String() string {
	if p == NonPreemptive {
		return "NON"
	}
	return "FULL"
}

// Entry is the opaque task body. The kernel never calls it; the port does.
type Entry func()

// Task is one statically configured task plus its dynamic state.
type Task struct {
	ID               TaskID
	Name             string
	Priority         Priority // static
	ActivationLimit  int
	Entry            Entry
	Kind             TaskKind
	Policy           Policy
	InternalResource *InternalResource // nil when not configured
	EventsOwned      EventMask
	AutoStart        []AppMode

	dyn taskDynamics
}

// taskDynamics is mutated only while the kernel critical section is held.
type taskDynamics struct {
	state         TaskState
	priority      Priority // current, possibly ceiling-boosted
	level         int      // ready-queue level of priority
	pending       int      // pending activation requests
	eventsSet     EventMask
	eventsWaiting EventMask
	resources     *Resource // head of the held-resource stack
	context       any       // opaque port context handle
}

// State returns the current task state. Callers outside the kernel must hold
// no expectations about consistency unless the kernel is quiescent.
func (t *Task) State() TaskState { return t.dyn.state }

// CurrentPriority returns the possibly ceiling-boosted priority.
func (t *Task) CurrentPriority() Priority { return t.dyn.priority }

// PendingActivations returns the number of queued activation requests.
func (t *Task) PendingActivations() int { return t.dyn.pending }

// Context returns the opaque handle the port attached to this task.
func (t *Task) Context() any { return t.dyn.context }

// SetContext attaches an opaque port handle.
func (t *Task) SetContext(ctx any) { t.dyn.context = ctx }

func (t *Task) holdsResources() bool { return t.dyn.resources != nil }

// reset puts the task back to its boot-time dynamic state.
func (t *Task) reset(level int) {
	ctx := t.dyn.context
	t.dyn = taskDynamics{
		state:    Suspended,
		priority: t.Priority,
		level:    level,
		context:  ctx,
	}
}
