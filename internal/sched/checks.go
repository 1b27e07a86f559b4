// internal/sched/checks.go

package sched

// Checking selects how much precondition checking the system calls do.
type Checking uint8

const (
	// StandardChecking validates only what the no-error path needs.
	// Violating a precondition is undefined behaviour.
	StandardChecking Checking = iota
	// ExtendedChecking validates every precondition before any mutation,
	// stopping at the first violation.
	ExtendedChecking
)

func (c Checking) String() string {
	if c == ExtendedChecking {
		return "extended"
	}
	return "standard"
}

// validator holds the precondition checks of each system call. The kernel
// picks one implementation at construction.
type validator interface {
	activateTask(k *Kernel, id TaskID) error
	terminateTask(k *Kernel) error
	chainTask(k *Kernel, id TaskID) error
	schedule(k *Kernel) error
	taskID(k *Kernel, id TaskID) error
	getResource(k *Kernel, id ResourceID) error
	releaseResource(k *Kernel, id ResourceID) error
	setEvent(k *Kernel, id TaskID, mask EventMask) error
	clearEvent(k *Kernel, mask EventMask) error
	getEvent(k *Kernel, id TaskID) error
	waitEvent(k *Kernel, mask EventMask) error
	alarmID(k *Kernel, id AlarmID) error
	setAlarm(k *Kernel, id AlarmID, value, cycle TickType) error
	incrementCounter(k *Kernel, id CounterID) error
}

type standardChecks struct{}

func (standardChecks) activateTask(*Kernel, TaskID) error { return nil }
func (standardChecks) terminateTask(*Kernel) error { return nil }
func (standardChecks) chainTask(*Kernel, TaskID) error { return nil }
func (standardChecks) schedule(*Kernel) error { return nil }
func (standardChecks) taskID(*Kernel, TaskID) error { return nil }
func (standardChecks) getResource(*Kernel, ResourceID) error { return nil }
func (standardChecks) releaseResource(*Kernel, ResourceID) error { return nil }
func (standardChecks) setEvent(*Kernel, TaskID, EventMask) error { return nil }
func (standardChecks) clearEvent(*Kernel, EventMask) error { return nil }
func (standardChecks) getEvent(*Kernel, TaskID) error { return nil }
func (standardChecks) waitEvent(*Kernel, EventMask) error { return nil }
func (standardChecks) alarmID(*Kernel, AlarmID) error { return nil }
func (standardChecks) setAlarm(*Kernel, AlarmID, TickType, TickType) error { return nil }
func (standardChecks) incrementCounter(*Kernel, CounterID) error { return nil }

type extendedChecks struct{}

func (extendedChecks) validTask(k *Kernel, id TaskID) bool {
	// the idle task is not addressable by applications
	return id >= 0 && int(id) < len(k.tasks) && &k.tasks[id] != k.idle
}

// atTaskLevel reports whether an application task is making the call.
func (extendedChecks) atTaskLevel(k *Kernel) bool {
	return k.osState == StateTask && k.running != nil && k.running != k.idle
}

func (c extendedChecks) activateTask(k *Kernel, id TaskID) error {
	if !c.validTask(k, id) {
		return ErrID
	}
	return nil
}

func (c extendedChecks) terminateTask(k *Kernel) error {
	switch {
	case !c.atTaskLevel(k):
		return ErrCallLevel
	case k.running.holdsResources():
		return ErrResource
	}
	return nil
}

func (c extendedChecks) chainTask(k *Kernel, id TaskID) error {
	switch {
	case !c.atTaskLevel(k):
		return ErrCallLevel
	case !c.validTask(k, id):
		return ErrID
	case k.running.holdsResources():
		return ErrResource
	}
	return nil
}

func (c extendedChecks) schedule(k *Kernel) error {
	switch {
	case !c.atTaskLevel(k):
		return ErrCallLevel
	case k.running.holdsResources():
		return ErrResource
	}
	return nil
}

func (c extendedChecks) taskID(k *Kernel, id TaskID) error {
	if !c.validTask(k, id) {
		return ErrID
	}
	return nil
}

func (c extendedChecks) getResource(k *Kernel, id ResourceID) error {
	if id < 0 || int(id) >= len(k.resources) {
		return ErrID
	}
	if !c.atTaskLevel(k) {
		return ErrCallLevel
	}
	r := &k.resources[id]
	if r.owner != InvalidTask || k.running.Priority > r.Ceiling {
		return ErrAccess
	}
	return nil
}

func (c extendedChecks) releaseResource(k *Kernel, id ResourceID) error {
	if id < 0 || int(id) >= len(k.resources) {
		return ErrID
	}
	if !c.atTaskLevel(k) {
		return ErrCallLevel
	}
	if k.running.Priority > k.resources[id].Ceiling {
		return ErrAccess
	}
	return nil
}

func (c extendedChecks) setEvent(k *Kernel, id TaskID, mask EventMask) error {
	if !c.validTask(k, id) {
		return ErrID
	}
	t := &k.tasks[id]
	switch {
	case t.dyn.state == Suspended:
		return ErrState
	case t.Kind != Extended || mask&t.EventsOwned == 0:
		return ErrAccess
	case k.osState != StateTask && k.osState != StateISR2:
		return ErrCallLevel
	}
	return nil
}

func (c extendedChecks) clearEvent(k *Kernel, mask EventMask) error {
	if !c.atTaskLevel(k) {
		return ErrCallLevel
	}
	t := k.running
	if t.Kind != Extended || mask&t.EventsOwned == 0 {
		return ErrAccess
	}
	return nil
}

func (c extendedChecks) getEvent(k *Kernel, id TaskID) error {
	if !c.validTask(k, id) {
		return ErrID
	}
	t := &k.tasks[id]
	switch {
	case t.dyn.state == Suspended:
		return ErrState
	case t.Kind != Extended:
		return ErrAccess
	}
	switch k.osState {
	case StateTask, StateISR2, StateErrorHook, StatePreTaskHook, StatePostTaskHook:
		return nil
	}
	return ErrCallLevel
}

func (c extendedChecks) waitEvent(k *Kernel, mask EventMask) error {
	if !c.atTaskLevel(k) {
		return ErrCallLevel
	}
	t := k.running
	switch {
	case t.Kind != Extended || mask&t.EventsOwned == 0:
		return ErrAccess
	case t.holdsResources():
		return ErrResource
	}
	return nil
}

func (extendedChecks) alarmID(k *Kernel, id AlarmID) error {
	if id < 0 || int(id) >= len(k.alarms) {
		return ErrID
	}
	return nil
}

func (c extendedChecks) setAlarm(k *Kernel, id AlarmID, value, cycle TickType) error {
	if err := c.alarmID(k, id); err != nil {
		return err
	}
	ctr := &k.counters[k.alarms[id].Counter]
	if value == 0 || value > ctr.MaxAllowedValue {
		return ErrValue
	}
	if cycle != 0 && (cycle < ctr.MinCycle || cycle > ctr.MaxAllowedValue) {
		return ErrValue
	}
	return nil
}

func (extendedChecks) incrementCounter(k *Kernel, id CounterID) error {
	if id < 0 || int(id) >= len(k.counters) || k.counters[id].Kind == HardwareCounter {
		return ErrID
	}
	return nil
}
