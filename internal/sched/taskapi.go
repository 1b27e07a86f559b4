// internal/sched/taskapi.go

package sched

// ActivateTask moves a suspended task to the ready queue or records one
// more pending activation of an already active task.
func (k *Kernel) ActivateTask(id TaskID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.activateTask(k, id); err != nil {
		return k.fail(SysActivateTask, err)
	}
	return k.fail(SysActivateTask, k.activateTask(id))
}

// activateTask is the unlocked body shared with StartOS and alarm actions.
func (k *Kernel) activateTask(id TaskID) error {
	t := &k.tasks[id]
	if t.dyn.pending >= t.ActivationLimit {
		return ErrLimit
	}
	if t.dyn.state == Suspended {
		if err := k.makeReady(t, Activated); err != nil {
			return ErrLimit
		}
	}
	t.dyn.pending++
	k.requestSchedule()
	k.emit(StatusActivate, t, "")
	return nil
}

// makeReady enqueues t at the rear of its level in the given state. A task
// entering from Suspended starts with a clean event state.
func (k *Kernel) makeReady(t *Task, state TaskState) error {
	prev := t.dyn.state
	if prev == Suspended && t.Kind == Extended {
		t.dyn.eventsSet = 0
		t.dyn.eventsWaiting = 0
	}
	t.dyn.state = state
	if err := k.rq.addRear(t); err != nil {
		t.dyn.state = prev
		k.reportError(SysInvalid, err)
		return err
	}
	return nil
}

// TerminateTask ends the running task's current activation. On success the
// calling task does not run again in this activation; the port must not
// return into its body.
func (k *Kernel) TerminateTask() error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.terminateTask(k); err != nil {
		return k.fail(SysTerminateTask, err)
	}
	t := k.running
	k.leaveRunning(t)
	t.dyn.pending--
	if t.dyn.pending > 0 {
		_ = k.makeReady(t, Activated)
	} else {
		t.dyn.state = Suspended
	}
	k.emit(StatusTerminate, t, "")

	k.running = nil
	k.preempted = nil
	k.schedulerNeeded = true
	return nil
}

// ChainTask terminates the running task and activates id in one step.
func (k *Kernel) ChainTask(id TaskID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.chainTask(k, id); err != nil {
		return k.fail(SysChainTask, err)
	}
	src := k.running
	dst := &k.tasks[id]
	if dst != src && dst.dyn.pending >= dst.ActivationLimit {
		return k.fail(SysChainTask, ErrLimit)
	}

	src.dyn.pending--
	dst.dyn.pending++
	k.leaveRunning(src)
	if src.dyn.pending > 0 {
		_ = k.makeReady(src, Activated)
	} else {
		src.dyn.state = Suspended
	}
	k.emit(StatusTerminate, src, "chain")

	if !(dst == src && src.dyn.state == Activated) && dst.dyn.state == Suspended {
		_ = k.makeReady(dst, Activated)
	}
	k.emit(StatusActivate, dst, "chain")

	k.running = nil
	k.preempted = nil
	k.schedulerNeeded = true
	return nil
}

// leaveRunning drops the internal resource and anything still held. Held
// resources only remain here under standard checking.
func (k *Kernel) leaveRunning(t *Task) {
	k.releaseInternalResource(t)
	if t.holdsResources() {
		k.releaseAll(t)
	}
}

// Schedule releases the running task's internal resource so a ready task
// of higher static priority can take over. Tasks without an internal
// resource are rescheduled on every relevant event and are unaffected.
func (k *Kernel) Schedule() error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.schedule(k); err != nil {
		return k.fail(SysSchedule, err)
	}
	t := k.running
	head := k.rq.head
	if t == nil || head == nil {
		return nil
	}
	if head.Priority > t.Priority && t.InternalResource != nil {
		k.releaseInternalResource(t)
		k.forceScheduling = true
		k.schedulerNeeded = true
	}
	return nil
}

// GetTaskID returns the running task, or InvalidTask when no application
// task runs.
func (k *Kernel) GetTaskID() (TaskID, error) {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return InvalidTask, err
	}
	if k.running == nil || k.running == k.idle {
		return InvalidTask, nil
	}
	return k.running.ID, nil
}

// GetTaskState returns the state of task id.
func (k *Kernel) GetTaskState(id TaskID) (TaskState, error) {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return Suspended, err
	}
	if err := k.check.taskID(k, id); err != nil {
		return Suspended, k.fail(SysGetTaskState, err)
	}
	return k.tasks[id].dyn.state, nil
}
