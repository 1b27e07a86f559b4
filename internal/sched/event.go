// internal/sched/event.go

package sched

// SetEvent sets the owned bits of mask on an extended task and readies it
// if it was waiting for any of them.
func (k *Kernel) SetEvent(id TaskID, mask EventMask) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.setEvent(k, id, mask); err != nil {
		return k.fail(SysSetEvent, err)
	}
	return k.fail(SysSetEvent, k.setEvent(id, mask))
}

// setEvent is the unlocked body shared with alarm actions.
func (k *Kernel) setEvent(id TaskID, mask EventMask) error {
	t := &k.tasks[id]
	if t.dyn.state == Suspended {
		return ErrState
	}
	if t.Kind != Extended {
		return ErrAccess
	}

	t.dyn.eventsSet |= mask & t.EventsOwned
	if t.dyn.state == Waiting && t.dyn.eventsSet&t.dyn.eventsWaiting != 0 {
		t.dyn.eventsWaiting = 0
		if err := k.makeReady(t, Ready); err != nil {
			return ErrLimit
		}
		k.requestSchedule()
		k.emit(StatusWake, t, "")
	}
	return nil
}

// ClearEvent clears the owned bits of mask on the running task.
func (k *Kernel) ClearEvent(mask EventMask) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.clearEvent(k, mask); err != nil {
		return k.fail(SysClearEvent, err)
	}
	t := k.running
	t.dyn.eventsSet &^= mask & t.EventsOwned
	return nil
}

// GetEvent returns every event currently set on task id.
func (k *Kernel) GetEvent(id TaskID) (EventMask, error) {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return 0, err
	}
	if err := k.check.getEvent(k, id); err != nil {
		return 0, k.fail(SysGetEvent, err)
	}
	return k.tasks[id].dyn.eventsSet, nil
}

// WaitEvent blocks the running task until one of mask is set. It returns at
// once when an event of mask is already set; otherwise the task leaves the
// processor and the port resumes it after a matching SetEvent.
func (k *Kernel) WaitEvent(mask EventMask) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.waitEvent(k, mask); err != nil {
		return k.fail(SysWaitEvent, err)
	}
	t := k.running
	if t.dyn.eventsSet&mask != 0 {
		return nil
	}

	t.dyn.state = Waiting
	t.dyn.eventsWaiting = mask
	k.releaseInternalResource(t)
	k.preempted = t
	k.running = nil
	k.schedulerNeeded = true
	k.emit(StatusWait, t, "")
	return nil
}
