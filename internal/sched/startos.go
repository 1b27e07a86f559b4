// internal/sched/startos.go

package sched

// StartOS initialises the kernel for the given application mode, activates
// the auto-start tasks and then arms the auto-start alarms, runs the startup
// hook and makes the first scheduling decision. On a target the call never
// returns; here it returns once the first task has been handed to the port.
func (k *Kernel) StartOS(mode AppMode) error {
	k.enter()
	defer k.leave()

	if k.osState != StateBoot {
		return k.fail(SysStartOS, ErrCallLevel)
	}
	if mode < 0 || int(mode) >= len(k.modes) {
		return k.fail(SysStartOS, ErrID)
	}
	k.appMode = mode
	k.resetObjects()

	for i := range k.tasks {
		t := &k.tasks[i]
		if inModes(t.AutoStart, mode) {
			if err := k.activateTask(t.ID); err != nil {
				k.reportError(SysStartOS, err)
			}
		}
	}
	for i := range k.alarms {
		a := &k.alarms[i]
		if a.AutoStart == nil || !inModes(a.AutoStart.Modes, mode) {
			continue
		}
		var err error
		if a.AutoStart.Kind == AutoStartAbsolute {
			err = k.setAbsAlarm(a.ID, a.AutoStart.Time, a.AutoStart.Cycle)
		} else {
			err = k.setRelAlarm(a.ID, a.AutoStart.Time, a.AutoStart.Cycle)
		}
		if err != nil {
			k.reportError(SysStartOS, err)
		}
	}

	k.osState = StateStartupHook
	k.hooks.StartupHook()
	k.emit(StatusStartup, nil, k.modes[mode])

	k.osState = StateTask
	k.schedulerNeeded = true
	return nil
}

func inModes(modes []AppMode, mode AppMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// GetActiveApplicationMode returns the mode StartOS was called with.
func (k *Kernel) GetActiveApplicationMode() AppMode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.appMode
}

// ShutdownOS runs the shutdown hook and stops the kernel. Every system call
// fails with ErrCallLevel afterwards and ticks are ignored.
func (k *Kernel) ShutdownOS(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.osState == StateShutdown {
		return
	}
	k.osState = StateShutdownHook
	k.hooks.ShutdownHook(err)
	k.osState = StateShutdown
	k.schedulerNeeded = false
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	k.emit(StatusShutdown, nil, detail)
}

// EnterISR marks the start of a category 2 interrupt. System calls made
// until the matching LeaveISR run at interrupt level; rescheduling is
// deferred to LeaveISR.
func (k *Kernel) EnterISR() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isrDepth == 0 {
		k.isrSaved = k.osState
	}
	k.isrDepth++
	k.osState = StateISR2
}

// LeaveISR ends a category 2 interrupt. Leaving the outermost interrupt is
// a rescheduling point; the returned Switch is valid when ok is true.
func (k *Kernel) LeaveISR() (sw Switch, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isrDepth == 0 {
		return Switch{}, false
	}
	k.isrDepth--
	if k.isrDepth > 0 {
		return Switch{}, false
	}
	k.osState = k.isrSaved
	if k.osState != StateTask || !k.schedulerNeeded {
		return Switch{}, false
	}
	return k.reschedule()
}

// TaskByName looks a task up by name.
func (k *Kernel) TaskByName(name string) (TaskID, bool) {
	for i := range k.tasks {
		if k.tasks[i].Name == name {
			return TaskID(i), true
		}
	}
	return InvalidTask, false
}

// AlarmByName looks an alarm up by name.
func (k *Kernel) AlarmByName(name string) (AlarmID, bool) {
	for i := range k.alarms {
		if k.alarms[i].Name == name {
			return AlarmID(i), true
		}
	}
	return noAlarm, false
}

// ResourceByName looks a resource up by name.
func (k *Kernel) ResourceByName(name string) (ResourceID, bool) {
	for i := range k.resources {
		if k.resources[i].Name == name {
			return ResourceID(i), true
		}
	}
	return -1, false
}

// CounterByName looks a counter up by name.
func (k *Kernel) CounterByName(name string) (CounterID, bool) {
	for i := range k.counters {
		if k.counters[i].Name == name {
			return CounterID(i), true
		}
	}
	return -1, false
}
