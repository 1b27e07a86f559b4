// internal/sched/alarm.go

package sched

// AlarmID identifies an alarm; it is also the alarm's arena slot.
type AlarmID int

const noAlarm AlarmID = -1

// AlarmState is Sleep or Active.
type AlarmState uint8

const (
	AlarmSleep AlarmState = iota
	AlarmActive
)

// ActionKind selects what an expiring alarm does.
type ActionKind uint8

const (
	ActionActivateTask ActionKind = iota
	ActionSetEvent
	ActionCallback
)

func (a ActionKind) String() string {
	switch a {
	case ActionActivateTask:
		return "ActivateTask"
	case ActionSetEvent:
		return "SetEvent"
	case ActionCallback:
		return "Callback"
	default:
		return "Unknown"
	}
}

// AlarmAction is the action fired on expiry.
type AlarmAction struct {
	Kind     ActionKind
	Task     TaskID    // ActivateTask, SetEvent
	Mask     EventMask // SetEvent
	Callback func()    // Callback; must not call into the kernel
}

// AutoStartKind selects how an auto-started alarm interprets its time.
type AutoStartKind uint8

const (
	AutoStartRelative AutoStartKind = iota
	AutoStartAbsolute
)

// AlarmAutoStart arms an alarm from StartOS in the listed modes.
type AlarmAutoStart struct {
	Kind  AutoStartKind
	Time  TickType
	Cycle TickType
	Modes []AppMode
}

// Alarm is a statically configured alarm attached to one counter.
type Alarm struct {
	ID        AlarmID
	Name      string
	Counter   CounterID
	Action    AlarmAction
	AutoStart *AlarmAutoStart

	state      AlarmState
	expiry     TickType
	cycle      TickType
	prev, next AlarmID
}

// State returns Sleep or Active.
func (a *Alarm) State() AlarmState { return a.state }

// AlarmBase describes the counter behind an alarm.
type AlarmBase struct {
	MaxAllowedValue TickType
	TicksPerBase    TickType
	MinCycle        TickType
}

// GetAlarmBase returns the characteristics of the alarm's counter.
func (k *Kernel) GetAlarmBase(id AlarmID) (AlarmBase, error) {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return AlarmBase{}, err
	}
	if err := k.check.alarmID(k, id); err != nil {
		return AlarmBase{}, k.fail(SysGetAlarmBase, err)
	}
	c := &k.counters[k.alarms[id].Counter]
	return AlarmBase{
		MaxAllowedValue: c.MaxAllowedValue,
		TicksPerBase:    c.TicksPerBase,
		MinCycle:        c.MinCycle,
	}, nil
}

// GetAlarm returns the ticks left before the alarm expires.
func (k *Kernel) GetAlarm(id AlarmID) (TickType, error) {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return 0, err
	}
	if err := k.check.alarmID(k, id); err != nil {
		return 0, k.fail(SysGetAlarm, err)
	}
	a := &k.alarms[id]
	if a.state == AlarmSleep {
		return 0, k.fail(SysGetAlarm, ErrNoFunc)
	}
	return TickType(k.counters[a.Counter].distance(a.expiry)), nil
}

// SetRelAlarm arms the alarm increment ticks from now.
func (k *Kernel) SetRelAlarm(id AlarmID, increment, cycle TickType) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.setAlarm(k, id, increment, cycle); err != nil {
		return k.fail(SysSetRelAlarm, err)
	}
	return k.fail(SysSetRelAlarm, k.setRelAlarm(id, increment, cycle))
}

// SetAbsAlarm arms the alarm to expire when the counter reaches start.
func (k *Kernel) SetAbsAlarm(id AlarmID, start, cycle TickType) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.setAlarm(k, id, start, cycle); err != nil {
		return k.fail(SysSetAbsAlarm, err)
	}
	return k.fail(SysSetAbsAlarm, k.setAbsAlarm(id, start, cycle))
}

func (k *Kernel) setRelAlarm(id AlarmID, increment, cycle TickType) error {
	a := &k.alarms[id]
	if a.state != AlarmSleep {
		return ErrState
	}
	c := &k.counters[a.Counter]
	k.arm(c, a, c.advance(c.current, increment), cycle)
	return nil
}

func (k *Kernel) setAbsAlarm(id AlarmID, start, cycle TickType) error {
	a := &k.alarms[id]
	if a.state != AlarmSleep {
		return ErrState
	}
	k.arm(&k.counters[a.Counter], a, start, cycle)
	return nil
}

func (k *Kernel) arm(c *Counter, a *Alarm, expiry, cycle TickType) {
	a.expiry = expiry
	a.cycle = cycle
	a.state = AlarmActive
	k.alarmInsert(c, a)
}

// CancelAlarm disarms an active alarm.
func (k *Kernel) CancelAlarm(id AlarmID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.alarmID(k, id); err != nil {
		return k.fail(SysCancelAlarm, err)
	}
	a := &k.alarms[id]
	if a.state == AlarmSleep {
		return k.fail(SysCancelAlarm, ErrNoFunc)
	}
	a.state = AlarmSleep
	k.alarmRemove(&k.counters[a.Counter], a)
	return nil
}

// alarmInsert links a into c's active list. The list is ordered by the
// modular distance from the counter's current value, so an expiry that has
// already wrapped sorts after one that has not. Alarms with equal expiry
// keep their insertion order.
func (k *Kernel) alarmInsert(c *Counter, a *Alarm) {
	d := c.distance(a.expiry)

	prev := noAlarm
	cur := c.head
	for cur != noAlarm && c.distance(k.alarms[cur].expiry) <= d {
		prev = cur
		cur = k.alarms[cur].next
	}

	a.prev = prev
	a.next = cur
	if cur != noAlarm {
		k.alarms[cur].prev = a.ID
	}
	if prev == noAlarm {
		c.head = a.ID
	} else {
		k.alarms[prev].next = a.ID
	}
}

// alarmRemove unlinks a from c's active list.
func (k *Kernel) alarmRemove(c *Counter, a *Alarm) {
	if a.prev == noAlarm {
		if c.head == a.ID {
			c.head = a.next
		}
	} else {
		k.alarms[a.prev].next = a.next
	}
	if a.next != noAlarm {
		k.alarms[a.next].prev = a.prev
	}
	a.prev, a.next = noAlarm, noAlarm
}

// fireAction performs the alarm's action. It is the only place an expiring
// alarm reaches outside the alarm list.
func (k *Kernel) fireAction(a *Alarm) {
	k.emit(StatusAlarm, nil, a.Name)

	var err error
	switch a.Action.Kind {
	case ActionActivateTask:
		err = k.activateTask(a.Action.Task)
	case ActionSetEvent:
		err = k.setEvent(a.Action.Task, a.Action.Mask)
	case ActionCallback:
		if a.Action.Callback != nil {
			prev := k.osState
			k.osState = StateAlarmCallback
			a.Action.Callback()
			k.osState = prev
		}
	}
	if err != nil {
		k.reportError(SysAlarmAction, err)
	}
}

// ActiveAlarms lists the active alarms of a counter in expiry order.
func (k *Kernel) ActiveAlarms(id CounterID) []AlarmID {
	k.mu.Lock()
	defer k.mu.Unlock()

	var ids []AlarmID
	for cur := k.counters[id].head; cur != noAlarm; cur = k.alarms[cur].next {
		ids = append(ids, cur)
	}
	return ids
}
