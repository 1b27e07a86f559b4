// internal/sched/counter.go

package sched

// TickType is a counter value.
type TickType uint32

// CounterID identifies a counter.
type CounterID int

// CounterKind tells who advances a counter.
type CounterKind uint8

const (
	HardwareCounter CounterKind = iota // advanced by the tick interrupt
	SoftwareCounter                    // advanced by IncrementCounter
)

// Counter is a wrapping tick source that owns an ordered list of active
// alarms.
type Counter struct {
	ID              CounterID
	Name            string
	MaxAllowedValue TickType
	TicksPerBase    TickType
	MinCycle        TickType
	Kind            CounterKind

	current TickType
	head    AlarmID // first active alarm, or noAlarm
}

// Current returns the current tick value.
func (c *Counter) Current() TickType { return c.current }

// modulus is max+1, widened so a full 32-bit counter does not overflow.
func (c *Counter) modulus() uint64 { return uint64(c.MaxAllowedValue) + 1 }

// distance returns how many ticks from now expiry is reached. An expiry
// equal to the current value is a full period away.
func (c *Counter) distance(expiry TickType) uint64 {
	m := c.modulus()
	d := (uint64(expiry) + m - uint64(c.current)) % m
	if d == 0 {
		d = m
	}
	return d
}

// advance adds n ticks modulo max+1.
func (c *Counter) advance(from, n TickType) TickType {
	return TickType((uint64(from) + uint64(n)) % c.modulus())
}

// IncrementCounter advances a software counter by one tick and processes
// the alarms that expire.
func (k *Kernel) IncrementCounter(id CounterID) error {
	k.enter()
	defer k.leave()

	if err := k.guard(); err != nil {
		return err
	}
	if err := k.check.incrementCounter(k, id); err != nil {
		return k.fail(SysIncrementCounter, err)
	}
	k.incrementCounter(&k.counters[id])
	return nil
}

// Tick is the hardware counter interrupt. It advances the counter, fires
// the expired alarms and takes the scheduling decision in one critical
// section. The returned Switch is valid when ok is true.
func (k *Kernel) Tick(id CounterID) (sw Switch, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if id < 0 || int(id) >= len(k.counters) || k.osState == StateShutdown || k.osState == StateBoot {
		return Switch{}, false
	}
	c := &k.counters[id]
	if c.Kind != HardwareCounter {
		return Switch{}, false
	}

	k.ticks++
	prev := k.osState
	k.osState = StateISR2
	k.incrementCounter(c)
	k.emit(StatusTick, nil, c.Name)
	k.osState = prev

	if k.osState != StateTask || !k.schedulerNeeded {
		return Switch{}, false
	}
	return k.reschedule()
}

// incrementCounter wraps the counter and pops every alarm that expires at
// the new value. Cyclic alarms go back through the ordered insert.
func (k *Kernel) incrementCounter(c *Counter) {
	c.current = c.advance(c.current, 1)

	for c.head != noAlarm && k.alarms[c.head].expiry == c.current {
		a := &k.alarms[c.head]
		k.alarmRemove(c, a)
		if a.cycle == 0 {
			a.state = AlarmSleep
		}
		k.fireAction(a)
		if a.cycle != 0 {
			a.expiry = c.advance(a.expiry, a.cycle)
			k.alarmInsert(c, a)
		}
	}
}
