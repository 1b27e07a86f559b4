// internal/sched/build.go

package sched

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
)

// Conformance is the OSEK conformance class.
type Conformance uint8

const (
	BCC1 Conformance = iota
	BCC2
	ECC1
	ECC2
)

func (c Conformance) String() string {
	switch c {
	case BCC1:
		return "BCC1"
	case BCC2:
		return "BCC2"
	case ECC1:
		return "ECC1"
	case ECC2:
		return "ECC2"
	default:
		return "Unknown"
	}
}

// AppMode indexes the configured application modes.
type AppMode int

// IdleTaskName is the name given to the idle task appended by Build.
const IdleTaskName = "IDLE"

// ResSchedulerName is the resource created by use_res_scheduler.
const ResSchedulerName = "RES_SCHEDULER"

// Registry resolves the names used in the configuration to code.
type Registry struct {
	Entries   map[string]Entry
	Callbacks map[string]func()
}

// Tables is the static OS configuration in kernel form: dense arrays
// indexed by id, the idle task last.
type Tables struct {
	Checking      Checking
	Conformance   Conformance
	AppModes      []string
	Tasks         []Task
	Resources     []Resource
	Counters      []Counter
	Alarms        []Alarm
	Levels        []Priority // distinct runtime priorities, descending
	LevelCapacity []int      // tasks that can be queued on each level
}

// Build validates cfg and lays it out as kernel tables.
func Build(cfg Config, reg Registry) (*Tables, error) {
	tb := &Tables{AppModes: append([]string(nil), cfg.AppModes...)}
	if len(tb.AppModes) == 0 {
		tb.AppModes = []string{DefaultAppMode}
	}

	switch strings.ToLower(cfg.ErrorChecking) {
	case "", "extended":
		tb.Checking = ExtendedChecking
	case "standard":
		tb.Checking = StandardChecking
	default:
		return nil, fmt.Errorf("error_checking %q: want standard or extended", cfg.ErrorChecking)
	}
	switch strings.ToUpper(cfg.Conformance) {
	case "BCC1":
		tb.Conformance = BCC1
	case "BCC2":
		tb.Conformance = BCC2
	case "ECC1":
		tb.Conformance = ECC1
	case "", "ECC2":
		tb.Conformance = ECC2
	default:
		return nil, fmt.Errorf("conformance %q: want BCC1, BCC2, ECC1 or ECC2", cfg.Conformance)
	}

	b := builder{cfg: cfg, reg: reg, tb: tb}
	for _, step := range []func() error{b.tasks, b.resources, b.counters, b.alarms, b.levels} {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return tb, nil
}

type builder struct {
	cfg Config
	reg Registry
	tb  *Tables

	maxPriority Priority
	reach       []map[Priority]bool // per task: priorities it can run at
}

func (b *builder) modeIDs(names []string, owner string) ([]AppMode, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ids := make([]AppMode, 0, len(names))
	for _, n := range names {
		id, ok := b.tb.AppMode(n)
		if !ok {
			return nil, fmt.Errorf("%s: unknown app mode %q", owner, n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *builder) tasks() error {
	if len(b.cfg.Tasks) == 0 {
		return fmt.Errorf("no tasks configured")
	}
	multi := b.tb.Conformance == BCC2 || b.tb.Conformance == ECC2
	events := b.tb.Conformance == ECC1 || b.tb.Conformance == ECC2

	for i, tc := range b.cfg.Tasks {
		if tc.Name == "" {
			return fmt.Errorf("task %d: missing name", i)
		}
		if _, dup := b.tb.TaskID(tc.Name); dup {
			return fmt.Errorf("task %s: duplicate name", tc.Name)
		}
		if tc.Priority < 1 {
			return fmt.Errorf("task %s: priority %d must be above the idle priority 0", tc.Name, tc.Priority)
		}
		t := Task{
			ID:              TaskID(i),
			Name:            tc.Name,
			Priority:        Priority(tc.Priority),
			ActivationLimit: tc.Activation,
		}
		if t.ActivationLimit <= 0 {
			t.ActivationLimit = 1
		}

		switch strings.ToLower(tc.Kind) {
		case "", "basic":
			t.Kind = Basic
		case "extended":
			t.Kind = Extended
		default:
			return fmt.Errorf("task %s: kind %q: want basic or extended", tc.Name, tc.Kind)
		}
		switch strings.ToLower(tc.Schedule) {
		case "", "full":
			t.Policy = FullPreemptive
		case "non":
			t.Policy = NonPreemptive
		default:
			return fmt.Errorf("task %s: schedule %q: want full or non", tc.Name, tc.Schedule)
		}

		if t.Kind == Extended && !events {
			return fmt.Errorf("task %s: extended tasks need ECC1 or ECC2", tc.Name)
		}
		if t.ActivationLimit > 1 && (!multi || t.Kind == Extended) {
			return fmt.Errorf("task %s: multiple activation needs BCC2/ECC2 and a basic task", tc.Name)
		}
		for _, m := range tc.Events {
			t.EventsOwned |= EventMask(m)
		}
		if t.EventsOwned != 0 && t.Kind != Extended {
			return fmt.Errorf("task %s: only extended tasks own events", tc.Name)
		}

		entry := tc.Entry
		if entry == "" {
			entry = tc.Name
		}
		t.Entry = b.reg.Entries[entry]

		modes, err := b.modeIDs(tc.AutoStart, "task "+tc.Name)
		if err != nil {
			return err
		}
		t.AutoStart = modes

		if t.Priority > b.maxPriority {
			b.maxPriority = t.Priority
		}
		b.tb.Tasks = append(b.tb.Tasks, t)
		b.reach = append(b.reach, map[Priority]bool{t.Priority: true})
	}

	b.tb.Tasks = append(b.tb.Tasks, Task{
		ID:              TaskID(len(b.tb.Tasks)),
		Name:            IdleTaskName,
		Priority:        0,
		ActivationLimit: 1,
		Entry:           b.reg.Entries[IdleTaskName],
	})
	return nil
}

func (b *builder) resources() error {
	internal := map[string]*InternalResource{}

	rcs := append([]ResourceConfig(nil), b.cfg.Resources...)
	if b.cfg.UseResScheduler {
		rc := ResourceConfig{Name: ResSchedulerName}
		for _, tc := range b.cfg.Tasks {
			rc.Users = append(rc.Users, tc.Name)
		}
		rcs = append(rcs, rc)
	}

	for _, rc := range rcs {
		if rc.Name == "" {
			return fmt.Errorf("resource: missing name")
		}
		if _, dup := b.tb.ResourceID(rc.Name); dup || internal[rc.Name] != nil {
			return fmt.Errorf("resource %s: duplicate name", rc.Name)
		}

		users := map[TaskID]bool{}
		for _, u := range rc.Users {
			id, ok := b.tb.TaskID(u)
			if !ok || id == TaskID(len(b.tb.Tasks)-1) {
				return fmt.Errorf("resource %s: unknown task %q", rc.Name, u)
			}
			users[id] = true
		}
		if rc.Internal {
			for i, tc := range b.cfg.Tasks {
				if tc.InternalResource == rc.Name {
					users[TaskID(i)] = true
				}
			}
		}
		if len(users) == 0 {
			return fmt.Errorf("resource %s: no tasks use it", rc.Name)
		}

		var ceiling Priority
		for id := range users {
			if p := b.tb.Tasks[id].Priority; p > ceiling {
				ceiling = p
			}
		}
		for id := range users {
			b.reach[id][ceiling] = true
		}

		if rc.Internal {
			internal[rc.Name] = &InternalResource{Name: rc.Name, Ceiling: ceiling}
			continue
		}
		b.tb.Resources = append(b.tb.Resources, Resource{
			ID:      ResourceID(len(b.tb.Resources)),
			Name:    rc.Name,
			Ceiling: ceiling,
			owner:   InvalidTask,
		})
	}

	for i, tc := range b.cfg.Tasks {
		t := &b.tb.Tasks[i]
		switch {
		case tc.InternalResource != "":
			ir := internal[tc.InternalResource]
			if ir == nil {
				return fmt.Errorf("task %s: unknown internal resource %q", tc.Name, tc.InternalResource)
			}
			t.InternalResource = ir
		case t.Policy == NonPreemptive:
			// non-preemptive: an internal resource at the system ceiling
			t.InternalResource = &InternalResource{Name: "NON_PREEMPTIVE_" + tc.Name, Ceiling: b.maxPriority}
			b.reach[i][b.maxPriority] = true
		}
	}
	// each task gets its own copy; the kernel tracks taken per task
	for i := range b.tb.Tasks {
		if ir := b.tb.Tasks[i].InternalResource; ir != nil {
			cp := *ir
			b.tb.Tasks[i].InternalResource = &cp
		}
	}
	return nil
}

func (b *builder) counters() error {
	for i, cc := range b.cfg.Counters {
		if cc.Name == "" {
			return fmt.Errorf("counter %d: missing name", i)
		}
		if _, dup := b.tb.CounterID(cc.Name); dup {
			return fmt.Errorf("counter %s: duplicate name", cc.Name)
		}
		if cc.MaxAllowed == 0 {
			return fmt.Errorf("counter %s: max_allowed must be positive", cc.Name)
		}
		c := Counter{
			ID:              CounterID(i),
			Name:            cc.Name,
			MaxAllowedValue: TickType(cc.MaxAllowed),
			MinCycle:        TickType(cc.MinCycle),
			TicksPerBase:    TickType(cc.TicksPerBase),
			head:            noAlarm,
		}
		if c.MinCycle == 0 {
			c.MinCycle = 1
		}
		if c.MinCycle > c.MaxAllowedValue {
			return fmt.Errorf("counter %s: min_cycle %d above max_allowed %d", cc.Name, c.MinCycle, c.MaxAllowedValue)
		}
		if c.TicksPerBase == 0 {
			c.TicksPerBase = 1
		}
		switch strings.ToLower(cc.Kind) {
		case "", "hardware":
			c.Kind = HardwareCounter
		case "software":
			c.Kind = SoftwareCounter
		default:
			return fmt.Errorf("counter %s: kind %q: want hardware or software", cc.Name, cc.Kind)
		}
		b.tb.Counters = append(b.tb.Counters, c)
	}
	return nil
}

func (b *builder) alarms() error {
	for i, ac := range b.cfg.Alarms {
		if ac.Name == "" {
			return fmt.Errorf("alarm %d: missing name", i)
		}
		if _, dup := b.tb.AlarmID(ac.Name); dup {
			return fmt.Errorf("alarm %s: duplicate name", ac.Name)
		}
		cid, ok := b.tb.CounterID(ac.Counter)
		if !ok {
			return fmt.Errorf("alarm %s: unknown counter %q", ac.Name, ac.Counter)
		}
		a := Alarm{
			ID:      AlarmID(i),
			Name:    ac.Name,
			Counter: cid,
			prev:    noAlarm,
			next:    noAlarm,
		}

		taskRef := func() (TaskID, error) {
			id, ok := b.tb.TaskID(ac.Action.Task)
			if !ok || b.tb.Tasks[id].Name == IdleTaskName {
				return InvalidTask, fmt.Errorf("alarm %s: unknown task %q", ac.Name, ac.Action.Task)
			}
			return id, nil
		}
		switch strings.ToLower(ac.Action.Kind) {
		case "activate", "activatetask":
			id, err := taskRef()
			if err != nil {
				return err
			}
			a.Action = AlarmAction{Kind: ActionActivateTask, Task: id}
		case "setevent":
			id, err := taskRef()
			if err != nil {
				return err
			}
			t := &b.tb.Tasks[id]
			if t.Kind != Extended || EventMask(ac.Action.Mask)&t.EventsOwned == 0 {
				return fmt.Errorf("alarm %s: task %s does not own events %#x", ac.Name, t.Name, ac.Action.Mask)
			}
			a.Action = AlarmAction{Kind: ActionSetEvent, Task: id, Mask: EventMask(ac.Action.Mask)}
		case "callback":
			cb := b.reg.Callbacks[ac.Action.Callback]
			if cb == nil {
				return fmt.Errorf("alarm %s: unknown callback %q", ac.Name, ac.Action.Callback)
			}
			a.Action = AlarmAction{Kind: ActionCallback, Callback: cb}
		default:
			return fmt.Errorf("alarm %s: action %q: want activate, setevent or callback", ac.Name, ac.Action.Kind)
		}

		if as := ac.AutoStart; as != nil {
			c := &b.tb.Counters[cid]
			auto := &AlarmAutoStart{Time: TickType(as.Time), Cycle: TickType(as.Cycle)}
			switch strings.ToLower(as.Type) {
			case "", "relative":
				auto.Kind = AutoStartRelative
			case "absolute":
				auto.Kind = AutoStartAbsolute
			default:
				return fmt.Errorf("alarm %s: autostart type %q: want relative or absolute", ac.Name, as.Type)
			}
			if auto.Time == 0 || auto.Time > c.MaxAllowedValue {
				return fmt.Errorf("alarm %s: autostart time %d out of range", ac.Name, auto.Time)
			}
			if auto.Cycle != 0 && (auto.Cycle < c.MinCycle || auto.Cycle > c.MaxAllowedValue) {
				return fmt.Errorf("alarm %s: autostart cycle %d out of range", ac.Name, auto.Cycle)
			}
			modes, err := b.modeIDs(as.Modes, "alarm "+ac.Name)
			if err != nil {
				return err
			}
			if modes == nil {
				modes = []AppMode{0}
			}
			auto.Modes = modes
			a.AutoStart = auto
		}
		b.tb.Alarms = append(b.tb.Alarms, a)
	}
	return nil
}

// levels derives the dense priority levels, highest first, and how many
// tasks can be queued on each.
func (b *builder) levels() error {
	set := treeset.NewWith(func(a, c interface{}) int {
		// descending
		pa, pc := a.(Priority), c.(Priority)
		switch {
		case pa > pc:
			return -1
		case pa < pc:
			return 1
		default:
			return 0
		}
	})
	for _, r := range b.reach {
		for p := range r {
			set.Add(p)
		}
	}

	b.tb.Levels = make([]Priority, 0, set.Size())
	for _, v := range set.Values() {
		b.tb.Levels = append(b.tb.Levels, v.(Priority))
	}
	// A task only ever moves up from its static priority and sits in the
	// ready queue at most once, so a level can hold every task at or below it.
	b.tb.LevelCapacity = make([]int, len(b.tb.Levels))
	for i, p := range b.tb.Levels {
		for _, t := range b.tb.Tasks[:len(b.reach)] {
			if t.Priority <= p {
				b.tb.LevelCapacity[i]++
			}
		}
	}

	if b.tb.Conformance == BCC1 || b.tb.Conformance == ECC1 {
		shared := make([]int, len(b.tb.Levels))
		for _, r := range b.reach {
			for p := range r {
				shared[LevelFor(b.tb.Levels, p)]++
			}
		}
		for i, n := range shared {
			if n > 1 {
				return fmt.Errorf("%s: %d tasks can be ready at priority %d; use BCC2 or ECC2",
					b.tb.Conformance, n, b.tb.Levels[i])
			}
		}
	}
	return nil
}

// TaskID looks a task up by name.
func (tb *Tables) TaskID(name string) (TaskID, bool) {
	for i := range tb.Tasks {
		if tb.Tasks[i].Name == name {
			return TaskID(i), true
		}
	}
	return InvalidTask, false
}

// ResourceID looks a resource up by name.
func (tb *Tables) ResourceID(name string) (ResourceID, bool) {
	for i := range tb.Resources {
		if tb.Resources[i].Name == name {
			return ResourceID(i), true
		}
	}
	return -1, false
}

// CounterID looks a counter up by name.
func (tb *Tables) CounterID(name string) (CounterID, bool) {
	for i := range tb.Counters {
		if tb.Counters[i].Name == name {
			return CounterID(i), true
		}
	}
	return -1, false
}

// AlarmID looks an alarm up by name.
func (tb *Tables) AlarmID(name string) (AlarmID, bool) {
	for i := range tb.Alarms {
		if tb.Alarms[i].Name == name {
			return AlarmID(i), true
		}
	}
	return noAlarm, false
}

// AppMode looks an application mode up by name.
func (tb *Tables) AppMode(name string) (AppMode, bool) {
	for i, m := range tb.AppModes {
		if m == name {
			return AppMode(i), true
		}
	}
	return -1, false
}
