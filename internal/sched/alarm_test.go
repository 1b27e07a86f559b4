package sched

import (
	"errors"
	"reflect"
	"testing"
)

const wrapDoc = `
conformance: ECC2
tasks:
  - {name: T1, priority: 1}
  - {name: T2, priority: 2}
counters:
  - {name: SW, max_allowed: 100, min_cycle: 2, ticks_per_base: 10, kind: software}
alarms:
  - {name: A1, counter: SW, action: {kind: activate, task: T1}}
  - {name: A2, counter: SW, action: {kind: activate, task: T2}}
`

func advance(t *testing.T, k *Kernel, id CounterID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := k.IncrementCounter(id); err != nil {
			t.Fatalf("IncrementCounter() error = %v", err)
		}
	}
}

func TestAlarmOrderAcrossWrap(t *testing.T) {
	k := newKernel(t, wrapDoc, Registry{})
	ctr, _ := k.CounterByName("SW")
	a1, _ := k.AlarmByName("A1")
	a2, _ := k.AlarmByName("A2")
	t1, t2 := mustTask(t, k, "T1"), mustTask(t, k, "T2")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	advance(t, k, ctr, 95)
	if cur := k.Counter(ctr).Current(); cur != 95 {
		t.Fatalf("Current() = %d, want 95", cur)
	}

	// 3 has wrapped and must sort after 98
	if err := k.SetAbsAlarm(a2, 3, 0); err != nil {
		t.Fatalf("SetAbsAlarm(A2) error = %v", err)
	}
	if err := k.SetAbsAlarm(a1, 98, 0); err != nil {
		t.Fatalf("SetAbsAlarm(A1) error = %v", err)
	}
	if got := k.ActiveAlarms(ctr); !reflect.DeepEqual(got, []AlarmID{a1, a2}) {
		t.Fatalf("ActiveAlarms() = %v, want [%d %d]", got, a1, a2)
	}
	for _, tc := range []struct {
		id   AlarmID
		want TickType
	}{{a1, 3}, {a2, 9}} {
		if got, err := k.GetAlarm(tc.id); err != nil || got != tc.want {
			t.Fatalf("GetAlarm(%d) = %d, %v; want %d", tc.id, got, err, tc.want)
		}
	}

	advance(t, k, ctr, 3)
	if st, _ := k.GetTaskState(t1); st == Suspended {
		t.Fatalf("T1 not activated at 98")
	}
	if _, err := k.GetAlarm(a1); !errors.Is(err, ErrNoFunc) {
		t.Fatalf("GetAlarm on an expired one-shot error = %v, want %v", err, ErrNoFunc)
	}
	if st := k.Alarm(a1).State(); st != AlarmSleep {
		t.Fatalf("A1 state = %d, want sleep", st)
	}

	advance(t, k, ctr, 5)
	if st, _ := k.GetTaskState(t2); st != Suspended {
		t.Fatalf("T2 activated before 3")
	}
	advance(t, k, ctr, 1)
	if st, _ := k.GetTaskState(t2); st == Suspended {
		t.Fatalf("T2 not activated at 3")
	}
	if got := k.ActiveAlarms(ctr); len(got) != 0 {
		t.Fatalf("ActiveAlarms() = %v, want none", got)
	}
}

func TestAlarmEqualExpiryKeepsInsertOrder(t *testing.T) {
	k := newKernel(t, wrapDoc, Registry{})
	ctr, _ := k.CounterByName("SW")
	a1, _ := k.AlarmByName("A1")
	a2, _ := k.AlarmByName("A2")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.SetRelAlarm(a2, 5, 0); err != nil {
		t.Fatalf("SetRelAlarm(A2) error = %v", err)
	}
	if err := k.SetRelAlarm(a1, 5, 0); err != nil {
		t.Fatalf("SetRelAlarm(A1) error = %v", err)
	}
	if got := k.ActiveAlarms(ctr); !reflect.DeepEqual(got, []AlarmID{a2, a1}) {
		t.Fatalf("ActiveAlarms() = %v, want [%d %d]", got, a2, a1)
	}

	if err := k.CancelAlarm(a2); err != nil {
		t.Fatalf("CancelAlarm() error = %v", err)
	}
	if got := k.ActiveAlarms(ctr); !reflect.DeepEqual(got, []AlarmID{a1}) {
		t.Fatalf("ActiveAlarms() after cancel = %v, want [%d]", got, a1)
	}
	if err := k.CancelAlarm(a2); !errors.Is(err, ErrNoFunc) {
		t.Fatalf("second CancelAlarm() error = %v, want %v", err, ErrNoFunc)
	}
	if err := k.SetRelAlarm(a1, 5, 0); !errors.Is(err, ErrState) {
		t.Fatalf("SetRelAlarm on an active alarm error = %v, want %v", err, ErrState)
	}
}

func TestAlarmArgumentChecks(t *testing.T) {
	k := newKernel(t, wrapDoc, Registry{})
	a1, _ := k.AlarmByName("A1")
	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}

	tests := []struct {
		name  string
		value TickType
		cycle TickType
		want  error
	}{
		{"zero increment", 0, 0, ErrValue},
		{"increment above max", 101, 0, ErrValue},
		{"cycle below min", 5, 1, ErrValue},
		{"cycle above max", 5, 101, ErrValue},
		{"max increment and cycle", 100, 100, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := k.SetRelAlarm(a1, tt.value, tt.cycle)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SetRelAlarm(%d, %d) error = %v, want %v", tt.value, tt.cycle, err, tt.want)
			}
			if err == nil {
				_ = k.CancelAlarm(a1)
			}
		})
	}

	if _, err := k.GetAlarm(7); !errors.Is(err, ErrID) {
		t.Fatalf("GetAlarm(7) error = %v, want %v", err, ErrID)
	}
	base, err := k.GetAlarmBase(a1)
	if err != nil {
		t.Fatalf("GetAlarmBase() error = %v", err)
	}
	if want := (AlarmBase{MaxAllowedValue: 100, TicksPerBase: 10, MinCycle: 2}); base != want {
		t.Fatalf("GetAlarmBase() = %+v, want %+v", base, want)
	}
}

const cyclicDoc = `
conformance: ECC2
tasks:
  - {name: T, priority: 1}
counters:
  - {name: HW, max_allowed: 100}
  - {name: SW, max_allowed: 10, kind: software}
alarms:
  - name: Beat
    counter: HW
    action: {kind: callback, callback: beat}
    autostart: {type: relative, time: 5, cycle: 5}
`

func TestCyclicAlarmRearms(t *testing.T) {
	beats := 0
	var states []OsState
	var k *Kernel
	reg := Registry{Callbacks: map[string]func(){
		"beat": func() {
			beats++
			states = append(states, k.osState)
		},
	}}
	k = newKernel(t, cyclicDoc, reg)
	hw, _ := k.CounterByName("HW")
	sw, _ := k.CounterByName("SW")
	beat, _ := k.AlarmByName("Beat")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		k.Tick(hw)
	}
	if beats != 4 {
		t.Fatalf("callback ran %d times, want 4", beats)
	}
	for _, st := range states {
		if st != StateAlarmCallback {
			t.Fatalf("callback ran in state %s", st)
		}
	}
	if got, err := k.GetAlarm(beat); err != nil || got != 5 {
		t.Fatalf("GetAlarm() = %d, %v; want 5", got, err)
	}

	// hardware counters only move on ticks, software ones only on request
	if err := k.IncrementCounter(hw); !errors.Is(err, ErrID) {
		t.Fatalf("IncrementCounter(hardware) error = %v, want %v", err, ErrID)
	}
	k.Tick(sw)
	if cur := k.Counter(sw).Current(); cur != 0 {
		t.Fatalf("Tick moved a software counter to %d", cur)
	}
}

func TestCounterWrapsAtMax(t *testing.T) {
	c := &Counter{MaxAllowedValue: 100}
	if got := c.advance(98, 5); got != 2 {
		t.Fatalf("advance(98, 5) = %d, want 2", got)
	}
	c.current = 95
	if got := c.distance(3); got != 9 {
		t.Fatalf("distance(3) = %d, want 9", got)
	}
	if got := c.distance(95); got != 101 {
		t.Fatalf("distance(current) = %d, want a full period", got)
	}

	full := &Counter{MaxAllowedValue: ^TickType(0)}
	if got := full.advance(^TickType(0), 1); got != 0 {
		t.Fatalf("32-bit advance wrapped to %d, want 0", got)
	}
}
