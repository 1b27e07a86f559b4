package sched

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

type recordingDispatcher struct {
	switches []Switch
}

func (d *recordingDispatcher) Dispatch(sw Switch) { d.switches = append(d.switches, sw) }

func (d *recordingDispatcher) last(t *testing.T) Switch {
	t.Helper()
	if len(d.switches) == 0 {
		t.Fatalf("no switch dispatched")
	}
	return d.switches[len(d.switches)-1]
}

type recordingHooks struct {
	NopHooks
	startups int
	calls    []Syscall
	errs     []error
	pre      []TaskID
	post     []TaskID
}

func (h *recordingHooks) StartupHook() { h.startups++ }
func (h *recordingHooks) PreTaskHook(id TaskID) { h.pre = append(h.pre, id) }
func (h *recordingHooks) PostTaskHook(id TaskID) { h.post = append(h.post, id) }
func (h *recordingHooks) ErrorHook(c Syscall, err error) {
	h.calls = append(h.calls, c)
	h.errs = append(h.errs, err)
}

func newKernel(t *testing.T, doc string, reg Registry, opts ...Option) *Kernel {
	t.Helper()
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	tb, err := Build(cfg, reg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	k, err := New(tb, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return k
}

func mustTask(t *testing.T, k *Kernel, name string) TaskID {
	t.Helper()
	id, ok := k.TaskByName(name)
	if !ok {
		t.Fatalf("no task %q", name)
	}
	return id
}

func wantRunning(t *testing.T, k *Kernel, want TaskID) {
	t.Helper()
	if got := k.Running(); got != want {
		t.Fatalf("Running() = %d (%s), want %d (%s)", got, name(k, got), want, name(k, want))
	}
}

func name(k *Kernel, id TaskID) string {
	if tk := k.Task(id); tk != nil {
		return tk.Name
	}
	return "-"
}

const orderingDoc = `
conformance: ECC2
tasks:
  - {name: A, priority: 1}
  - {name: B, priority: 1}
  - {name: C, priority: 2}
  - {name: H, priority: 3, autostart: [OSDEFAULTAPPMODE]}
`

func TestPriorityThenFIFOOrder(t *testing.T) {
	d := &recordingDispatcher{}
	k := newKernel(t, orderingDoc, Registry{}, WithDispatcher(d))
	a, b, c, h := mustTask(t, k, "A"), mustTask(t, k, "B"), mustTask(t, k, "C"), mustTask(t, k, "H")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	wantRunning(t, k, h)

	for _, id := range []TaskID{a, b, c} {
		if err := k.ActivateTask(id); err != nil {
			t.Fatalf("ActivateTask(%d) error = %v", id, err)
		}
		wantRunning(t, k, h)
	}
	if got := k.ReadyHead(); got != c {
		t.Fatalf("ReadyHead() = %d, want %d", got, c)
	}
	if got, want := k.ReadyTasks(), []TaskID{c, a, b}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ReadyTasks() = %v, want %v", got, want)
	}

	for _, next := range []TaskID{c, a, b, k.IdleTask()} {
		if err := k.TerminateTask(); err != nil {
			t.Fatalf("TerminateTask() error = %v", err)
		}
		wantRunning(t, k, next)
		if sw := d.last(t); sw.To != next || !sw.NewContext {
			t.Fatalf("last switch = %+v, want new context of %d", sw, next)
		}
	}

	if id, err := k.GetTaskID(); err != nil || id != InvalidTask {
		t.Fatalf("GetTaskID() = %d, %v; want InvalidTask from idle", id, err)
	}
}

const preemptDoc = `
conformance: ECC2
tasks:
  - {name: L1, priority: 1, autostart: [OSDEFAULTAPPMODE]}
  - {name: L2, priority: 1, autostart: [OSDEFAULTAPPMODE]}
  - {name: M, priority: 2}
`

func TestPreemptedTaskResumesAheadOfItsLevel(t *testing.T) {
	d := &recordingDispatcher{}
	hooks := &recordingHooks{}
	k := newKernel(t, preemptDoc, Registry{}, WithDispatcher(d), WithHooks(hooks))
	l1, l2, m := mustTask(t, k, "L1"), mustTask(t, k, "L2"), mustTask(t, k, "M")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	wantRunning(t, k, l1)

	if err := k.ActivateTask(m); err != nil {
		t.Fatalf("ActivateTask(M) error = %v", err)
	}
	wantRunning(t, k, m)
	sw := d.last(t)
	if sw.From != l1 || sw.To != m || !sw.Preempted || !sw.NewContext {
		t.Fatalf("preempting switch = %+v", sw)
	}
	if st, _ := k.GetTaskState(l1); st != Ready {
		t.Fatalf("GetTaskState(L1) = %s, want READY", st)
	}
	if len(hooks.post) != 1 || hooks.post[0] != l1 {
		t.Fatalf("post-task hooks = %v, want [%d]", hooks.post, l1)
	}

	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	wantRunning(t, k, l1)
	if sw := d.last(t); sw.NewContext {
		t.Fatalf("resuming L1 asked for a new context: %+v", sw)
	}

	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	wantRunning(t, k, l2)
}

const limitDoc = `
conformance: BCC2
tasks:
  - {name: T, priority: 1, activation: 2}
  - {name: H, priority: 2, autostart: [OSDEFAULTAPPMODE]}
`

func TestActivationLimit(t *testing.T) {
	d := &recordingDispatcher{}
	hooks := &recordingHooks{}
	k := newKernel(t, limitDoc, Registry{}, WithDispatcher(d), WithHooks(hooks))
	tid := mustTask(t, k, "T")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := k.ActivateTask(tid); err != nil {
			t.Fatalf("ActivateTask #%d error = %v", i+1, err)
		}
	}
	err := k.ActivateTask(tid)
	if !errors.Is(err, ErrLimit) {
		t.Fatalf("third ActivateTask error = %v, want %v", err, ErrLimit)
	}
	if len(hooks.calls) != 1 || hooks.calls[0] != SysActivateTask {
		t.Fatalf("error hook calls = %v, want [ActivateTask]", hooks.calls)
	}
	if n := k.Task(tid).PendingActivations(); n != 2 {
		t.Fatalf("PendingActivations() = %d, want 2", n)
	}

	// H ends, T runs twice from a fresh context, then idle
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(H) error = %v", err)
	}
	wantRunning(t, k, tid)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(T) error = %v", err)
	}
	wantRunning(t, k, tid)
	if sw := d.last(t); sw.From != tid || sw.To != tid || !sw.NewContext {
		t.Fatalf("reactivation switch = %+v", sw)
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(T) error = %v", err)
	}
	wantRunning(t, k, k.IdleTask())
	if st, _ := k.GetTaskState(tid); st != Suspended {
		t.Fatalf("GetTaskState(T) = %s, want SUSPENDED", st)
	}
}

func TestChainTaskToSelf(t *testing.T) {
	d := &recordingDispatcher{}
	k := newKernel(t, limitDoc, Registry{}, WithDispatcher(d))
	h := mustTask(t, k, "H")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.ChainTask(h); err != nil {
		t.Fatalf("ChainTask(self) error = %v", err)
	}
	wantRunning(t, k, h)
	if sw := d.last(t); !sw.NewContext {
		t.Fatalf("chain to self did not restart: %+v", sw)
	}
	if n := k.Task(h).PendingActivations(); n != 1 {
		t.Fatalf("PendingActivations() = %d, want 1", n)
	}
}

const resourceDoc = `
conformance: ECC2
tasks:
  - {name: Lo, priority: 1, autostart: [OSDEFAULTAPPMODE]}
  - {name: Mid, priority: 2}
  - {name: Hi, priority: 3}
resources:
  - {name: R, users: [Lo, Mid]}
  - {name: R2, users: [Lo]}
`

func TestResourceCeiling(t *testing.T) {
	k := newKernel(t, resourceDoc, Registry{})
	lo, mid, hi := mustTask(t, k, "Lo"), mustTask(t, k, "Mid"), mustTask(t, k, "Hi")
	r, _ := k.ResourceByName("R")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.GetResource(r); err != nil {
		t.Fatalf("GetResource() error = %v", err)
	}
	if p := k.Task(lo).CurrentPriority(); p != 2 {
		t.Fatalf("CurrentPriority() = %d, want ceiling 2", p)
	}
	if owner := k.Resource(r).Owner(); owner != lo {
		t.Fatalf("Owner() = %d, want %d", owner, lo)
	}

	// same priority as the ceiling: no preemption
	if err := k.ActivateTask(mid); err != nil {
		t.Fatalf("ActivateTask(Mid) error = %v", err)
	}
	wantRunning(t, k, lo)

	// above the ceiling: preempts, and Lo goes back ahead of Mid
	if err := k.ActivateTask(hi); err != nil {
		t.Fatalf("ActivateTask(Hi) error = %v", err)
	}
	wantRunning(t, k, hi)
	if err := k.GetResource(r); !errors.Is(err, ErrAccess) {
		t.Fatalf("GetResource from Hi error = %v, want %v", err, ErrAccess)
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(Hi) error = %v", err)
	}
	wantRunning(t, k, lo)

	if err := k.ReleaseResource(r); err != nil {
		t.Fatalf("ReleaseResource() error = %v", err)
	}
	wantRunning(t, k, mid)
	if p := k.Task(lo).CurrentPriority(); p != 1 {
		t.Fatalf("CurrentPriority() after release = %d, want 1", p)
	}
	if owner := k.Resource(r).Owner(); owner != InvalidTask {
		t.Fatalf("Owner() after release = %d, want none", owner)
	}
}

func TestResourceReleaseOrder(t *testing.T) {
	k := newKernel(t, resourceDoc, Registry{})
	r, _ := k.ResourceByName("R")
	r2, _ := k.ResourceByName("R2")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	for _, id := range []ResourceID{r, r2} {
		if err := k.GetResource(id); err != nil {
			t.Fatalf("GetResource(%d) error = %v", id, err)
		}
	}
	if err := k.ReleaseResource(r); !errors.Is(err, ErrNoFunc) {
		t.Fatalf("out of order ReleaseResource error = %v, want %v", err, ErrNoFunc)
	}
	if err := k.TerminateTask(); !errors.Is(err, ErrResource) {
		t.Fatalf("TerminateTask holding resources error = %v, want %v", err, ErrResource)
	}
	if err := k.GetResource(r); !errors.Is(err, ErrAccess) {
		t.Fatalf("GetResource of an owned resource error = %v, want %v", err, ErrAccess)
	}
	for _, id := range []ResourceID{r2, r} {
		if err := k.ReleaseResource(id); err != nil {
			t.Fatalf("ReleaseResource(%d) error = %v", id, err)
		}
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
}

func TestStandardCheckingReleasesOnTerminate(t *testing.T) {
	k := newKernel(t, "error_checking: standard\n"+resourceDoc, Registry{})
	lo := mustTask(t, k, "Lo")
	r, _ := k.ResourceByName("R")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.GetResource(r); err != nil {
		t.Fatalf("GetResource() error = %v", err)
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	if owner := k.Resource(r).Owner(); owner != InvalidTask {
		t.Fatalf("Owner() after terminate = %d, want none", owner)
	}
	if p := k.Task(lo).CurrentPriority(); p != 1 {
		t.Fatalf("CurrentPriority() = %d, want 1", p)
	}
}

const eventDoc = `
conformance: ECC2
tasks:
  - {name: S, priority: 1, autostart: [OSDEFAULTAPPMODE]}
  - {name: W, priority: 2, kind: extended, events: [1, 2], autostart: [OSDEFAULTAPPMODE]}
`

func TestWaitEventAndWake(t *testing.T) {
	d := &recordingDispatcher{}
	k := newKernel(t, eventDoc, Registry{}, WithDispatcher(d))
	s, w := mustTask(t, k, "S"), mustTask(t, k, "W")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	wantRunning(t, k, w)

	if err := k.WaitEvent(1); err != nil {
		t.Fatalf("WaitEvent() error = %v", err)
	}
	wantRunning(t, k, s)
	if st, _ := k.GetTaskState(w); st != Waiting {
		t.Fatalf("GetTaskState(W) = %s, want WAITING", st)
	}

	// a bit W is not waiting for does not wake it
	if err := k.SetEvent(w, 2); err != nil {
		t.Fatalf("SetEvent(2) error = %v", err)
	}
	wantRunning(t, k, s)

	if err := k.SetEvent(w, 1); err != nil {
		t.Fatalf("SetEvent(1) error = %v", err)
	}
	wantRunning(t, k, w)
	if sw := d.last(t); sw.NewContext || sw.From != s || !sw.Preempted {
		t.Fatalf("wake switch = %+v", sw)
	}
	if ev, err := k.GetEvent(w); err != nil || ev != 3 {
		t.Fatalf("GetEvent() = %#x, %v; want 0x3", ev, err)
	}
	if err := k.ClearEvent(1); err != nil {
		t.Fatalf("ClearEvent() error = %v", err)
	}

	// already set: WaitEvent returns without leaving the processor
	n := len(d.switches)
	if err := k.WaitEvent(2); err != nil {
		t.Fatalf("WaitEvent() error = %v", err)
	}
	wantRunning(t, k, w)
	if len(d.switches) != n {
		t.Fatalf("WaitEvent on a set event switched tasks")
	}
}

func TestSetEventErrors(t *testing.T) {
	k := newKernel(t, eventDoc+"  - {name: X, priority: 1, kind: extended, events: [1]}\n", Registry{})
	s, w, x := mustTask(t, k, "S"), mustTask(t, k, "W"), mustTask(t, k, "X")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	tests := []struct {
		name string
		id   TaskID
		mask EventMask
		want error
	}{
		{"suspended", x, 1, ErrState},
		{"basic task", s, 1, ErrAccess},
		{"unowned bits", w, 4, ErrAccess},
		{"bad id", 42, 1, ErrID},
		{"idle", k.IdleTask(), 1, ErrID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := k.SetEvent(tt.id, tt.mask); !errors.Is(err, tt.want) {
				t.Fatalf("SetEvent() error = %v, want %v", err, tt.want)
			}
		})
	}
}

const scenarioDoc = `
conformance: ECC2
tasks:
  - {name: Task0, priority: 1, autostart: [OSDEFAULTAPPMODE]}
  - {name: Task1, priority: 2, autostart: [OSDEFAULTAPPMODE]}
counters:
  - {name: SYSTEM_COUNTER, max_allowed: 100}
alarms:
  - name: ActivateTask1
    counter: SYSTEM_COUNTER
    action: {kind: activate, task: Task1}
    autostart: {type: relative, time: 5, cycle: 5}
`

func TestTickDrivenScenario(t *testing.T) {
	d := &recordingDispatcher{}
	rec := NewRecorder(nil)
	k := newKernel(t, scenarioDoc, Registry{}, WithDispatcher(d), WithTracer(rec))
	t0, t1 := mustTask(t, k, "Task0"), mustTask(t, k, "Task1")
	ctr, _ := k.CounterByName("SYSTEM_COUNTER")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	wantRunning(t, k, t1)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	wantRunning(t, k, t0)

	for i := 1; i <= 4; i++ {
		if _, ok := k.Tick(ctr); ok {
			t.Fatalf("tick %d switched tasks", i)
		}
	}
	sw, ok := k.Tick(ctr)
	if !ok || sw.From != t0 || sw.To != t1 || !sw.Preempted || !sw.NewContext {
		t.Fatalf("tick 5 = %+v, %v; want Task0 -> Task1", sw, ok)
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	wantRunning(t, k, t0)
	if sw := d.last(t); sw.NewContext {
		t.Fatalf("Task0 resumed with a new context: %+v", sw)
	}

	if got := k.Ticks(); got != 5 {
		t.Fatalf("Ticks() = %d, want 5", got)
	}
	if got := len(rec.Filter(StatusAlarm)); got != 1 {
		t.Fatalf("alarm events = %d, want 1", got)
	}
	if got := len(rec.Filter(StatusTick)); got != 5 {
		t.Fatalf("tick events = %d, want 5", got)
	}
}

func TestStartOSTwiceAndShutdown(t *testing.T) {
	hooks := &recordingHooks{}
	k := newKernel(t, scenarioDoc, Registry{}, WithHooks(hooks))
	ctr, _ := k.CounterByName("SYSTEM_COUNTER")

	if err := k.StartOS(1); !errors.Is(err, ErrID) {
		t.Fatalf("StartOS(unknown mode) error = %v, want %v", err, ErrID)
	}
	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.StartOS(0); !errors.Is(err, ErrCallLevel) {
		t.Fatalf("second StartOS() error = %v, want %v", err, ErrCallLevel)
	}
	if hooks.startups != 1 {
		t.Fatalf("startup hook ran %d times, want 1", hooks.startups)
	}
	if got := k.GetActiveApplicationMode(); got != 0 {
		t.Fatalf("GetActiveApplicationMode() = %d, want 0", got)
	}

	k.ShutdownOS(nil)
	if st := k.State(); st != StateShutdown {
		t.Fatalf("State() = %s, want Shutdown", st)
	}
	if _, ok := k.Tick(ctr); ok {
		t.Fatalf("Tick after shutdown switched tasks")
	}
	if k.Ticks() != 0 {
		t.Fatalf("Ticks() = %d after shutdown, want 0", k.Ticks())
	}
	if err := k.TerminateTask(); !errors.Is(err, ErrCallLevel) {
		t.Fatalf("TerminateTask after shutdown error = %v, want %v", err, ErrCallLevel)
	}
}

func TestSystemCallsFailAfterShutdown(t *testing.T) {
	for _, checking := range []string{"extended", "standard"} {
		t.Run(checking, func(t *testing.T) {
			hooks := &recordingHooks{}
			k := newKernel(t, "error_checking: "+checking+"\n"+scenarioDoc, Registry{}, WithHooks(hooks))
			t0 := mustTask(t, k, "Task0")
			alarm, _ := k.AlarmByName("ActivateTask1")
			ctr, _ := k.CounterByName("SYSTEM_COUNTER")

			if err := k.StartOS(0); err != nil {
				t.Fatalf("StartOS() error = %v", err)
			}
			k.ShutdownOS(nil)

			calls := map[string]func() error{
				"ActivateTask":     func() error { return k.ActivateTask(t0) },
				"ChainTask":        func() error { return k.ChainTask(t0) },
				"Schedule":         k.Schedule,
				"GetTaskID":        func() error { _, err := k.GetTaskID(); return err },
				"GetTaskState":     func() error { _, err := k.GetTaskState(t0); return err },
				"SetRelAlarm":      func() error { return k.SetRelAlarm(alarm, 3, 0) },
				"SetAbsAlarm":      func() error { return k.SetAbsAlarm(alarm, 3, 0) },
				"CancelAlarm":      func() error { return k.CancelAlarm(alarm) },
				"GetAlarm":         func() error { _, err := k.GetAlarm(alarm); return err },
				"GetAlarmBase":     func() error { _, err := k.GetAlarmBase(alarm); return err },
				"IncrementCounter": func() error { return k.IncrementCounter(ctr) },
			}
			for name, call := range calls {
				if err := call(); !errors.Is(err, ErrCallLevel) {
					t.Errorf("%s after shutdown error = %v, want %v", name, err, ErrCallLevel)
				}
			}

			if st, n := k.Task(t0).State(), k.Task(t0).PendingActivations(); st != Activated || n != 1 {
				t.Fatalf("Task0 = %s with %d pending, want NEW with 1", st, n)
			}
			if st := k.Alarm(alarm).State(); st != AlarmActive {
				t.Fatalf("alarm state = %v, want active", st)
			}
			if len(hooks.calls) != 0 {
				t.Fatalf("error hook ran after shutdown for %v", hooks.calls)
			}
		})
	}
}

const nonPreemptDoc = `
conformance: ECC2
tasks:
  - {name: N, priority: 1, schedule: non, autostart: [OSDEFAULTAPPMODE]}
  - {name: H, priority: 3}
`

func TestNonPreemptiveTaskYieldsOnSchedule(t *testing.T) {
	k := newKernel(t, nonPreemptDoc, Registry{})
	n, h := mustTask(t, k, "N"), mustTask(t, k, "H")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if p := k.Task(n).CurrentPriority(); p != 3 {
		t.Fatalf("CurrentPriority() = %d, want internal ceiling 3", p)
	}
	if err := k.ActivateTask(h); err != nil {
		t.Fatalf("ActivateTask(H) error = %v", err)
	}
	wantRunning(t, k, n)

	if err := k.Schedule(); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	wantRunning(t, k, h)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask() error = %v", err)
	}
	wantRunning(t, k, n)
	if p := k.Task(n).CurrentPriority(); p != 3 {
		t.Fatalf("CurrentPriority() after resume = %d, want 3", p)
	}
}

func TestErrorHookRunsInErrorHookState(t *testing.T) {
	hooks := &stateHooks{}
	k := newKernel(t, orderingDoc, Registry{}, WithHooks(hooks))
	hooks.k = k

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.ActivateTask(99); !errors.Is(err, ErrID) {
		t.Fatalf("ActivateTask(99) error = %v, want %v", err, ErrID)
	}
	if len(hooks.states) != 1 || hooks.states[0] != StateErrorHook {
		t.Fatalf("error hook states = %v, want [ErrorHook]", hooks.states)
	}
}

type stateHooks struct {
	NopHooks
	k      *Kernel
	states []OsState
}

// ErrorHook runs with the critical section held, so it reads the state
// directly.
func (h *stateHooks) ErrorHook(Syscall, error) {
	h.states = append(h.states, h.k.osState)
}

func TestChainTaskLimitLeavesBothTasks(t *testing.T) {
	k := newKernel(t, limitDoc, Registry{})
	tid, h := mustTask(t, k, "T"), mustTask(t, k, "H")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := k.ActivateTask(tid); err != nil {
			t.Fatalf("ActivateTask #%d error = %v", i+1, err)
		}
	}
	if err := k.ChainTask(tid); !errors.Is(err, ErrLimit) {
		t.Fatalf("ChainTask(T) error = %v, want %v", err, ErrLimit)
	}
	wantRunning(t, k, h)
	if n := k.Task(h).PendingActivations(); n != 1 {
		t.Fatalf("H PendingActivations() = %d, want 1", n)
	}
	if n := k.Task(tid).PendingActivations(); n != 2 {
		t.Fatalf("T PendingActivations() = %d, want 2", n)
	}
	if n := k.ReadyCount(); n != 1 {
		t.Fatalf("ReadyCount() = %d, want 1", n)
	}
}

func TestScheduleFromPreemptiveTaskIsNoop(t *testing.T) {
	d := &recordingDispatcher{}
	k := newKernel(t, preemptDoc, Registry{}, WithDispatcher(d))
	l1 := mustTask(t, k, "L1")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	n := len(d.switches)
	if err := k.Schedule(); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	wantRunning(t, k, l1)
	if len(d.switches) != n {
		t.Fatalf("Schedule() switched tasks: %+v", d.last(t))
	}
	if got := k.ReadyHead(); got != mustTask(t, k, "L2") {
		t.Fatalf("ReadyHead() = %d, want L2", got)
	}
}

const groupDoc = `
conformance: ECC2
tasks:
  - {name: G1, priority: 1, kind: extended, events: [1], internal_resource: GROUP, autostart: [OSDEFAULTAPPMODE]}
  - {name: G2, priority: 2, internal_resource: GROUP}
resources:
  - {name: GROUP, internal: true}
`

func TestInternalResourceGroup(t *testing.T) {
	k := newKernel(t, groupDoc, Registry{})
	g1, g2 := mustTask(t, k, "G1"), mustTask(t, k, "G2")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	wantRunning(t, k, g1)
	if p := k.Task(g1).CurrentPriority(); p != 2 {
		t.Fatalf("G1 CurrentPriority() = %d, want group ceiling 2", p)
	}

	// G2 shares the group, so it cannot preempt G1
	if err := k.ActivateTask(g2); err != nil {
		t.Fatalf("ActivateTask(G2) error = %v", err)
	}
	wantRunning(t, k, g1)

	// waiting drops the group
	if err := k.WaitEvent(1); err != nil {
		t.Fatalf("WaitEvent() error = %v", err)
	}
	wantRunning(t, k, g2)
	if p := k.Task(g1).CurrentPriority(); p != 1 {
		t.Fatalf("waiting G1 CurrentPriority() = %d, want 1", p)
	}
	if err := k.SetEvent(g1, 1); err != nil {
		t.Fatalf("SetEvent() error = %v", err)
	}
	wantRunning(t, k, g2)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(G2) error = %v", err)
	}
	if p := k.Task(g2).CurrentPriority(); p != 2 {
		t.Fatalf("terminated G2 CurrentPriority() = %d, want 2", p)
	}

	// G1 takes the group again when it is dispatched
	wantRunning(t, k, g1)
	if p := k.Task(g1).CurrentPriority(); p != 2 {
		t.Fatalf("resumed G1 CurrentPriority() = %d, want 2", p)
	}

	// Schedule lets a higher member of the group in
	if err := k.ActivateTask(g2); err != nil {
		t.Fatalf("ActivateTask(G2) error = %v", err)
	}
	wantRunning(t, k, g1)
	if err := k.Schedule(); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	wantRunning(t, k, g2)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(G2) error = %v", err)
	}
	wantRunning(t, k, g1)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(G1) error = %v", err)
	}
	if p := k.Task(g1).CurrentPriority(); p != 1 {
		t.Fatalf("terminated G1 CurrentPriority() = %d, want 1", p)
	}
	wantRunning(t, k, k.IdleTask())
}

func TestActivationClearsEvents(t *testing.T) {
	k := newKernel(t, eventDoc, Registry{})
	s, w := mustTask(t, k, "S"), mustTask(t, k, "W")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.WaitEvent(1); err != nil {
		t.Fatalf("WaitEvent() error = %v", err)
	}
	wantRunning(t, k, s)
	if err := k.SetEvent(w, 2); err != nil {
		t.Fatalf("SetEvent(2) error = %v", err)
	}
	if err := k.SetEvent(w, 1); err != nil {
		t.Fatalf("SetEvent(1) error = %v", err)
	}
	wantRunning(t, k, w)
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(W) error = %v", err)
	}
	wantRunning(t, k, s)
	if got := k.Task(w).dyn.eventsSet; got != 3 {
		t.Fatalf("events of suspended W = %#x, want 0x3", got)
	}

	if err := k.ActivateTask(w); err != nil {
		t.Fatalf("ActivateTask(W) error = %v", err)
	}
	wantRunning(t, k, w)
	if ev, err := k.GetEvent(w); err != nil || ev != 0 {
		t.Fatalf("GetEvent() after activation = %#x, %v; want 0", ev, err)
	}
	if got := k.Task(w).dyn.eventsWaiting; got != 0 {
		t.Fatalf("waited events after activation = %#x, want 0", got)
	}
}

func TestCategory2Interrupt(t *testing.T) {
	d := &recordingDispatcher{}
	k := newKernel(t, eventDoc, Registry{}, WithDispatcher(d))
	s, w := mustTask(t, k, "S"), mustTask(t, k, "W")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.WaitEvent(1); err != nil {
		t.Fatalf("WaitEvent() error = %v", err)
	}
	wantRunning(t, k, s)

	k.EnterISR()
	if st := k.State(); st != StateISR2 {
		t.Fatalf("State() in ISR = %s, want ISR2", st)
	}
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"GetEvent", func() error { _, err := k.GetEvent(w); return err }, nil},
		{"ClearEvent", func() error { return k.ClearEvent(1) }, ErrCallLevel},
		{"WaitEvent", func() error { return k.WaitEvent(1) }, ErrCallLevel},
		{"TerminateTask", k.TerminateTask, ErrCallLevel},
		{"ChainTask", func() error { return k.ChainTask(w) }, ErrCallLevel},
		{"SetEvent", func() error { return k.SetEvent(w, 1) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Fatalf("%s() in ISR error = %v, want %v", tt.name, err, tt.want)
			}
		})
	}

	// the wake-up is deferred to the end of the interrupt
	wantRunning(t, k, s)
	n := len(d.switches)
	sw, ok := k.LeaveISR()
	if !ok || sw.From != s || sw.To != w || !sw.Preempted {
		t.Fatalf("LeaveISR() = %+v, %v; want S -> W", sw, ok)
	}
	if len(d.switches) != n+1 {
		t.Fatalf("dispatcher saw %d switches, want %d", len(d.switches), n+1)
	}
	wantRunning(t, k, w)
	if st := k.State(); st != StateTask {
		t.Fatalf("State() after ISR = %s, want Task", st)
	}
}

func TestNestedInterruptsRescheduleOnce(t *testing.T) {
	k := newKernel(t, orderingDoc, Registry{})
	a, h := mustTask(t, k, "A"), mustTask(t, k, "H")

	if err := k.StartOS(0); err != nil {
		t.Fatalf("StartOS() error = %v", err)
	}
	if err := k.TerminateTask(); err != nil {
		t.Fatalf("TerminateTask(H) error = %v", err)
	}
	if err := k.ActivateTask(a); err != nil {
		t.Fatalf("ActivateTask(A) error = %v", err)
	}
	wantRunning(t, k, a)

	k.EnterISR()
	k.EnterISR()
	if err := k.ActivateTask(h); err != nil {
		t.Fatalf("ActivateTask(H) in ISR error = %v", err)
	}
	if _, ok := k.LeaveISR(); ok {
		t.Fatalf("inner LeaveISR() switched tasks")
	}
	wantRunning(t, k, a)
	if sw, ok := k.LeaveISR(); !ok || sw.To != h {
		t.Fatalf("outer LeaveISR() = %+v, %v; want switch to H", sw, ok)
	}
	if _, ok := k.LeaveISR(); ok {
		t.Fatalf("unbalanced LeaveISR() switched tasks")
	}
}

type countingLocker struct {
	sync.Mutex
	locks, unlocks int
}

func (l *countingLocker) Lock() {
	l.Mutex.Lock()
	l.locks++
}

func (l *countingLocker) Unlock() {
	l.unlocks++
	l.Mutex.Unlock()
}

func TestCriticalSectionPerCall(t *testing.T) {
	l := &countingLocker{}
	k := newKernel(t, scenarioDoc, Registry{}, WithCriticalSection(l))
	t0 := mustTask(t, k, "Task0")
	alarm, _ := k.AlarmByName("ActivateTask1")
	ctr, _ := k.CounterByName("SYSTEM_COUNTER")

	steps := []struct {
		name string
		call func()
	}{
		{"StartOS", func() { _ = k.StartOS(0) }},
		{"ActivateTask", func() { _ = k.ActivateTask(t0) }},
		{"GetAlarm", func() { _, _ = k.GetAlarm(alarm) }},
		{"Tick", func() { k.Tick(ctr) }},
		{"TerminateTask", func() { _ = k.TerminateTask() }},
		{"CancelAlarm", func() { _ = k.CancelAlarm(alarm) }},
		{"EnterISR", k.EnterISR},
		{"LeaveISR", func() { k.LeaveISR() }},
	}
	for _, step := range steps {
		before := l.locks
		step.call()
		if l.locks != before+1 || l.unlocks != l.locks {
			t.Fatalf("%s: %d locks and %d unlocks, want one balanced pair", step.name, l.locks-before, l.unlocks-before)
		}
	}
}
