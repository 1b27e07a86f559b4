// internal/machine/machine.go

package machine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"osek/internal/sched"
)

// Body is a task body. It runs on its own goroutine and reaches the kernel
// only through env. Returning from the body terminates the task.
type Body func(env *Env)

// Machine is the host port of the kernel. Every task runs on a goroutine of
// its own, but only the goroutine holding the baton executes; the baton
// moves when the kernel dispatches. Ticks are taken by the baton holder at
// preemption points (system calls and Env.Checkpoint), so the kernel only
// ever sees calls from the task it believes is running.
type Machine struct {
	k       *sched.Kernel
	clock   *TickClock
	logger  logrus.FieldLogger
	bodies  map[string]Body
	counter sched.CounterID
	limit   uint64 // shut down after this many ticks, 0 = never
	tick    time.Duration
	idle    sched.TaskID

	ctx      context.Context
	mu       sync.Mutex
	target   sched.TaskID
	fresh    []bool
	resume   []chan struct{}
	idleUp   bool
	switches int

	quit     chan struct{}
	stopOnce sync.Once
	err      error
}

// Option configures a Machine.
type Option func(*Machine)

// WithCounter selects the counter driven by the clock. By default the first
// hardware counter is used.
func WithCounter(name string) Option {
	return func(m *Machine) { m.counter = m.lookupCounter(name) }
}

// WithTickLimit shuts the OS down after n ticks.
func WithTickLimit(n uint64) Option { return func(m *Machine) { m.limit = n } }

// WithTickInterval sets the period of the clock started by Run.
func WithTickInterval(d time.Duration) Option { return func(m *Machine) { m.tick = d } }

// WithClock replaces the clock. A clock that is never started can be fired
// by hand.
func WithClock(c *TickClock) Option { return func(m *Machine) { m.clock = c } }

// WithLogger sets the logger of the machine and of the task bodies.
func WithLogger(l logrus.FieldLogger) Option { return func(m *Machine) { m.logger = l } }

// New builds a kernel from tb with the machine as its dispatcher. Bodies are
// looked up by task name; a task without one runs its configured entry, or
// terminates at once when it has none.
func New(tb *sched.Tables, bodies map[string]Body, kopts []sched.Option, opts ...Option) (*Machine, error) {
	m := &Machine{
		bodies:  bodies,
		counter: -1,
		tick:    5 * time.Millisecond,
		target:  sched.InvalidTask,
		quit:    make(chan struct{}),
		logger:  logrus.StandardLogger(),
	}
	k, err := sched.New(tb, append(kopts, sched.WithDispatcher(m))...)
	if err != nil {
		return nil, err
	}
	m.k = k
	m.idle = k.IdleTask()

	n := k.TaskCount()
	m.fresh = make([]bool, n)
	m.resume = make([]chan struct{}, n)
	for i := 0; i < n; i++ {
		m.resume[i] = make(chan struct{}, 1)
		k.Task(sched.TaskID(i)).SetContext(&Env{m: m, id: sched.TaskID(i)})
	}
	for _, c := range tb.Counters {
		if c.Kind == sched.HardwareCounter {
			m.counter = c.ID
			break
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = NewTickClock(256)
	}
	return m, nil
}

func (m *Machine) lookupCounter(name string) sched.CounterID {
	if id, ok := m.k.CounterByName(name); ok {
		return id
	}
	return -1
}

// Kernel returns the kernel driven by the machine.
func (m *Machine) Kernel() *sched.Kernel { return m.k }

// Clock returns the tick source.
func (m *Machine) Clock() *TickClock { return m.clock }

// Switches returns how many task switches the kernel requested.
func (m *Machine) Switches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switches
}

// Dispatch implements sched.Dispatcher. It only records the decision; the
// baton moves when the current holder reaches a preemption point.
func (m *Machine) Dispatch(sw sched.Switch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.target = sw.To
	if sw.NewContext && sw.To != m.idle {
		m.fresh[sw.To] = true
	}
	m.switches++
}

// Run starts the OS in mode and blocks until it shuts down, either because
// a task called ShutdownOS, the tick limit was reached or ctx ended.
func (m *Machine) Run(ctx context.Context, mode sched.AppMode) error {
	m.ctx = ctx
	if err := m.k.StartOS(mode); err != nil {
		return fmt.Errorf("start os: %w", err)
	}
	if m.tick > 0 {
		m.clock.Start(m.tick)
	}
	defer m.clock.Stop()
	m.logger.WithFields(logrus.Fields{
		"mode":       mode,
		"tick":       m.tick,
		"tick_limit": m.limit,
	}).Debug("machine started")

	m.mu.Lock()
	m.handoff()
	m.mu.Unlock()

	<-m.quit
	return m.err
}

// handoff gives the baton to the dispatch target. m.mu must be held.
func (m *Machine) handoff() {
	to := m.target
	switch {
	case to == sched.InvalidTask:
	case to == m.idle:
		if !m.idleUp {
			m.idleUp = true
			go m.idleLoop(to)
			return
		}
		m.resume[to] <- struct{}{}
	case m.fresh[to]:
		m.fresh[to] = false
		go m.run(to)
	default:
		m.resume[to] <- struct{}{}
	}
}

// yieldTo reports whether self lost the baton, handing it over if so.
func (m *Machine) yieldTo(self sched.TaskID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == self && !m.fresh[self] {
		return false
	}
	m.handoff()
	return true
}

// point is a preemption point: pending ticks are taken and, if the kernel
// switched away from self, the goroutine parks until it is dispatched again.
func (m *Machine) point(self sched.TaskID) {
	for {
		select {
		case <-m.quit:
			runtime.Goexit()
		default:
		}
		if err := m.ctx.Err(); err != nil {
			m.shutdown(err)
		}
		m.takeTicks()
		if m.limit > 0 && m.k.Ticks() >= m.limit {
			m.shutdown(nil)
		}
		if !m.yieldTo(self) {
			return
		}
		select {
		case <-m.resume[self]:
		case <-m.quit:
			runtime.Goexit()
		}
	}
}

func (m *Machine) takeTicks() {
	for {
		select {
		case <-m.clock.Ch:
			m.k.Tick(m.counter)
		default:
			return
		}
	}
}

// exit ends the calling task goroutine after TerminateTask or ChainTask.
func (m *Machine) exit() {
	m.mu.Lock()
	m.handoff()
	m.mu.Unlock()
	runtime.Goexit()
}

// shutdown stops the kernel and ends the calling goroutine.
func (m *Machine) shutdown(err error) {
	m.k.ShutdownOS(err)
	m.finish(err)
}

func (m *Machine) finish(err error) {
	m.stopOnce.Do(func() {
		m.err = err
		close(m.quit)
	})
	runtime.Goexit()
}

func (m *Machine) run(id sched.TaskID) {
	t := m.k.Task(id)
	env := t.Context().(*Env)

	switch body := m.bodies[t.Name]; {
	case body != nil:
		body(env)
	case t.Entry != nil:
		env.Checkpoint()
		t.Entry()
	}
	// falling off the end of a body terminates the task
	if err := env.TerminateTask(); err != nil {
		m.logger.WithError(err).WithField("task", t.Name).Error("task body returned and cannot terminate")
		m.shutdown(fmt.Errorf("task %s cannot terminate: %w", t.Name, err))
	}
}

// idleLoop is the idle task: it waits for the next tick and never leaves
// the processor of its own accord.
func (m *Machine) idleLoop(id sched.TaskID) {
	for {
		m.point(id)
		select {
		case <-m.clock.Ch:
			m.k.Tick(m.counter)
		case <-m.ctx.Done():
		case <-m.quit:
			runtime.Goexit()
		}
	}
}
