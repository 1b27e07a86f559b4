package job

import (
	"time"

	"osek/internal/machine"
)

// Busy returns a body step that computes for the given duration, reaching a
// preemption point every millisecond.
func Busy(ms int64) func(env *machine.Env) {
	return func(env *machine.Env) {
		deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
		for time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
			env.Checkpoint()
		}
	}
}

// WaitTicks returns a body step that keeps the processor until the kernel
// has processed n more hardware ticks.
func WaitTicks(n uint64) func(env *machine.Env) {
	return func(env *machine.Env) {
		k := env.Kernel()
		until := k.Ticks() + n
		for k.Ticks() < until {
			time.Sleep(100 * time.Microsecond)
			env.Checkpoint()
		}
	}
}
