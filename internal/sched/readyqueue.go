// internal/sched/readyqueue.go

package sched

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/containers"

	"osek/internal/fifo"
)

// noLevel marks an empty ready queue or a priority with no level.
const noLevel = -1

// levelBackend stores the ready tasks of each priority level. Level 0 is
// the highest priority.
type levelBackend interface {
	AddRear(level int, t *Task) error
	AddFront(level int, t *Task) error
	RemoveFront(level int) (*Task, error)
	Peek(level int) (*Task, error)
	Level(level int) containers.Container
	Levels() int
}

// fifoBackend keeps one bounded FIFO per level (BCC2/ECC2).
type fifoBackend struct {
	queues []*fifo.Queue[Task]
}

func newFIFOBackend(capacities []int) (*fifoBackend, error) {
	b := &fifoBackend{queues: make([]*fifo.Queue[Task], len(capacities))}
	for i, c := range capacities {
		if c <= 0 {
			c = 1
		}
		q, err := fifo.New[Task](c)
		if err != nil {
			return nil, err
		}
		b.queues[i] = q
	}
	return b, nil
}

func (b *fifoBackend) AddRear(level int, t *Task) error {
	return mapFIFOErr(b.queues[level].EnqueueRear(t))
}

func (b *fifoBackend) AddFront(level int, t *Task) error {
	return mapFIFOErr(b.queues[level].EnqueueFront(t))
}

func (b *fifoBackend) RemoveFront(level int) (*Task, error) {
	t, err := b.queues[level].DequeueFront()
	return t, mapFIFOErr(err)
}

func (b *fifoBackend) Peek(level int) (*Task, error) {
	t, err := b.queues[level].PeekFront()
	return t, mapFIFOErr(err)
}

func (b *fifoBackend) Level(level int) containers.Container { return b.queues[level] }
func (b *fifoBackend) Levels() int                          { return len(b.queues) }

// slot is a level holding at most one task.
type slot struct{ t *Task }

var _ containers.Container = (*slot)(nil)

func (s *slot) Empty() bool { return s.t == nil }
func (s *slot) Clear()      { s.t = nil }

func (s *slot) Size() int {
	if s.t == nil {
		return 0
	}
	return 1
}

func (s *slot) Values() []interface{} {
	if s.t == nil {
		return nil
	}
	return []interface{}{s.t}
}

func (s *slot) String() string {
	if s.t == nil {
		return "slot: empty"
	}
	return fmt.Sprintf("slot: %s", s.t.Name)
}

// slotBackend keeps exactly one task per level (BCC1/ECC1).
type slotBackend struct {
	slots []slot
}

func newSlotBackend(levels int) *slotBackend {
	return &slotBackend{slots: make([]slot, levels)}
}

func (b *slotBackend) AddRear(level int, t *Task) error {
	if t == nil {
		return errQueueNull
	}
	if b.slots[level].t != nil {
		return errQueueFull
	}
	b.slots[level].t = t
	return nil
}

// AddFront is AddRear: a single slot has no front or rear.
func (b *slotBackend) AddFront(level int, t *Task) error { return b.AddRear(level, t) }

func (b *slotBackend) RemoveFront(level int) (*Task, error) {
	t := b.slots[level].t
	if t == nil {
		return nil, errQueueEmpty
	}
	b.slots[level].t = nil
	return t, nil
}

func (b *slotBackend) Peek(level int) (*Task, error) {
	if b.slots[level].t == nil {
		return nil, errQueueEmpty
	}
	return b.slots[level].t, nil
}

func (b *slotBackend) Level(level int) containers.Container { return &b.slots[level] }
func (b *slotBackend) Levels() int                          { return len(b.slots) }

var (
	errQueueFull  = errors.New("ready queue: level is full")
	errQueueEmpty = errors.New("ready queue: level is empty")
	errQueueNull  = errors.New("ready queue: nil task")
)

func mapFIFOErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fifo.ErrFull):
		return errQueueFull
	case errors.Is(err, fifo.ErrEmpty):
		return errQueueEmpty
	case errors.Is(err, fifo.ErrNullElement):
		return errQueueNull
	default:
		return err
	}
}

// ReadyQueue tracks which task is dispatched next across all levels.
type ReadyQueue struct {
	backend levelBackend
	levels  []Priority // levels[i] is the priority of level i, descending
	highest int        // lowest non-empty level index, or noLevel
	head    *Task      // mirrors the head of the highest level
}

func newReadyQueue(levels []Priority, backend levelBackend) *ReadyQueue {
	rq := &ReadyQueue{levels: levels, backend: backend}
	rq.init()
	return rq
}

// init empties every level.
func (rq *ReadyQueue) init() {
	for l := 0; l < rq.backend.Levels(); l++ {
		rq.backend.Level(l).Clear()
	}
	rq.highest = noLevel
	rq.head = nil
}

// LevelFor maps a runtime priority to its dense level index by a linear
// scan of the level table. It returns noLevel for unknown priorities.
func LevelFor(levels []Priority, p Priority) int {
	for i, lp := range levels {
		if lp == p {
			return i
		}
	}
	return noLevel
}

func (rq *ReadyQueue) levelFor(p Priority) int { return LevelFor(rq.levels, p) }

// addRear enqueues t behind the ready tasks of its current priority.
func (rq *ReadyQueue) addRear(t *Task) error {
	if t == nil {
		return errQueueNull
	}
	if err := rq.backend.AddRear(t.dyn.level, t); err != nil {
		return err
	}
	rq.raise(t.dyn.level)
	return nil
}

// addFront enqueues t ahead of the ready tasks of its current priority.
// Only a preempted task re-enters this way.
func (rq *ReadyQueue) addFront(t *Task) error {
	if t == nil {
		return errQueueNull
	}
	if err := rq.backend.AddFront(t.dyn.level, t); err != nil {
		return err
	}
	rq.raise(t.dyn.level)
	return nil
}

func (rq *ReadyQueue) raise(level int) {
	if rq.highest == noLevel || level < rq.highest {
		rq.highest = level
	}
	rq.head, _ = rq.backend.Peek(rq.highest)
}

// removeFront dequeues the head of the highest non-empty level.
func (rq *ReadyQueue) removeFront() (*Task, error) {
	if rq.highest == noLevel {
		return nil, errQueueEmpty
	}
	t, err := rq.backend.RemoveFront(rq.highest)
	if err != nil {
		return nil, err
	}
	if rq.backend.Level(rq.highest).Empty() {
		next := noLevel
		for l := rq.highest + 1; l < rq.backend.Levels(); l++ {
			if !rq.backend.Level(l).Empty() {
				next = l
				break
			}
		}
		rq.highest = next
	}
	rq.peekHighest()
	return t, nil
}

// peekHighest refreshes and returns the cached head.
func (rq *ReadyQueue) peekHighest() *Task {
	if rq.highest == noLevel {
		rq.head = nil
		return nil
	}
	t, err := rq.backend.Peek(rq.highest)
	if err != nil {
		rq.head = nil
		return nil
	}
	rq.head = t
	return t
}

// Len returns the number of ready tasks across all levels.
func (rq *ReadyQueue) Len() int {
	n := 0
	for l := 0; l < rq.backend.Levels(); l++ {
		n += rq.backend.Level(l).Size()
	}
	return n
}

// Tasks returns the ready tasks in dispatch order.
func (rq *ReadyQueue) Tasks() []TaskID {
	var out []TaskID
	for l := 0; l < rq.backend.Levels(); l++ {
		for _, v := range rq.backend.Level(l).Values() {
			out = append(out, v.(*Task).ID)
		}
	}
	return out
}
