// internal/fifo/queue.go

package fifo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emirpasic/gods/containers"
)

var (
	ErrInvalidBuffer = errors.New("fifo: nil or zero-capacity buffer")
	ErrFull          = errors.New("fifo: queue is full")
	ErrEmpty         = errors.New("fifo: queue is empty")
	ErrNullElement   = errors.New("fifo: nil element")
)

// assert Queue implementation
var _ containers.Container = (*Queue[int])(nil)

// Queue is a fixed-capacity circular buffer of element references.
// It never grows; the capacity is fixed when the queue is created.
type Queue[T any] struct {
	buf  []*T
	head int
	tail int
	size int
}

// New allocates a queue holding at most capacity elements.
func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, ErrInvalidBuffer
	}
	return NewWithBuffer(make([]*T, capacity))
}

// NewWithBuffer creates a queue backed by the caller-supplied buffer.
// The capacity is len(buf).
func NewWithBuffer[T any](buf []*T) (*Queue[T], error) {
	if len(buf) == 0 {
		return nil, ErrInvalidBuffer
	}
	return &Queue[T]{buf: buf}, nil
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// EnqueueRear appends elem after the current tail.
func (q *Queue[T]) EnqueueRear(elem *T) error {
	if elem == nil {
		return ErrNullElement
	}
	if q.size == len(q.buf) {
		return ErrFull
	}
	if q.size != 0 {
		q.tail = (q.tail + 1) % len(q.buf)
	}
	q.buf[q.tail] = elem
	q.size++
	return nil
}

// EnqueueFront inserts elem before the current head.
func (q *Queue[T]) EnqueueFront(elem *T) error {
	if elem == nil {
		return ErrNullElement
	}
	if q.size == len(q.buf) {
		return ErrFull
	}
	if q.size != 0 {
		q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	}
	q.buf[q.head] = elem
	q.size++
	return nil
}

// DequeueFront removes and returns the head element.
func (q *Queue[T]) DequeueFront() (*T, error) {
	if q.size == 0 {
		return nil, ErrEmpty
	}
	elem := q.buf[q.head]
	q.buf[q.head] = nil
	// with a single element head and tail already coincide
	if q.size > 1 {
		q.head = (q.head + 1) % len(q.buf)
	}
	q.size--
	return elem, nil
}

// PeekFront returns the head element without removing it.
func (q *Queue[T]) PeekFront() (*T, error) {
	if q.size == 0 {
		return nil, ErrEmpty
	}
	return q.buf[q.head], nil
}

// Empty returns true if the queue holds no elements.
func (q *Queue[T]) Empty() bool { return q.size == 0 }

// Full returns true if the queue is at capacity.
func (q *Queue[T]) Full() bool { return q.size == len(q.buf) }

// Size returns the number of queued elements.
func (q *Queue[T]) Size() int { return q.size }

// Clear drops every element and resets the indices.
func (q *Queue[T]) Clear() {
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head, q.tail, q.size = 0, 0, 0
}

// Values returns the queued elements in head-to-tail order.
func (q *Queue[T]) Values() []interface{} {
	values := make([]interface{}, 0, q.size)
	for i := 0; i < q.size; i++ {
		values = append(values, q.buf[(q.head+i)%len(q.buf)])
	}
	return values
}

// String returns a string representation of the queue.
func (q *Queue[T]) String() string {
	str := fmt.Sprintf("FIFO %d/%d\n", q.size, len(q.buf))
	parts := make([]string, 0, q.size)
	for _, v := range q.Values() {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return str + strings.Join(parts, ", ")
}
