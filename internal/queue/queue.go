// Package queue provides the FIFO queue used for session event dispatching
// and the simulator's planner buffer.
package queue

// Queue is a FIFO queue. Implementations are not safe for concurrent use.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(item T)
	// Dequeue removes and returns the item at the head of the queue.
	// ok is false when the queue is empty.
	Dequeue() (item T, ok bool)
	// Peek returns the item at the head of the queue without removing it.
	Peek() (item T, ok bool)
	// Reset drops every item.
	Reset()
	IsEmpty() bool
	Length() int
}
