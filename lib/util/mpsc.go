// Package util
//
// This file provides the unbounded Multi-Producer Single-Consumer (MPSC) queue
// that feeds a store's save goroutine.
//
// Features and Guarantees:
//
//   - Lock-Free pushes: producers append with CAS on the tail node
//   - Unbounded Size: Push never blocks, so a caller waiting on a slow disk can
//     always hand its bytes over before giving up
//   - Single Consumer: one goroutine reads values via Recv() and may take the
//     rest of the backlog with Drain()
//   - FIFO for a single producer: pushes issued one after the other (e.g. under
//     a mutex) are delivered in that order
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// MPSC is an unbounded multi-producer single-consumer queue built on a linked
// list of nodes with atomic tail appends.
type MPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSC creates a new queue and starts its forwarding goroutine.
func NewMPSC[T any]() *MPSC[T] {
	sentinel := &node[T]{}

	q := &MPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.forward()

	return q
}

// Push appends an item to the queue.
// Returns false if the item is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have moved the tail on
				q.tail.CompareAndSwap(tailNode, newNode)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves items from the linked list to the output channel
func (q *MPSC[T]) forward() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the consumer reads from. It is closed once the
// queue is closed and every pushed item was delivered.
func (q *MPSC[T]) Recv() <-chan *T {
	return q.out
}

// Drain returns the items that can be received without blocking. It must only
// be called by the consumer. An item the forwarding goroutine is still moving
// may be missed and is delivered by the next receive. The second return value
// is false once the output channel has been closed. After Close, Drain
// returns every remaining item and false.
func (q *MPSC[T]) Drain() ([]*T, bool) {
	var items []*T
	if q.closed.Load() {
		// the forwarding goroutine closes out once the list is empty
		for v := range q.out {
			items = append(items, v)
		}
		return items, false
	}
	for {
		// give the forwarding goroutine a chance to hand over queued items
		if q.head.Load().next.Load() != nil {
			v, ok := <-q.out
			if !ok {
				return items, false
			}
			items = append(items, v)
			continue
		}
		select {
		case v, ok := <-q.out:
			if !ok {
				return items, false
			}
			items = append(items, v)
		default:
			return items, true
		}
	}
}

// Close prevents further pushes. Items already queued are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Wait blocks until the forwarding goroutine exited, i.e. the queue was
// closed and fully consumed.
func (q *MPSC[T]) Wait() {
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued items. O(n), debugging only.
func (q *MPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
