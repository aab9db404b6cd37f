// Package util
//
// This file provides the priority queue that drives the task scheduler.
//
// It combines a binary heap with a hash map so that the next due entry is
// found in O(1), re-scheduling an entry is O(log n) and entries can be looked
// up or removed by key.
//
// Concurrency Considerations:
//   - This implementation is not thread-safe
//   - The scheduler owns its heap and guards it with its own mutex
//
// Example usage:
//
//	h := NewDeadlineHeap()
//	h.AddItem("lorax/123", time.Now().Add(time.Minute))
//	h.AddItem("testing/expiry", time.Now())
//
//	for _, key := range h.PopDue(time.Now()) {
//	    // run the task identified by key
//	}
package util

import (
	"container/heap"
	"time"
)

// item is an entry of the heap identified by a string key and ordered by deadline
type item struct {
	Key      string
	Deadline time.Time
	index    int // index in the heap, maintained by the heap package
}

func (i *item) String() string {
	return "{Key: " + i.Key + ", Deadline: " + i.Deadline.Format(time.RFC3339) + "}"
}

// DeadlineHeap is a min-heap of keys ordered by their deadline
type DeadlineHeap struct {
	items    []*item
	itemsMap map[string]*item
}

// NewDeadlineHeap creates an empty heap
func NewDeadlineHeap() *DeadlineHeap {
	return &DeadlineHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[string]*item),
	}
}

// Len returns the number of items in the heap (part of heap.Interface)
func (h *DeadlineHeap) Len() int { return len(h.items) }

// Less orders by deadline, earliest first (part of heap.Interface)
func (h *DeadlineHeap) Less(i, j int) bool {
	return h.items[i].Deadline.Before(h.items[j].Deadline)
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (h *DeadlineHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem)
func (h *DeadlineHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop removes the earliest item (part of heap.Interface, use PopDue)
func (h *DeadlineHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// AddItem schedules key at deadline, moving it if it is already scheduled
func (h *DeadlineHeap) AddItem(key string, deadline time.Time) {
	if it, exists := h.itemsMap[key]; exists {
		it.Deadline = deadline
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &item{Key: key, Deadline: deadline})
}

// RemoveByKey removes key and returns its deadline
func (h *DeadlineHeap) RemoveByKey(key string) (time.Time, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return time.Time{}, false
	}
	heap.Remove(h, it.index)
	return it.Deadline, true
}

// Peek returns the earliest key and its deadline without removing it
func (h *DeadlineHeap) Peek() (string, time.Time, bool) {
	if len(h.items) == 0 {
		return "", time.Time{}, false
	}
	return h.items[0].Key, h.items[0].Deadline, true
}

// PopDue removes and returns every key whose deadline is not after now,
// earliest first
func (h *DeadlineHeap) PopDue(now time.Time) []string {
	var due []string
	for len(h.items) > 0 && !h.items[0].Deadline.After(now) {
		due = append(due, heap.Pop(h).(*item).Key)
	}
	return due
}

// Contains checks if a key is scheduled
func (h *DeadlineHeap) Contains(key string) bool {
	_, exists := h.itemsMap[key]
	return exists
}
