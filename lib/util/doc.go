// Package util provides small data structures used by the store and the task
// scheduler.
//
// The package contains:
//   - mpsc: an unbounded multi-producer single-consumer queue feeding a store's
//     save goroutine
//   - deadlineheap: a keyed min-heap of deadlines used to schedule periodic tasks
//   - statistics: descriptive statistics and a size histogram for reporting
package util
