package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/pyrohost/prometheus/lib/util"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("tasks")

// Task is a unit of periodic background work. Tasks are compared by identity,
// implement them on pointer types.
type Task interface {
	// Name identifies the task. Adding a task with a name already in use
	// replaces the old task.
	Name() string
	// Schedule is the pause between the end of one run and the start of the
	// next. Tasks with a non positive schedule run once.
	Schedule() time.Duration
	// Execute runs the task. Errors are logged, the task is rescheduled.
	Execute(ctx context.Context) error
}

// maxIdle bounds the time the scheduler sleeps without looking at the heap
const maxIdle = time.Minute

// Manager runs registered tasks on their schedule
type Manager struct {
	tasks *xsync.MapOf[string, Task]

	mu       sync.Mutex
	schedule *util.DeadlineHeap
	running  map[string]bool

	wake chan struct{}
	now  func() time.Time
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		tasks:    xsync.NewMapOf[string, Task](),
		schedule: util.NewDeadlineHeap(),
		running:  make(map[string]bool),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Add registers task and schedules it to run immediately. A task of the same
// name is replaced; a run of the old task already in progress completes.
func (m *Manager) Add(task Task) {
	name := task.Name()
	m.tasks.Store(name, task)

	m.mu.Lock()
	if !m.running[name] {
		m.schedule.AddItem(name, m.now())
	}
	m.mu.Unlock()

	log.Debugf("added task %s (every %s)", name, task.Schedule())
	m.notify()
}

// Remove unregisters the task called name
func (m *Manager) Remove(name string) bool {
	_, ok := m.tasks.LoadAndDelete(name)

	m.mu.Lock()
	m.schedule.RemoveByKey(name)
	m.mu.Unlock()

	if ok {
		log.Debugf("removed task %s", name)
	}
	return ok
}

// Has reports whether a task called name is registered
func (m *Manager) Has(name string) bool {
	_, ok := m.tasks.Load(name)
	return ok
}

// Names returns the names of the registered tasks
func (m *Manager) Names() []string {
	var names []string
	m.tasks.Range(func(name string, _ Task) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run executes due tasks until ctx is cancelled. Tasks run concurrently, a
// task never overlaps with itself. Run waits for running tasks before it
// returns.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	log.Infof("task manager started")

	for {
		for _, name := range m.popDue() {
			task, ok := m.tasks.Load(name)
			if !ok {
				m.finish(name, nil)
				continue
			}
			g.Go(func() error {
				m.execute(gctx, task)
				return nil
			})
		}

		timer := time.NewTimer(m.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			err := g.Wait()
			log.Infof("task manager stopped")
			return err
		case <-m.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *Manager) popDue() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := m.schedule.PopDue(m.now())
	for _, name := range due {
		m.running[name] = true
	}
	return due
}

func (m *Manager) untilNext() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, deadline, ok := m.schedule.Peek()
	if !ok {
		return maxIdle
	}
	d := deadline.Sub(m.now())
	switch {
	case d < 0:
		return 0
	case d > maxIdle:
		return maxIdle
	}
	return d
}

func (m *Manager) execute(ctx context.Context, task Task) {
	start := time.Now()
	err := task.Execute(ctx)
	if err != nil {
		log.Errorf("task %s failed after %s: %v", task.Name(), time.Since(start), err)
	} else {
		log.Debugf("task %s finished in %s", task.Name(), time.Since(start))
	}
	m.finish(task.Name(), task)
}

// finish reschedules the task unless it was removed or runs only once. A task
// replaced while running is scheduled immediately.
func (m *Manager) finish(name string, ran Task) {
	current, ok := m.tasks.Load(name)

	m.mu.Lock()
	delete(m.running, name)
	switch {
	case !ok:
	case current != ran:
		m.schedule.AddItem(name, m.now())
	case current.Schedule() > 0:
		m.schedule.AddItem(name, m.now().Add(current.Schedule()))
	default:
		m.tasks.Compute(name, func(old Task, loaded bool) (Task, bool) {
			return old, !loaded || old == ran
		})
	}
	m.mu.Unlock()

	m.notify()
}
