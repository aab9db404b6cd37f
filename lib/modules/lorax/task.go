package lorax

import (
	"context"
	"fmt"
	"time"

	"github.com/pyrohost/prometheus/lib/tasks"
)

// Notifier announces stage changes, e.g. by posting to the guild's lorax
// channel and handing out winner roles.
type Notifier interface {
	StageChanged(ctx context.Context, t Transition) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, t Transition) error

func (f NotifierFunc) StageChanged(ctx context.Context, t Transition) error {
	return f(ctx, t)
}

// EventTaskInterval is how often a guild's event is checked
const EventTaskInterval = time.Minute

// EventTask advances one guild's event whenever its stage has run out
type EventTask struct {
	guildID  uint64
	handler  *Handler
	notifier Notifier
	interval time.Duration
	now      func() time.Time
}

// NewEventTask creates the task for guildID. notifier may be nil.
func NewEventTask(guildID uint64, handler *Handler, notifier Notifier) *EventTask {
	return &EventTask{
		guildID:  guildID,
		handler:  handler,
		notifier: notifier,
		interval: EventTaskInterval,
		now:      time.Now,
	}
}

// TaskName returns the name of the task handling guildID
func TaskName(guildID uint64) string {
	return fmt.Sprintf("lorax/%d", guildID)
}

func (t *EventTask) Name() string { return TaskName(t.guildID) }

func (t *EventTask) Schedule() time.Duration { return t.interval }

func (t *EventTask) Execute(ctx context.Context) error {
	transition, changed, err := t.handler.AdvanceIfDue(t.guildID, t.now())
	if !changed {
		return err
	}
	if err != nil {
		// timed out writes are committed, announce them anyway
		log.Warningf("event of guild %d advanced with: %v", t.guildID, err)
	}
	if t.notifier == nil {
		return nil
	}
	if nerr := t.notifier.StageChanged(ctx, transition); nerr != nil {
		return fmt.Errorf("failed to announce %s for guild %d: %w", transition, t.guildID, nerr)
	}
	return nil
}

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

// TaskRegistry is the part of tasks.Manager the supervisor needs
type TaskRegistry interface {
	Add(task tasks.Task)
	Remove(name string) bool
	Has(name string) bool
}

// SupervisorTask keeps one EventTask registered for every guild whose event
// is not inactive. Events started while the bot runs are picked up on the
// next run.
type SupervisorTask struct {
	handler  *Handler
	registry TaskRegistry
	notifier Notifier
	interval time.Duration
	watched  map[uint64]bool
}

// NewSupervisorTask creates the supervisor. notifier is handed to the event
// tasks it registers.
func NewSupervisorTask(handler *Handler, registry TaskRegistry, notifier Notifier, interval time.Duration) *SupervisorTask {
	if interval <= 0 {
		interval = EventTaskInterval
	}
	return &SupervisorTask{
		handler:  handler,
		registry: registry,
		notifier: notifier,
		interval: interval,
		watched:  make(map[uint64]bool),
	}
}

func (t *SupervisorTask) Name() string { return "lorax/supervisor" }

func (t *SupervisorTask) Schedule() time.Duration { return t.interval }

func (t *SupervisorTask) Execute(_ context.Context) error {
	seen := make(map[uint64]bool)
	for _, guildID := range t.handler.GuildIDs() {
		event, ok := t.handler.GetEvent(guildID)
		if ok && event.Stage != StageInactive {
			seen[guildID] = true
		}
	}

	for guildID := range seen {
		if !t.registry.Has(TaskName(guildID)) {
			t.registry.Add(NewEventTask(guildID, t.handler, t.notifier))
			log.Infof("watching event of guild %d", guildID)
		}
		t.watched[guildID] = true
	}
	for guildID := range t.watched {
		if !seen[guildID] {
			t.registry.Remove(TaskName(guildID))
			delete(t.watched, guildID)
			log.Debugf("stopped watching event of guild %d", guildID)
		}
	}
	return nil
}
