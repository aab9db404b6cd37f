package recording

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pyrohost/prometheus/lib/docstore"
)

// Stopper leaves the voice channel of a recording that went idle
type Stopper interface {
	Stop(ctx context.Context, channel Channel) error
}

// StopperFunc adapts a function to the Stopper interface
type StopperFunc func(ctx context.Context, channel Channel) error

func (f StopperFunc) Stop(ctx context.Context, channel Channel) error {
	return f(ctx, channel)
}

const (
	IdleTaskInterval = time.Minute
	DefaultIdleAfter = 30 * time.Minute
)

// IdleTask stops recordings that saw no activity for a while
type IdleTask struct {
	handler *Handler
	stopper Stopper
	after   time.Duration
	now     func() time.Time
}

// NewIdleTask creates the idle task. stopper may be nil.
func NewIdleTask(handler *Handler, stopper Stopper, after time.Duration) *IdleTask {
	if after <= 0 {
		after = DefaultIdleAfter
	}
	return &IdleTask{handler: handler, stopper: stopper, after: after, now: time.Now}
}

func (t *IdleTask) Name() string { return "recording/idle" }

func (t *IdleTask) Schedule() time.Duration { return IdleTaskInterval }

func (t *IdleTask) Execute(ctx context.Context) error {
	now := t.now()
	var errs []error
	for _, c := range t.handler.Idle(now, t.after) {
		if t.stopper != nil {
			if err := t.stopper.Stop(ctx, c); err != nil {
				errs = append(errs, fmt.Errorf("guild %d: %w", c.GuildID, err))
				continue
			}
		}
		err := t.handler.StopRecording(c.GuildID, now)
		if err != nil && !errors.Is(err, docstore.ErrTimeout) {
			if err = ignoreRace(err); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		log.Infof("stopped idle recording in guild %d", c.GuildID)
	}
	return errors.Join(errs...)
}
