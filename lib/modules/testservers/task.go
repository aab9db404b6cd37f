package testservers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pyrohost/prometheus/lib/docstore"
)

// Reaper deletes an expired server at the hosting provider
type Reaper interface {
	Reap(ctx context.Context, server TestServer) error
}

// ReaperFunc adapts a function to the Reaper interface
type ReaperFunc func(ctx context.Context, server TestServer) error

func (f ReaperFunc) Reap(ctx context.Context, server TestServer) error {
	return f(ctx, server)
}

// ExpiryTaskInterval is how often expired servers are collected
const ExpiryTaskInterval = 5 * time.Minute

// ExpiryTask removes expired servers from the store and reaps them
type ExpiryTask struct {
	handler  *Handler
	reaper   Reaper
	interval time.Duration
	now      func() time.Time
}

// NewExpiryTask creates the expiry task. reaper may be nil.
func NewExpiryTask(handler *Handler, reaper Reaper, interval time.Duration) *ExpiryTask {
	if interval <= 0 {
		interval = ExpiryTaskInterval
	}
	return &ExpiryTask{
		handler:  handler,
		reaper:   reaper,
		interval: interval,
		now:      time.Now,
	}
}

func (t *ExpiryTask) Name() string { return "testing/expiry" }

func (t *ExpiryTask) Schedule() time.Duration { return t.interval }

func (t *ExpiryTask) Execute(ctx context.Context) error {
	expired := t.handler.Expired(t.now())
	if len(expired) == 0 {
		return nil
	}
	log.Infof("cleaning up %d expired test servers", len(expired))

	var errs []error
	for _, s := range expired {
		if t.reaper != nil {
			if err := t.reaper.Reap(ctx, s); err != nil {
				// kept in the store so the next run retries the deletion
				log.Errorf("failed to delete test server %s: %v", s.ServerID, err)
				errs = append(errs, err)
				continue
			}
		}
		err := t.handler.RemoveServer(s.ServerID)
		if err != nil && !errors.Is(err, ErrServerNotFound) && !errors.Is(err, docstore.ErrTimeout) {
			errs = append(errs, fmt.Errorf("failed to remove server %s: %w", s.ServerID, err))
		}
	}
	return errors.Join(errs...)
}
