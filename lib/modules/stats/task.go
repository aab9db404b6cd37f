package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Querier evaluates a query against a guild's Prometheus server
type Querier interface {
	Query(ctx context.Context, prometheusURL, query string) (float64, error)
}

// Renamer changes the name of a discord channel
type Renamer interface {
	RenameChannel(ctx context.Context, channelID uint64, name string) error
}

const (
	// UpdateTaskInterval is how often stat bars are checked
	UpdateTaskInterval = time.Minute
	// queryCacheTTL is how long a query result is reused across bars
	queryCacheTTL = time.Minute
)

type cachedValue struct {
	value float64
	at    time.Time
}

// UpdateTask refreshes every stat bar whose guild's update delay elapsed:
// it runs the query, renames the channel if the rendered name changed and
// records the value.
type UpdateTask struct {
	handler *Handler
	querier Querier
	renamer Renamer
	cache   *xsync.MapOf[string, cachedValue]
	now     func() time.Time
}

// NewUpdateTask creates the stat bar refresh task
func NewUpdateTask(handler *Handler, querier Querier, renamer Renamer) *UpdateTask {
	return &UpdateTask{
		handler: handler,
		querier: querier,
		renamer: renamer,
		cache:   xsync.NewMapOf[string, cachedValue](),
		now:     time.Now,
	}
}

func (t *UpdateTask) Name() string { return "stats/update" }

func (t *UpdateTask) Schedule() time.Duration { return UpdateTaskInterval }

func (t *UpdateTask) Execute(ctx context.Context) error {
	var errs []error
	for _, guildID := range t.handler.GuildIDs() {
		settings := t.handler.GetSettings(guildID)
		if settings.PrometheusURL == "" {
			continue
		}
		delay := time.Duration(settings.UpdateDelay) * time.Second

		for _, bar := range t.handler.GetStatBars(guildID) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !bar.LastUpdate.IsZero() && t.now().Sub(bar.LastUpdate) < delay {
				continue
			}
			if err := t.refresh(ctx, guildID, settings.PrometheusURL, bar); err != nil {
				log.Warningf("failed to refresh stat bar %d of guild %d: %v", bar.ChannelID, guildID, err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (t *UpdateTask) refresh(ctx context.Context, guildID uint64, url string, bar StatBar) error {
	value, err := t.query(ctx, url, bar.Query)
	if err != nil {
		return fmt.Errorf("query %q: %w", bar.Query, err)
	}

	name := bar.Render(value)
	if current, ok := bar.Current(); !ok || current != name {
		if err := t.renamer.RenameChannel(ctx, bar.ChannelID, name); err != nil {
			return fmt.Errorf("rename channel %d: %w", bar.ChannelID, err)
		}
		log.Debugf("renamed channel %d to %q", bar.ChannelID, name)
	}

	_, err = t.handler.RecordValue(guildID, bar.ChannelID, value, t.now())
	if errors.Is(err, ErrStatBarNotFound) {
		// removed while querying
		return nil
	}
	return err
}

func (t *UpdateTask) query(ctx context.Context, url, query string) (float64, error) {
	key := url + "\x00" + query
	if c, ok := t.cache.Load(key); ok && t.now().Sub(c.at) < queryCacheTTL {
		return c.value, nil
	}
	value, err := t.querier.Query(ctx, url, query)
	if err != nil {
		return 0, err
	}
	t.cache.Store(key, cachedValue{value: value, at: t.now()})
	return value, nil
}
