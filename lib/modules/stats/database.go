package stats

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("stats")

// ValuePlaceholder is replaced by the formatted value in a stat bar format
const ValuePlaceholder = "{value}"

// MinUpdateDelay is the shortest allowed refresh interval in seconds
const MinUpdateDelay = 10

var (
	ErrStatBarNotFound = errors.New("no stat bar in that channel")
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrMissingValue    = errors.New("format must contain " + ValuePlaceholder)
	ErrUpdateDelay     = errors.New("update delay must be at least 10 seconds")
)

// GuildSettings is the per guild configuration
type GuildSettings struct {
	PrometheusURL string `json:"prometheus_url" yaml:"prometheus_url"`
	UpdateDelay   uint64 `json:"update_delay" yaml:"update_delay"` // seconds
}

// DefaultGuildSettings returns the settings of an unconfigured guild
func DefaultGuildSettings() GuildSettings {
	return GuildSettings{UpdateDelay: 60}
}

// StatBar is a voice channel whose name shows the result of a query
type StatBar struct {
	ChannelID  uint64    `json:"channel_id" yaml:"channel_id"`
	Query      string    `json:"query" yaml:"query"`
	Format     string    `json:"format" yaml:"format"`
	DataType   DataType  `json:"data_type" yaml:"data_type"`
	LastValue  *float64  `json:"last_value,omitempty" yaml:"last_value,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty" yaml:"last_update,omitempty"`
}

// Render returns the channel name for value
func (b StatBar) Render(value float64) string {
	return strings.ReplaceAll(b.Format, ValuePlaceholder, b.DataType.FormatValue(value))
}

// Current returns the channel name for the last recorded value
func (b StatBar) Current() (string, bool) {
	if b.LastValue == nil {
		return "", false
	}
	return b.Render(*b.LastValue), true
}

// Database holds every guild's stat bars and settings
type Database struct {
	StatBars      map[uint64]map[uint64]StatBar `json:"stat_bars" yaml:"stat_bars"` // guild -> channel -> bar
	GuildSettings map[uint64]GuildSettings      `json:"guild_settings" yaml:"guild_settings"`
}

func (d *Database) Init() {
	if d.StatBars == nil {
		d.StatBars = make(map[uint64]map[uint64]StatBar)
	}
	if d.GuildSettings == nil {
		d.GuildSettings = make(map[uint64]GuildSettings)
	}
}

func (d *Database) settings(guildID uint64) GuildSettings {
	if s, ok := d.GuildSettings[guildID]; ok {
		return s
	}
	return DefaultGuildSettings()
}

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

// Handler implements the stat bar operations on top of a store
type Handler struct {
	store *docstore.Store[Database]
}

// NewHandler creates a handler using store
func NewHandler(store *docstore.Store[Database]) *Handler {
	return &Handler{store: store}
}

// Store returns the underlying store
func (h *Handler) Store() *docstore.Store[Database] {
	return h.store
}

// GetSettings returns the guild's settings, the defaults if none are stored
func (h *Handler) GetSettings(guildID uint64) GuildSettings {
	return docstore.Read(h.store, func(d *Database) GuildSettings {
		return d.settings(guildID)
	})
}

// EnsureSettings stores the default settings if the guild has none
func (h *Handler) EnsureSettings(guildID uint64) (GuildSettings, error) {
	return docstore.Write(h.store, func(d *Database) (GuildSettings, error) {
		s := d.settings(guildID)
		d.GuildSettings[guildID] = s
		return s, nil
	})
}

// UpdateSettings applies update to the guild's settings
func (h *Handler) UpdateSettings(guildID uint64, update func(*GuildSettings) error) (GuildSettings, error) {
	return docstore.Write(h.store, func(d *Database) (GuildSettings, error) {
		s := d.settings(guildID)
		if err := update(&s); err != nil {
			return GuildSettings{}, err
		}
		if s.UpdateDelay < MinUpdateDelay {
			return GuildSettings{}, ErrUpdateDelay
		}
		s.PrometheusURL = strings.TrimRight(strings.TrimSpace(s.PrometheusURL), "/")
		d.GuildSettings[guildID] = s
		return s, nil
	})
}

// GuildIDs returns the guilds with settings or stat bars, sorted
func (h *Handler) GuildIDs() []uint64 {
	return docstore.Read(h.store, func(d *Database) []uint64 {
		seen := make(map[uint64]bool)
		for id := range d.GuildSettings {
			seen[id] = true
		}
		for id := range d.StatBars {
			seen[id] = true
		}
		ids := make([]uint64, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ids
	})
}

// GetStatBars returns the guild's stat bars ordered by channel
func (h *Handler) GetStatBars(guildID uint64) []StatBar {
	return docstore.Read(h.store, func(d *Database) []StatBar {
		bars := make([]StatBar, 0, len(d.StatBars[guildID]))
		for _, b := range d.StatBars[guildID] {
			bars = append(bars, copyBar(b))
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].ChannelID < bars[j].ChannelID })
		return bars
	})
}

// GetStatBar returns the stat bar of a channel
func (h *Handler) GetStatBar(guildID, channelID uint64) (StatBar, bool) {
	var ok bool
	bar := docstore.Read(h.store, func(d *Database) StatBar {
		var b StatBar
		b, ok = d.StatBars[guildID][channelID]
		return copyBar(b)
	})
	return bar, ok
}

// UpdateStatBar creates or replaces the stat bar of bar.ChannelID
func (h *Handler) UpdateStatBar(guildID uint64, bar StatBar) error {
	bar.Query = strings.TrimSpace(bar.Query)
	if bar.Query == "" {
		return ErrEmptyQuery
	}
	if !strings.Contains(bar.Format, ValuePlaceholder) {
		return ErrMissingValue
	}
	bar = copyBar(bar)
	return docstore.Update(h.store, func(d *Database) error {
		if d.StatBars[guildID] == nil {
			d.StatBars[guildID] = make(map[uint64]StatBar)
		}
		d.StatBars[guildID][bar.ChannelID] = bar
		return nil
	})
}

// RemoveStatBar deletes the stat bar of a channel
func (h *Handler) RemoveStatBar(guildID, channelID uint64) error {
	return docstore.Update(h.store, func(d *Database) error {
		bars := d.StatBars[guildID]
		if _, ok := bars[channelID]; !ok {
			return ErrStatBarNotFound
		}
		delete(bars, channelID)
		if len(bars) == 0 {
			delete(d.StatBars, guildID)
		}
		return nil
	})
}

// RecordValue stores the latest value of a stat bar
func (h *Handler) RecordValue(guildID, channelID uint64, value float64, at time.Time) (StatBar, error) {
	return docstore.Write(h.store, func(d *Database) (StatBar, error) {
		bar, ok := d.StatBars[guildID][channelID]
		if !ok {
			return StatBar{}, ErrStatBarNotFound
		}
		bar.LastValue = &value
		bar.LastUpdate = at
		d.StatBars[guildID][channelID] = bar
		return copyBar(bar), nil
	})
}

// copyBar detaches the LastValue pointer from the document
func copyBar(b StatBar) StatBar {
	if b.LastValue != nil {
		v := *b.LastValue
		b.LastValue = &v
	}
	return b
}
