package recording

import (
	"errors"
	"sort"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("recording")

var (
	ErrAlreadyConfigured = errors.New("a recording channel is already configured for this server")
	ErrNotConfigured     = errors.New("no recording channel is configured for this server")
	ErrAlreadyRecording  = errors.New("the channel is already being recorded")
	ErrNotRecording      = errors.New("the channel is not being recorded")
	ErrInvalidChannel    = errors.New("invalid voice channel")
)

// Channel is the voice channel recorded in a guild
type Channel struct {
	GuildID        uint64    `json:"guild_id" yaml:"guild_id"`
	VoiceChannelID uint64    `json:"voice_channel_id" yaml:"voice_channel_id"`
	IsRecording    bool      `json:"is_recording" yaml:"is_recording"`
	LastActivity   time.Time `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
}

// Database holds one recording channel per guild
type Database struct {
	Channels map[uint64]Channel `json:"channels" yaml:"channels"`
}

func (d *Database) Init() {
	if d.Channels == nil {
		d.Channels = make(map[uint64]Channel)
	}
}

func (d *Database) Clone() *Database {
	c := &Database{Channels: make(map[uint64]Channel, len(d.Channels))}
	for k, v := range d.Channels {
		c.Channels[k] = v
	}
	return c
}

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

// Handler implements the recording operations on top of a store
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

// Configure sets the voice channel recorded in the guild
func (h *Handler) Configure(guildID, voiceChannelID uint64) error {
	if voiceChannelID == 0 {
		return ErrInvalidChannel
	}
	err := docstore.Update(h.store, func(d *Database) error {
		if _, ok := d.Channels[guildID]; ok {
			return ErrAlreadyConfigured
		}
		d.Channels[guildID] = Channel{GuildID: guildID, VoiceChannelID: voiceChannelID}
		return nil
	})
	if err == nil {
		log.Infof("guild %d records voice channel %d", guildID, voiceChannelID)
	}
	return err
}

// Remove deletes the guild's recording channel
func (h *Handler) Remove(guildID uint64) error {
	return docstore.Update(h.store, func(d *Database) error {
		if _, ok := d.Channels[guildID]; !ok {
			return ErrNotConfigured
		}
		delete(d.Channels, guildID)
		return nil
	})
}

// Get returns the guild's recording channel
func (h *Handler) Get(guildID uint64) (Channel, bool) {
	var ok bool
	c := docstore.Read(h.store, func(d *Database) Channel {
		var c Channel
		c, ok = d.Channels[guildID]
		return c
	})
	return c, ok
}

// StartRecording marks the guild's channel as recording
func (h *Handler) StartRecording(guildID uint64, now time.Time) error {
	return h.setRecording(guildID, true, now)
}

// StopRecording marks the guild's channel as no longer recording
func (h *Handler) StopRecording(guildID uint64, now time.Time) error {
	return h.setRecording(guildID, false, now)
}

func (h *Handler) setRecording(guildID uint64, recording bool, now time.Time) error {
	err := docstore.Update(h.store, func(d *Database) error {
		c, ok := d.Channels[guildID]
		switch {
		case !ok:
			return ErrNotConfigured
		case recording && c.IsRecording:
			return ErrAlreadyRecording
		case !recording && !c.IsRecording:
			return ErrNotRecording
		}
		c.IsRecording = recording
		c.LastActivity = now
		d.Channels[guildID] = c
		return nil
	})
	if err == nil {
		log.Infof("guild %d recording=%v", guildID, recording)
	}
	return err
}

// Touch records activity on a recording channel
func (h *Handler) Touch(guildID uint64, now time.Time) error {
	return docstore.Update(h.store, func(d *Database) error {
		c, ok := d.Channels[guildID]
		if !ok {
			return ErrNotConfigured
		}
		if !c.IsRecording {
			return ErrNotRecording
		}
		c.LastActivity = now
		d.Channels[guildID] = c
		return nil
	})
}

// VoiceStateChanged starts recording when someone is in the configured
// channel and stops it once the channel is empty. It reports whether the
// recording state changed.
func (h *Handler) VoiceStateChanged(guildID, voiceChannelID uint64, usersInChannel int, now time.Time) (bool, error) {
	c, ok := h.Get(guildID)
	if !ok || c.VoiceChannelID != voiceChannelID {
		return false, nil
	}
	switch {
	case usersInChannel > 0 && !c.IsRecording:
		err := h.StartRecording(guildID, now)
		return err == nil || errors.Is(err, docstore.ErrTimeout), ignoreRace(err)
	case usersInChannel == 0 && c.IsRecording:
		err := h.StopRecording(guildID, now)
		return err == nil || errors.Is(err, docstore.ErrTimeout), ignoreRace(err)
	}
	return false, nil
}

// ignoreRace drops errors caused by a concurrent state change between the
// read and the write
func ignoreRace(err error) error {
	if errors.Is(err, ErrAlreadyRecording) || errors.Is(err, ErrNotRecording) || errors.Is(err, ErrNotConfigured) {
		return nil
	}
	return err
}

// Active returns the channels currently recording, ordered by guild
func (h *Handler) Active() []Channel {
	return h.filter(func(c Channel) bool { return c.IsRecording })
}

// Idle returns the recording channels without activity for at least after
func (h *Handler) Idle(now time.Time, after time.Duration) []Channel {
	return h.filter(func(c Channel) bool {
		return c.IsRecording && now.Sub(c.LastActivity) >= after
	})
}

func (h *Handler) filter(keep func(Channel) bool) []Channel {
	channels := docstore.Read(h.store, func(d *Database) []Channel {
		var out []Channel
		for _, c := range d.Channels {
			if keep(c) {
				out = append(out, c)
			}
		}
		return out
	})
	sort.Slice(channels, func(i, j int) bool { return channels[i].GuildID < channels[j].GuildID })
	return channels
}
