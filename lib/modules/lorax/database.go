package lorax

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("lorax")

const (
	// MaxTreeNameLength is the longest accepted tree name in characters
	MaxTreeNameLength = 32
	// MaxTiebreakerRounds is the number of runoffs before an event completes
	// with a tie
	MaxTiebreakerRounds = 3
)

var (
	ErrNoActiveEvent     = errors.New("no active event")
	ErrEventRunning      = errors.New("an event is already running")
	ErrEmptyTreeName     = errors.New("tree name cannot be empty")
	ErrTreeNameTooLong   = fmt.Errorf("tree name cannot be longer than %d characters", MaxTreeNameLength)
	ErrSubmissionsClosed = errors.New("submissions are not currently open")
	ErrDuplicateTree     = errors.New("that tree name has already been submitted")
	ErrTreeEliminated    = errors.New("that tree name has been disqualified")
	ErrVotingClosed      = errors.New("voting is not currently open")
	ErrInvalidTree       = errors.New("invalid tree selection")
	ErrTreeNotFound      = errors.New("that tree name was not found")
	ErrInvalidDuration   = errors.New("stage durations must be at least one minute")

	errNotDue = errors.New("stage not due")
)

// Database is the document holding every guild's event and settings
type Database struct {
	Events   map[uint64]*Event   `json:"events" yaml:"events"`
	Settings map[uint64]Settings `json:"settings" yaml:"settings"`
}

func (d *Database) Init() {
	if d.Events == nil {
		d.Events = make(map[uint64]*Event)
	}
	if d.Settings == nil {
		d.Settings = make(map[uint64]Settings)
	}
	for _, e := range d.Events {
		e.init()
	}
}

// settings returns the stored settings of a guild or the defaults
func (d *Database) settings(guildID uint64) Settings {
	if s, ok := d.Settings[guildID]; ok {
		return s
	}
	return DefaultSettings()
}

// activeEvent returns the guild's event if it has one
func (d *Database) activeEvent(guildID uint64) (*Event, error) {
	e, ok := d.Events[guildID]
	if !ok {
		return nil, ErrNoActiveEvent
	}
	return e, nil
}

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

// Handler implements the lorax operations on top of a store
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

// GetEvent returns a copy of the guild's event
func (h *Handler) GetEvent(guildID uint64) (Event, bool) {
	var found bool
	event := docstore.Read(h.store, func(d *Database) Event {
		e, ok := d.Events[guildID]
		if !ok {
			return Event{}
		}
		found = true
		return e.Clone()
	})
	return event, found
}

// GuildIDs returns the guilds that have an event, sorted
func (h *Handler) GuildIDs() []uint64 {
	return docstore.Read(h.store, func(d *Database) []uint64 {
		ids := make([]uint64, 0, len(d.Events))
		for id := range d.Events {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return ids
	})
}

// SubmitTree records the user's tree for the running submission stage. It
// returns whether the user replaced an earlier submission and that submission.
func (h *Handler) SubmitTree(guildID, userID uint64, tree string) (isUpdate bool, previous string, err error) {
	tree = strings.TrimSpace(tree)
	if tree == "" {
		return false, "", ErrEmptyTreeName
	}
	if utf8.RuneCountInString(tree) > MaxTreeNameLength {
		return false, "", ErrTreeNameTooLong
	}

	type result struct {
		isUpdate bool
		previous string
	}
	r, err := docstore.Write(h.store, func(d *Database) (result, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return result{}, err
		}
		if e.Stage != StageSubmission {
			return result{}, ErrSubmissionsClosed
		}
		for _, t := range e.Submissions {
			if strings.EqualFold(t, tree) {
				return result{}, ErrDuplicateTree
			}
		}
		if e.Eliminated[strings.ToLower(tree)] {
			return result{}, ErrTreeEliminated
		}

		previous, isUpdate := e.Submissions[userID]
		e.Submissions[userID] = tree
		return result{isUpdate, previous}, nil
	})
	return r.isUpdate, r.previous, err
}

// VoteTree records the user's vote in the running voting or tiebreaker stage.
// It returns whether the user changed an earlier vote.
func (h *Handler) VoteTree(guildID, userID uint64, tree string) (bool, error) {
	return docstore.Write(h.store, func(d *Database) (bool, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return false, err
		}
		if e.Stage != StageVoting && e.Stage != StageTiebreaker {
			return false, ErrVotingClosed
		}
		canonical, ok := e.currentTree(strings.TrimSpace(tree))
		if !ok {
			return false, ErrInvalidTree
		}

		_, isUpdate := e.Votes[userID]
		e.Votes[userID] = canonical
		return isUpdate, nil
	})
}

// RemoveSubmission disqualifies tree: the submission and every vote for it
// are removed and the name cannot be submitted again.
func (h *Handler) RemoveSubmission(guildID uint64, tree string) (uint64, error) {
	return docstore.Write(h.store, func(d *Database) (uint64, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return 0, err
		}
		submitter, ok := e.Submitter(tree)
		if !ok {
			return 0, ErrTreeNotFound
		}
		canonical := e.Submissions[submitter]

		delete(e.Submissions, submitter)
		e.Eliminated[strings.ToLower(canonical)] = true
		for user, voted := range e.Votes {
			if voted == canonical {
				delete(e.Votes, user)
			}
		}
		trees := e.CurrentTrees[:0]
		for _, t := range e.CurrentTrees {
			if t != canonical {
				trees = append(trees, t)
			}
		}
		e.CurrentTrees = trees
		return submitter, nil
	})
}

// RemoveVote removes the user's vote and reports whether there was one
func (h *Handler) RemoveVote(guildID, userID uint64) (bool, error) {
	return docstore.Write(h.store, func(d *Database) (bool, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return false, err
		}
		_, ok := e.Votes[userID]
		delete(e.Votes, userID)
		return ok, nil
	})
}

// UpdateEvent replaces the guild's event
func (h *Handler) UpdateEvent(guildID uint64, event Event) error {
	event = event.Clone()
	return docstore.Update(h.store, func(d *Database) error {
		d.Events[guildID] = &event
		return nil
	})
}

// StartEvent starts a new event with the guild's current settings. A
// completed or inactive event is replaced.
func (h *Handler) StartEvent(guildID uint64, now time.Time) (Event, error) {
	event, err := docstore.Write(h.store, func(d *Database) (Event, error) {
		if e, ok := d.Events[guildID]; ok && e.Active() {
			return Event{}, ErrEventRunning
		}
		settings := d.settings(guildID)
		d.Settings[guildID] = settings

		e := NewEvent(settings, now)
		d.Events[guildID] = &e
		return e.Clone(), nil
	})
	if err == nil {
		log.Infof("started event for guild %d", guildID)
	}
	return event, err
}

// EndEvent removes the guild's event and returns it marked completed
func (h *Handler) EndEvent(guildID uint64) (Event, error) {
	event, err := docstore.Write(h.store, func(d *Database) (Event, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return Event{}, err
		}
		delete(d.Events, guildID)

		ended := e.Clone()
		if ended.Stage != StageCompleted {
			ended.complete(ended.Tally())
		}
		return ended, nil
	})
	if err == nil {
		log.Infof("ended event for guild %d", guildID)
	}
	return event, err
}

// Reset removes the guild's event and settings
func (h *Handler) Reset(guildID uint64) error {
	return docstore.Update(h.store, func(d *Database) error {
		delete(d.Events, guildID)
		delete(d.Settings, guildID)
		return nil
	})
}

// AdjustDuration lengthens (or with negative minutes shortens) the running
// stage. It returns the new end of the stage.
func (h *Handler) AdjustDuration(guildID uint64, minutes int64) (time.Time, error) {
	return docstore.Write(h.store, func(d *Database) (time.Time, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return time.Time{}, err
		}
		if !e.Active() {
			return time.Time{}, ErrNoActiveEvent
		}
		e.StartTime = e.StartTime.Add(time.Duration(minutes) * time.Minute)
		return e.StageEnd(), nil
	})
}

// --------------------------------------------------------------------------
// Settings
// --------------------------------------------------------------------------

// GetSettings returns the guild's settings, the defaults if none are stored
func (h *Handler) GetSettings(guildID uint64) Settings {
	return docstore.Read(h.store, func(d *Database) Settings {
		return d.settings(guildID)
	})
}

// EnsureSettings stores the default settings if the guild has none and
// returns the stored settings
func (h *Handler) EnsureSettings(guildID uint64) (Settings, error) {
	var stored bool
	s := docstore.Read(h.store, func(d *Database) Settings {
		s, ok := d.Settings[guildID]
		stored = ok
		return s
	})
	if stored {
		return s, nil
	}
	return docstore.Write(h.store, func(d *Database) (Settings, error) {
		s := d.settings(guildID)
		d.Settings[guildID] = s
		return s, nil
	})
}

// UpdateSettings applies update to the guild's settings. Events that are
// already running keep the settings they were started with.
func (h *Handler) UpdateSettings(guildID uint64, update func(*Settings) error) (Settings, error) {
	return docstore.Write(h.store, func(d *Database) (Settings, error) {
		s := d.settings(guildID)
		if err := update(&s); err != nil {
			return Settings{}, err
		}
		if s.SubmissionDuration == 0 || s.VotingDuration == 0 || s.TiebreakerDuration == 0 {
			return Settings{}, ErrInvalidDuration
		}
		d.Settings[guildID] = s
		return s, nil
	})
}

// --------------------------------------------------------------------------
// Stage machine
// --------------------------------------------------------------------------

// Advance moves the guild's event to its next stage regardless of time
func (h *Handler) Advance(guildID uint64, now time.Time) (Transition, error) {
	t, err := docstore.Write(h.store, func(d *Database) (Transition, error) {
		e, err := d.activeEvent(guildID)
		if err != nil {
			return Transition{}, err
		}
		return advance(guildID, e, now), nil
	})
	if err == nil && t.Changed() {
		log.Infof("advanced event for guild %d: %s", guildID, t)
	}
	return t, err
}

// AdvanceIfDue advances the guild's event if its stage ended before now.
// Completed events are retired to inactive on the first call after they
// completed.
// The second return value reports whether anything changed.
func (h *Handler) AdvanceIfDue(guildID uint64, now time.Time) (Transition, bool, error) {
	due := docstore.Read(h.store, func(d *Database) bool {
		e, ok := d.Events[guildID]
		return ok && e.Due(now)
	})
	if !due {
		return Transition{}, false, nil
	}

	t, err := docstore.Write(h.store, func(d *Database) (Transition, error) {
		e, ok := d.Events[guildID]
		// re-checked, another writer may have advanced it meanwhile
		if !ok || !e.Due(now) {
			return Transition{}, errNotDue
		}
		return advance(guildID, e, now), nil
	})
	if errors.Is(err, errNotDue) {
		return Transition{}, false, nil
	}
	if err != nil && !errors.Is(err, docstore.ErrTimeout) {
		return Transition{}, false, err
	}
	log.Infof("advanced event for guild %d: %s", guildID, t)
	return t, true, err
}

func advance(guildID uint64, e *Event, now time.Time) Transition {
	from, fromRound := e.Stage, e.Round
	e.advance(now)
	return Transition{GuildID: guildID, From: from, FromRound: fromRound, Event: e.Clone()}
}
