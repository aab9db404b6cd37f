package lorax

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Stage
// --------------------------------------------------------------------------

// Stage is the phase of a lorax event
type Stage int

const (
	StageSubmission Stage = iota // members submit tree names
	StageVoting                  // members vote for one of the submitted trees
	StageTiebreaker              // runoff between the trees tied for first place
	StageCompleted               // results are final
	StageInactive                // the event ended without a result
)

func (s Stage) String() string {
	switch s {
	case StageSubmission:
		return "submission"
	case StageVoting:
		return "voting"
	case StageTiebreaker:
		return "tiebreaker"
	case StageCompleted:
		return "completed"
	case StageInactive:
		return "inactive"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// --------------------------------------------------------------------------
// Settings
// --------------------------------------------------------------------------

// Settings is the per guild configuration. Ids are discord snowflakes, zero
// means not configured. Durations are in minutes.
type Settings struct {
	Channel    uint64 `json:"channel,omitempty" yaml:"channel,omitempty"`
	Role       uint64 `json:"role,omitempty" yaml:"role,omitempty"`
	WinnerRole uint64 `json:"winner_role,omitempty" yaml:"winner_role,omitempty"`
	AlumniRole uint64 `json:"alumni_role,omitempty" yaml:"alumni_role,omitempty"`

	SubmissionDuration uint64 `json:"submission_duration" yaml:"submission_duration"`
	VotingDuration     uint64 `json:"voting_duration" yaml:"voting_duration"`
	TiebreakerDuration uint64 `json:"tiebreaker_duration" yaml:"tiebreaker_duration"`
}

// DefaultSettings returns the settings of a guild that never configured lorax
func DefaultSettings() Settings {
	return Settings{
		SubmissionDuration: 60,
		VotingDuration:     30,
		TiebreakerDuration: 15,
	}
}

// --------------------------------------------------------------------------
// Event
// --------------------------------------------------------------------------

// TreeVotes is the number of votes a tree received
type TreeVotes struct {
	Tree  string `json:"tree" yaml:"tree"`
	Votes int    `json:"votes" yaml:"votes"`
}

// Event is the state of one guild's lorax event
type Event struct {
	Stage    Stage    `json:"stage" yaml:"stage"`
	Round    int      `json:"round,omitempty" yaml:"round,omitempty"` // tiebreaker round, starting at 1
	Settings Settings `json:"settings" yaml:"settings"`

	Submissions map[uint64]string `json:"submissions" yaml:"submissions"` // user -> tree
	Votes       map[uint64]string `json:"votes" yaml:"votes"`             // user -> tree
	Eliminated  map[string]bool   `json:"eliminated" yaml:"eliminated"`   // lower case tree names

	StartTime    time.Time   `json:"start_time" yaml:"start_time"`
	CurrentTrees []string    `json:"current_trees" yaml:"current_trees"`
	Results      []TreeVotes `json:"results,omitempty" yaml:"results,omitempty"`

	CampaignMessageID   uint64 `json:"campaign_message_id,omitempty" yaml:"campaign_message_id,omitempty"`
	StageMessageID      uint64 `json:"stage_message_id,omitempty" yaml:"stage_message_id,omitempty"`
	VotingMessageID     uint64 `json:"voting_message_id,omitempty" yaml:"voting_message_id,omitempty"`
	TiebreakerMessageID uint64 `json:"tiebreaker_message_id,omitempty" yaml:"tiebreaker_message_id,omitempty"`
	CampaignThreadID    uint64 `json:"campaign_thread_id,omitempty" yaml:"campaign_thread_id,omitempty"`
}

// NewEvent creates an event in the submission stage
func NewEvent(settings Settings, start time.Time) Event {
	e := Event{
		Stage:     StageSubmission,
		Settings:  settings,
		StartTime: start,
	}
	e.init()
	return e
}

func (e *Event) init() {
	if e.Submissions == nil {
		e.Submissions = make(map[uint64]string)
	}
	if e.Votes == nil {
		e.Votes = make(map[uint64]string)
	}
	if e.Eliminated == nil {
		e.Eliminated = make(map[string]bool)
	}
}

// Clone returns a deep copy of the event
func (e Event) Clone() Event {
	c := e
	c.Submissions = make(map[uint64]string, len(e.Submissions))
	for k, v := range e.Submissions {
		c.Submissions[k] = v
	}
	c.Votes = make(map[uint64]string, len(e.Votes))
	for k, v := range e.Votes {
		c.Votes[k] = v
	}
	c.Eliminated = make(map[string]bool, len(e.Eliminated))
	for k, v := range e.Eliminated {
		c.Eliminated[k] = v
	}
	c.CurrentTrees = append([]string(nil), e.CurrentTrees...)
	c.Results = append([]TreeVotes(nil), e.Results...)
	return c
}

// Active reports whether the event still waits for a stage to end
func (e Event) Active() bool {
	return e.Stage == StageSubmission || e.Stage == StageVoting || e.Stage == StageTiebreaker
}

// Due reports whether the event should move on at now. A completed event is
// due as soon as any time passed, so it becomes inactive on the next check.
func (e Event) Due(now time.Time) bool {
	return e.Stage != StageInactive && now.After(e.StageEnd())
}

// StageDuration returns how long the current stage lasts. Completed and
// inactive events have no duration.
func (e Event) StageDuration() time.Duration {
	var minutes uint64
	switch e.Stage {
	case StageSubmission:
		minutes = e.Settings.SubmissionDuration
	case StageVoting:
		minutes = e.Settings.VotingDuration
	case StageTiebreaker:
		minutes = e.Settings.TiebreakerDuration
	}
	return time.Duration(minutes) * time.Minute
}

// StageEnd returns when the current stage ends
func (e Event) StageEnd() time.Time {
	return e.StartTime.Add(e.StageDuration())
}

// Submitter returns the user that submitted tree (case-insensitive)
func (e Event) Submitter(tree string) (uint64, bool) {
	for user, t := range e.Submissions {
		if strings.EqualFold(t, tree) {
			return user, true
		}
	}
	return 0, false
}

// Tally counts the votes of the current stage, most votes first and by name
// on equal votes.
func (e Event) Tally() []TreeVotes {
	counts := make(map[string]int)
	for _, tree := range e.Votes {
		counts[tree]++
	}

	tally := make([]TreeVotes, 0, len(counts))
	for tree, votes := range counts {
		tally = append(tally, TreeVotes{Tree: tree, Votes: votes})
	}
	sortTally(tally)
	return tally
}

// Winners returns the final results of a completed event, the running
// tally otherwise.
func (e Event) Winners() []TreeVotes {
	if e.Stage == StageCompleted {
		return append([]TreeVotes(nil), e.Results...)
	}
	return e.Tally()
}

// Winner returns the tree with the most votes
func (e Event) Winner() (string, bool) {
	winners := e.Winners()
	if len(winners) == 0 {
		return "", false
	}
	return winners[0].Tree, true
}

func sortTally(tally []TreeVotes) {
	sort.Slice(tally, func(i, j int) bool {
		if tally[i].Votes != tally[j].Votes {
			return tally[i].Votes > tally[j].Votes
		}
		return tally[i].Tree < tally[j].Tree
	})
}

// leaders returns the trees sharing the highest vote count
func leaders(tally []TreeVotes) []string {
	var trees []string
	for _, tv := range tally {
		if tv.Votes != tally[0].Votes {
			break
		}
		trees = append(trees, tv.Tree)
	}
	return trees
}

// currentTree returns the canonical spelling of tree if it can be voted for
func (e Event) currentTree(tree string) (string, bool) {
	for _, t := range e.CurrentTrees {
		if strings.EqualFold(t, tree) {
			return t, true
		}
	}
	return "", false
}

// --------------------------------------------------------------------------
// Stage machine
// --------------------------------------------------------------------------

// Transition describes a stage change
type Transition struct {
	GuildID   uint64 `json:"guild_id"`
	From      Stage  `json:"from"`
	FromRound int    `json:"from_round,omitempty"`
	Event     Event  `json:"event"` // the event after the transition
}

// Changed reports whether the stage or round changed
func (t Transition) Changed() bool {
	return t.From != t.Event.Stage || t.FromRound != t.Event.Round
}

func (t Transition) String() string {
	from := t.From.String()
	if t.From == StageTiebreaker {
		from = fmt.Sprintf("%s(%d)", from, t.FromRound)
	}
	to := t.Event.Stage.String()
	if t.Event.Stage == StageTiebreaker {
		to = fmt.Sprintf("%s(%d)", to, t.Event.Round)
	}
	return from + " -> " + to
}

// advance moves the event to its next stage:
//
//   - submission: voting on all submitted trees, inactive without submissions
//   - voting: completed with a single leader, a first tiebreaker round
//     between the tied leaders, inactive without votes
//   - tiebreaker(n): completed with a single leader or after MaxTiebreakerRounds,
//     otherwise tiebreaker(n+1) between the remaining leaders
//   - completed: inactive
//
// Votes are cleared whenever a voting stage ends.
func (e *Event) advance(now time.Time) {
	switch e.Stage {
	case StageSubmission:
		if len(e.Submissions) == 0 {
			e.Stage = StageInactive
			break
		}
		e.Stage = StageVoting
		e.CurrentTrees = e.CurrentTrees[:0]
		for _, tree := range e.Submissions {
			e.CurrentTrees = append(e.CurrentTrees, tree)
		}
		sort.Strings(e.CurrentTrees)

	case StageVoting, StageTiebreaker:
		tally := e.Tally()
		switch {
		case len(tally) == 0 && e.Stage == StageVoting:
			e.Stage = StageInactive
		case len(tally) == 0 && e.Round >= MaxTiebreakerRounds:
			e.complete(e.emptyTally())
		case len(tally) == 0:
			// nobody voted in the runoff, repeat it
			e.Round++
		case len(tally) == 1 || tally[0].Votes != tally[1].Votes:
			e.complete(tally)
		case e.Stage == StageTiebreaker && e.Round >= MaxTiebreakerRounds:
			e.complete(tally)
		default:
			e.Stage = StageTiebreaker
			e.Round++
			e.CurrentTrees = leaders(tally)
		}
		clear(e.Votes)

	case StageCompleted:
		e.Stage = StageInactive

	case StageInactive:
		return
	}

	e.StartTime = now
}

func (e *Event) complete(results []TreeVotes) {
	e.Stage = StageCompleted
	e.Round = 0
	e.Results = results
	e.CurrentTrees = e.CurrentTrees[:0]
	for _, r := range results {
		e.CurrentTrees = append(e.CurrentTrees, r.Tree)
	}
}

// emptyTally lists the current trees without votes
func (e Event) emptyTally() []TreeVotes {
	tally := make([]TreeVotes, 0, len(e.CurrentTrees))
	for _, tree := range e.CurrentTrees {
		tally = append(tally, TreeVotes{Tree: tree})
	}
	sortTally(tally)
	return tally
}
