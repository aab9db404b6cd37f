package lorax

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/pyrohost/prometheus/lib/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guild = uint64(1081650339093479524)

var start = time.Date(2024, 4, 22, 12, 0, 0, 0, time.UTC)

func openHandler(t *testing.T, path string) *Handler {
	t.Helper()
	s, err := docstore.Open[Database](path, docstore.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewHandler(s)
}

func newHandler(t *testing.T) *Handler {
	return openHandler(t, filepath.Join(t.TempDir(), "lorax.db"))
}

// votingEvent starts an event with the given submissions and moves it to voting
func votingEvent(t *testing.T, h *Handler, trees ...string) {
	t.Helper()
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	for i, tree := range trees {
		_, _, err := h.SubmitTree(guild, uint64(100+i), tree)
		require.NoError(t, err)
	}
	tr, err := h.Advance(guild, start.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, StageVoting, tr.Event.Stage)
}

func TestStartEvent(t *testing.T) {
	h := newHandler(t)

	e, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	assert.Equal(t, StageSubmission, e.Stage)
	assert.Equal(t, DefaultSettings(), e.Settings)
	assert.Equal(t, start.Add(60*time.Minute), e.StageEnd())

	_, err = h.StartEvent(guild, start)
	assert.ErrorIs(t, err, ErrEventRunning)
	assert.ErrorIs(t, err, docstore.ErrApplication)

	assert.Equal(t, []uint64{guild}, h.GuildIDs())
}

func TestSubmitTree(t *testing.T) {
	h := newHandler(t)

	_, _, err := h.SubmitTree(guild, 1, "Oak")
	assert.ErrorIs(t, err, ErrNoActiveEvent)

	_, err = h.StartEvent(guild, start)
	require.NoError(t, err)

	_, _, err = h.SubmitTree(guild, 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyTreeName)
	_, _, err = h.SubmitTree(guild, 1, strings.Repeat("x", MaxTreeNameLength+1))
	assert.ErrorIs(t, err, ErrTreeNameTooLong)

	isUpdate, previous, err := h.SubmitTree(guild, 1, "  Oak ")
	require.NoError(t, err)
	assert.False(t, isUpdate)
	assert.Empty(t, previous)

	_, _, err = h.SubmitTree(guild, 2, "oak")
	assert.ErrorIs(t, err, ErrDuplicateTree)

	isUpdate, previous, err = h.SubmitTree(guild, 1, "Birch")
	require.NoError(t, err)
	assert.True(t, isUpdate)
	assert.Equal(t, "Oak", previous)

	e, ok := h.GetEvent(guild)
	require.True(t, ok)
	assert.Equal(t, map[uint64]string{1: "Birch"}, e.Submissions)
}

func TestRemoveSubmission(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	_, _, err = h.SubmitTree(guild, 7, "Willow")
	require.NoError(t, err)

	submitter, err := h.RemoveSubmission(guild, "willow")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), submitter)

	_, _, err = h.SubmitTree(guild, 8, "WILLOW")
	assert.ErrorIs(t, err, ErrTreeEliminated)

	_, err = h.RemoveSubmission(guild, "willow")
	assert.ErrorIs(t, err, ErrTreeNotFound)
}

func TestVoteTree(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)

	_, err = h.VoteTree(guild, 1, "Oak")
	assert.ErrorIs(t, err, ErrVotingClosed)

	_, err = h.EndEvent(guild)
	require.NoError(t, err)
	_, err = h.EndEvent(guild)
	assert.ErrorIs(t, err, ErrNoActiveEvent)

	votingEvent(t, h, "Oak", "Birch")

	_, err = h.VoteTree(guild, 1, "Maple")
	assert.ErrorIs(t, err, ErrInvalidTree)

	isUpdate, err := h.VoteTree(guild, 1, "oak")
	require.NoError(t, err)
	assert.False(t, isUpdate)

	isUpdate, err = h.VoteTree(guild, 1, "BIRCH")
	require.NoError(t, err)
	assert.True(t, isUpdate)

	e, _ := h.GetEvent(guild)
	assert.Equal(t, map[uint64]string{1: "Birch"}, e.Votes, "votes use the submitted spelling")

	removed, err := h.RemoveVote(guild, 1)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = h.RemoveVote(guild, 1)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAdvanceToCompleted(t *testing.T) {
	h := newHandler(t)
	votingEvent(t, h, "Oak", "Birch", "Pine")

	e, _ := h.GetEvent(guild)
	assert.Equal(t, []string{"Birch", "Oak", "Pine"}, e.CurrentTrees)

	for user, tree := range map[uint64]string{1: "Oak", 2: "Oak", 3: "Pine"} {
		_, err := h.VoteTree(guild, user, tree)
		require.NoError(t, err)
	}

	tr, err := h.Advance(guild, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageVoting, tr.From)
	assert.Equal(t, StageCompleted, tr.Event.Stage)
	assert.Equal(t, []TreeVotes{{"Oak", 2}, {"Pine", 1}}, tr.Event.Winners())
	assert.Empty(t, tr.Event.Votes)

	winner, ok := tr.Event.Winner()
	assert.True(t, ok)
	assert.Equal(t, "Oak", winner)
	submitter, ok := tr.Event.Submitter(winner)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), submitter)

	tr, err = h.Advance(guild, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageInactive, tr.Event.Stage)

	tr, err = h.Advance(guild, start.Add(4*time.Hour))
	require.NoError(t, err)
	assert.False(t, tr.Changed())
}

func TestAdvanceWithoutParticipants(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)

	tr, err := h.Advance(guild, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageInactive, tr.Event.Stage, "no submissions")

	h = newHandler(t)
	votingEvent(t, h, "Oak")
	tr, err = h.Advance(guild, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageInactive, tr.Event.Stage, "no votes")
}

func TestTiebreaker(t *testing.T) {
	h := newHandler(t)
	votingEvent(t, h, "Oak", "Birch", "Pine")

	vote := func(votes map[uint64]string) {
		t.Helper()
		for user, tree := range votes {
			_, err := h.VoteTree(guild, user, tree)
			require.NoError(t, err)
		}
	}

	vote(map[uint64]string{1: "Oak", 2: "Birch", 3: "Birch", 4: "Oak", 5: "Pine"})
	tr, err := h.Advance(guild, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageTiebreaker, tr.Event.Stage)
	assert.Equal(t, 1, tr.Event.Round)
	assert.Equal(t, []string{"Birch", "Oak"}, tr.Event.CurrentTrees)
	assert.Empty(t, tr.Event.Votes)
	assert.Equal(t, "voting -> tiebreaker(1)", tr.String())

	_, err = h.VoteTree(guild, 1, "Pine")
	assert.ErrorIs(t, err, ErrInvalidTree, "eliminated in the first round")

	// nobody votes: the runoff repeats
	tr, err = h.Advance(guild, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Event.Round)

	vote(map[uint64]string{1: "Oak", 2: "Birch"})
	tr, err = h.Advance(guild, start.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageTiebreaker, tr.Event.Stage)
	assert.Equal(t, 3, tr.Event.Round)

	vote(map[uint64]string{1: "Oak", 2: "Birch"})
	tr, err = h.Advance(guild, start.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, tr.Event.Stage, "ties end after the last round")
	assert.Equal(t, []TreeVotes{{"Birch", 1}, {"Oak", 1}}, tr.Event.Results)
}

func TestTiebreakerDecided(t *testing.T) {
	h := newHandler(t)
	votingEvent(t, h, "Oak", "Birch")

	for user, tree := range map[uint64]string{1: "Oak", 2: "Birch"} {
		_, err := h.VoteTree(guild, user, tree)
		require.NoError(t, err)
	}
	_, err := h.Advance(guild, start.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = h.VoteTree(guild, 3, "Birch")
	require.NoError(t, err)
	tr, err := h.Advance(guild, start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, tr.Event.Stage)
	winner, _ := tr.Event.Winner()
	assert.Equal(t, "Birch", winner)
}

func TestAdvanceIfDue(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	_, _, err = h.SubmitTree(guild, 1, "Oak")
	require.NoError(t, err)

	_, changed, err := h.AdvanceIfDue(guild, start.Add(59*time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	end, err := h.AdjustDuration(guild, -30)
	require.NoError(t, err)
	assert.Equal(t, start.Add(30*time.Minute), end)

	tr, changed, err := h.AdvanceIfDue(guild, start.Add(31*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StageVoting, tr.Event.Stage)
	assert.Equal(t, start.Add(31*time.Minute), tr.Event.StartTime)

	_, changed, err = h.AdvanceIfDue(guild+1, start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed, "unknown guild")
}

func TestEventTask(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	_, _, err = h.SubmitTree(guild, 1, "Oak")
	require.NoError(t, err)

	var got []Transition
	task := NewEventTask(guild, h, NotifierFunc(func(_ context.Context, tr Transition) error {
		got = append(got, tr)
		return nil
	}))
	now := start
	task.now = func() time.Time { return now }

	assert.Equal(t, "lorax/1081650339093479524", task.Name())
	assert.Equal(t, time.Minute, task.Schedule())

	require.NoError(t, task.Execute(context.Background()))
	assert.Empty(t, got)

	now = start.Add(61 * time.Minute)
	require.NoError(t, task.Execute(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, StageSubmission, got[0].From)
	assert.Equal(t, StageVoting, got[0].Event.Stage)
	assert.Equal(t, guild, got[0].GuildID)
}

func TestSettings(t *testing.T) {
	h := newHandler(t)

	assert.Equal(t, DefaultSettings(), h.GetSettings(guild))

	s, err := h.EnsureSettings(guild)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	s, err = h.UpdateSettings(guild, func(s *Settings) error {
		s.Channel = 42
		s.VotingDuration = 10
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), s.Channel)
	assert.Equal(t, s, h.GetSettings(guild))

	_, err = h.UpdateSettings(guild, func(s *Settings) error {
		s.TiebreakerDuration = 0
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.Equal(t, uint64(15), h.GetSettings(guild).TiebreakerDuration)

	e, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.Settings.VotingDuration)

	require.NoError(t, h.Reset(guild))
	assert.Equal(t, DefaultSettings(), h.GetSettings(guild))
	_, ok := h.GetEvent(guild)
	assert.False(t, ok)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lorax.db")
	h := openHandler(t, path)
	votingEvent(t, h, "Oak", "Birch")
	_, err := h.VoteTree(guild, 9, "Oak")
	require.NoError(t, err)
	want, _ := h.GetEvent(guild)
	require.NoError(t, h.Store().Close())

	reopened := openHandler(t, path)
	got, ok := reopened.GetEvent(guild)
	require.True(t, ok)
	assert.Equal(t, want.Votes, got.Votes)
	assert.Equal(t, want.Submissions, got.Submissions)
	assert.Equal(t, want.CurrentTrees, got.CurrentTrees)
	assert.True(t, want.StartTime.Equal(got.StartTime))
	assert.NotNil(t, got.Eliminated, "maps are initialised after decoding")
}

func TestGetEventReturnsCopy(t *testing.T) {
	h := newHandler(t)
	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)

	e, _ := h.GetEvent(guild)
	e.Submissions[1] = "Sneaky"

	e, _ = h.GetEvent(guild)
	assert.Empty(t, e.Submissions)
}

func TestSupervisorTask(t *testing.T) {
	h := newHandler(t)
	m := tasks.NewManager()
	sup := NewSupervisorTask(h, m, nil, 0)
	assert.Equal(t, EventTaskInterval, sup.Schedule())

	require.NoError(t, sup.Execute(context.Background()))
	assert.False(t, m.Has(TaskName(guild)))

	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	require.NoError(t, sup.Execute(context.Background()))
	assert.True(t, m.Has(TaskName(guild)))

	// an idle run keeps the registered task
	require.NoError(t, sup.Execute(context.Background()))
	assert.True(t, m.Has(TaskName(guild)))

	_, err = h.EndEvent(guild)
	require.NoError(t, err)
	require.NoError(t, sup.Execute(context.Background()))
	assert.False(t, m.Has(TaskName(guild)))
}

func TestCompletedEventRetires(t *testing.T) {
	h := newHandler(t)
	m := tasks.NewManager()
	sup := NewSupervisorTask(h, m, nil, 0)

	_, err := h.StartEvent(guild, start)
	require.NoError(t, err)
	_, _, err = h.SubmitTree(guild, 1, "Oak")
	require.NoError(t, err)
	_, err = h.Advance(guild, start.Add(time.Hour))
	require.NoError(t, err)
	_, err = h.VoteTree(guild, 2, "Oak")
	require.NoError(t, err)
	tr, err := h.Advance(guild, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, StageCompleted, tr.Event.Stage)

	require.NoError(t, sup.Execute(context.Background()))
	require.True(t, m.Has(TaskName(guild)), "completed events are still watched")

	var got []Transition
	task := NewEventTask(guild, h, NotifierFunc(func(_ context.Context, tr Transition) error {
		got = append(got, tr)
		return nil
	}))
	task.now = func() time.Time { return start.Add(26 * time.Hour) }
	require.NoError(t, task.Execute(context.Background()))

	require.Len(t, got, 1)
	assert.Equal(t, StageCompleted, got[0].From)
	assert.Equal(t, StageInactive, got[0].Event.Stage)

	event, ok := h.GetEvent(guild)
	require.True(t, ok)
	assert.Equal(t, StageInactive, event.Stage)

	_, changed, err := h.AdvanceIfDue(guild, start.Add(27*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed, "inactive events stay put")

	require.NoError(t, sup.Execute(context.Background()))
	assert.False(t, m.Has(TaskName(guild)))
}
