// Package lorax stores the tree naming events ("lorax events") of each guild.
//
// An event runs through submission, voting, up to three tiebreaker rounds and
// completion. Members submit one tree name each while submissions are open and
// vote for one of the current trees afterwards. Stage durations come from the
// guild's Settings, captured when the event starts. The EventTask advances the
// stage once it has run out and hands the Transition to a Notifier that posts
// the announcements.
package lorax
