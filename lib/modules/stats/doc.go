// Package stats stores the stat bars of each guild: voice channels whose name
// shows a live value queried from the guild's Prometheus server, e.g.
// "Players: 1.2k". The UpdateTask refreshes them; querying Prometheus and
// renaming channels are left to the Querier and Renamer it is given.
package stats
