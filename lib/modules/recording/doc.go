// Package recording stores the voice channel each guild records and whether a
// recording is currently running. VoiceStateChanged starts a recording when
// the first member joins the configured channel and stops it once the channel
// is empty; the IdleTask stops recordings nobody touched for a while.
package recording
