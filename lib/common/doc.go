// Package common provides the pieces shared by every part of the bot: the
// configuration struct rendered at startup and the custom logger that is
// plugged into the dragonboat logger facade.
//
// Key Components:
//
//   - Config: storage, task and admin settings collected by the CLI layer from
//     flags, environment variables and .env files.
//
//   - Logger: every package obtains a named logger with
//     logger.GetLogger("<name>"). InitLoggers replaces the default factory so
//     all of them print "LEVEL | name | message" lines and share one level.
package common
