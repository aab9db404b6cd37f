package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Bot configuration struct
// --------------------------------------------------------------------------

// Config holds the settings shared by every command of the bot.
type Config struct {
	// Storage
	DataDir       string
	Codec         string
	WriteTimeout  time.Duration
	WriteRetries  int
	RetryDelay    time.Duration
	BackupCorrupt bool

	// Admin HTTP surface (serve only)
	Endpoint string

	// Background tasks (serve only)
	LoraxInterval     time.Duration
	ExpiryInterval    time.Duration
	RecordingIdleTime time.Duration

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Codec", c.Codec)
	addField("Write Timeout", c.WriteTimeout.String())
	addField("Write Retries", fmt.Sprintf("%d", c.WriteRetries))
	addField("Retry Delay", c.RetryDelay.String())
	addField("Backup Corrupt Files", fmt.Sprintf("%t", c.BackupCorrupt))

	if c.Endpoint != "" {
		addSection("Admin API")
		addField("Endpoint", c.Endpoint)
	}

	if c.LoraxInterval > 0 || c.ExpiryInterval > 0 {
		addSection("Tasks")
		addField("Lorax Interval", c.LoraxInterval.String())
		addField("Expiry Interval", c.ExpiryInterval.String())
		addField("Recording Idle Time", c.RecordingIdleTime.String())
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
