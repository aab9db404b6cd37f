package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/common"
	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of the environment variables read by viper
	EnvPrefix = "prometheus"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the storage and logging flags shared by every command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding one file per module (lorax.db, stats.db, ...)"))

	key = "codec"
	cmd.PersistentFlags().String(key, "gob", WrapString("Codec of the store files (json, gob, yaml, toml, hujson), optionally prefixed with zstd+ (e.g. zstd+gob)"))

	key = "write-timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("Seconds a write waits for its save before it returns a timeout and the save continues in the background"))

	key = "write-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times a failed save is attempted"))

	key = "retry-delay"
	cmd.PersistentFlags().Int(key, 100, WrapString("Pause between save attempts in milliseconds"))

	key = "backup-corrupt"
	cmd.PersistentFlags().Bool(key, true, WrapString("Rename unreadable store files to <file>.corrupt-<time> instead of overwriting them"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and sets up viper to read environment variables
// of the form PROMETHEUS_<FLAG> (e.g. PROMETHEUS_DATA_DIR=/var/lib/bot)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetConfig reads the configuration from viper
func GetConfig() *common.Config {
	return &common.Config{
		DataDir:           viper.GetString("data-dir"),
		Codec:             viper.GetString("codec"),
		WriteTimeout:      time.Duration(viper.GetInt("write-timeout")) * time.Second,
		WriteRetries:      viper.GetInt("write-retries"),
		RetryDelay:        time.Duration(viper.GetInt("retry-delay")) * time.Millisecond,
		BackupCorrupt:     viper.GetBool("backup-corrupt"),
		Endpoint:          viper.GetString("endpoint"),
		LoraxInterval:     time.Duration(viper.GetInt("lorax-interval")) * time.Second,
		ExpiryInterval:    time.Duration(viper.GetInt("expiry-interval")) * time.Second,
		RecordingIdleTime: time.Duration(viper.GetInt("recording-idle")) * time.Minute,
		LogLevel:          viper.GetString("log-level"),
	}
}

// GetCodec resolves the configured codec
func GetCodec(config *common.Config) (codec.ICodec, error) {
	return codec.FromName(config.Codec)
}

// GetStoreOptions converts the configuration into store options
func GetStoreOptions(config *common.Config) (docstore.Options, error) {
	c, err := GetCodec(config)
	if err != nil {
		return docstore.Options{}, err
	}

	opts := docstore.DefaultOptions()
	opts.Codec = c
	opts.WriteTimeout = config.WriteTimeout
	opts.Retries = config.WriteRetries
	opts.RetryDelay = config.RetryDelay
	opts.BackupCorrupt = config.BackupCorrupt
	return opts, nil
}
