package docstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pyrohost/prometheus/lib/codec"
)

// Options configures a store. Start from DefaultOptions and override fields.
type Options struct {
	// Name identifies the store in logs and metrics. Defaults to the file name
	// without extension.
	Name string
	// Codec encodes the document. Defaults to gob.
	Codec codec.ICodec
	// FS is the filesystem the document lives on. Defaults to OSFileSystem.
	FS FileSystem
	// WriteTimeout bounds how long Write waits for the disk. When it elapses
	// Write returns ErrTimeout and the save continues in the background.
	WriteTimeout time.Duration
	// Retries is the number of write attempts before ErrIO is returned.
	Retries int
	// RetryDelay is the pause between two write attempts.
	RetryDelay time.Duration
	// FileMode is used for the document file.
	FileMode os.FileMode
	// BackupCorrupt renames an undecodable file to <path>.corrupt-<timestamp>
	// instead of overwriting it with the next write.
	BackupCorrupt bool
	// LockFile guards every write with an advisory lock on <path>.lock so two
	// processes sharing a data directory do not interleave writes.
	LockFile bool
}

// DefaultOptions returns the options used by the bot.
func DefaultOptions() Options {
	return Options{
		Codec:         codec.NewGOBCodec(),
		FS:            OSFileSystem{},
		WriteTimeout:  5 * time.Second,
		Retries:       3,
		RetryDelay:    100 * time.Millisecond,
		FileMode:      0o644,
		BackupCorrupt: true,
		LockFile:      true,
	}
}

// withDefaults fills every unset field from DefaultOptions
func (o Options) withDefaults(path string) Options {
	d := DefaultOptions()
	if o.Name == "" {
		base := filepath.Base(path)
		o.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if o.Codec == nil {
		o.Codec = d.Codec
	}
	if o.FS == nil {
		o.FS = d.FS
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.Retries <= 0 {
		o.Retries = d.Retries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.FileMode == 0 {
		o.FileMode = d.FileMode
	}
	return o
}

// --------------------------------------------------------------------------
// Document hooks
// --------------------------------------------------------------------------

// Initializer is implemented by documents (on the pointer receiver) that need
// more than their zero value, e.g. non-nil maps. Init is called on a fresh
// default document and after every decode.
type Initializer interface {
	Init()
}

// Cloner is implemented by documents (on the pointer receiver) that can deep
// copy themselves faster than a codec round trip. The copy must share no
// mutable state with the original.
type Cloner[T any] interface {
	Clone() *T
}
