package docstore

import (
	"bytes"
	"io/fs"
	"os"

	"github.com/natefinch/atomic"
)

// FileSystem is the file access a store needs. Replace it to place documents
// somewhere else or to inject faults in tests.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	ReadFile(name string) ([]byte, error)
	// WriteFile must replace name as a whole: readers see either the old or
	// the new content, never a mix.
	WriteFile(name string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	Stat(name string) (fs.FileInfo, error)
}

// OSFileSystem is the FileSystem backed by the operating system. Writes go
// to a temp file in the same directory which is synced and renamed over the
// target.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(name, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(name, perm)
}

func (OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}
