package docstore_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/go-cmp/cmp"
	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/docstore"
	storetesting "github.com/pyrohost/prometheus/lib/docstore/testing"
)

func TestStoreCodecs(t *testing.T) {
	for _, name := range []string{"gob", "json", "yaml", "toml", "hujson", "zstd+gob"} {
		c, err := codec.FromName(name)
		if err != nil {
			t.Fatalf("FromName(%q) failed: %v", name, err)
		}
		storetesting.RunStoreTests(t, name, func() docstore.Options {
			opts := docstore.DefaultOptions()
			opts.Codec = c
			return opts
		})
	}
}

func TestStoreWithoutLockFile(t *testing.T) {
	storetesting.RunStoreTests(t, "nolock", func() docstore.Options {
		opts := docstore.DefaultOptions()
		opts.LockFile = false
		return opts
	})
}

// --------------------------------------------------------------------------
// Fault injection
// --------------------------------------------------------------------------

// faultFS wraps the OS filesystem with slow and failing writes
type faultFS struct {
	docstore.OSFileSystem

	mu       sync.Mutex
	delays   []time.Duration // consumed one per write attempt
	failNext int             // number of attempts that fail
	attempts atomic.Int64
}

var errDiskFull = errors.New("no space left on device")

func (f *faultFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	f.attempts.Add(1)

	f.mu.Lock()
	var delay time.Duration
	if len(f.delays) > 0 {
		delay, f.delays = f.delays[0], f.delays[1:]
	}
	fail := f.failNext > 0
	if fail {
		f.failNext--
	}
	f.mu.Unlock()

	time.Sleep(delay)
	if fail {
		return errDiskFull
	}
	return f.OSFileSystem.WriteFile(name, data, perm)
}

func (f *faultFS) slowDown(d ...time.Duration) {
	f.mu.Lock()
	f.delays = append(f.delays, d...)
	f.mu.Unlock()
}

func (f *faultFS) fail(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

type counter struct {
	Count uint64
	Tags  map[string]bool
}

func (c *counter) Init() {
	if c.Tags == nil {
		c.Tags = make(map[string]bool)
	}
}

func openCounter(t *testing.T, path string, fs docstore.FileSystem, timeout time.Duration) *docstore.Store[counter] {
	t.Helper()
	opts := docstore.DefaultOptions()
	opts.FS = fs
	opts.WriteTimeout = timeout
	opts.RetryDelay = time.Millisecond
	s, err := docstore.Open[counter](path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func count(s *docstore.Store[counter]) uint64 {
	return docstore.Read(s, func(c *counter) uint64 { return c.Count })
}

func inc(s *docstore.Store[counter]) (uint64, error) {
	return docstore.Write(s, func(c *counter) (uint64, error) {
		c.Count++
		return c.Count, nil
	})
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriteTimeoutEmergencySave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.db")
	fs := &faultFS{}
	s := openCounter(t, path, fs, 50*time.Millisecond)

	fs.slowDown(300 * time.Millisecond)
	n, err := inc(s)
	if !errors.Is(err, docstore.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if n != 1 {
		t.Errorf("Timed out write should still return its result, got %d", n)
	}
	if got := count(s); got != 1 {
		t.Errorf("Timed out write should be visible in memory, got %d", got)
	}

	eventually(t, "the background save", func() bool { return s.Info().EmergencySaves == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := openCounter(t, path, fs, time.Second)
	defer reopened.Close()
	if got := count(reopened); got != 1 {
		t.Errorf("Background save did not persist the write, got %d", got)
	}
}

func TestWriteAfterTimeoutKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordered.db")
	fs := &faultFS{}
	s := openCounter(t, path, fs, 50*time.Millisecond)

	fs.slowDown(200 * time.Millisecond)
	if _, err := inc(s); !errors.Is(err, docstore.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	// queued behind the slow save, must not be overwritten by it
	done := make(chan error, 1)
	go func() {
		_, err := docstore.Write(s, func(c *counter) (uint64, error) {
			c.Count++
			c.Tags["second"] = true
			return c.Count, nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, docstore.ErrTimeout) {
			t.Fatalf("second write failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second write hung")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := openCounter(t, path, fs, time.Second)
	defer reopened.Close()

	got := docstore.Read(reopened, func(c *counter) counter { return *c })
	want := counter{Count: 2, Tags: map[string]bool{"second": true}}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("File does not hold the newest document (-want +got):\n%s", d)
	}
}

func TestFailedMergedSaveKeepsTimedOutWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.db")
	fs := &faultFS{}
	s := openCounter(t, path, fs, 50*time.Millisecond)

	fs.slowDown(300 * time.Millisecond)
	if _, err := inc(s); !errors.Is(err, docstore.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	// both queue behind the slow save and are written together; the
	// combined write fails every attempt, the second one alone succeeds
	fs.fail(3)
	for i := 0; i < 2; i++ {
		if _, err := inc(s); !errors.Is(err, docstore.ErrTimeout) {
			t.Fatalf("Expected ErrTimeout for queued write %d, got %v", i, err)
		}
	}

	eventually(t, "the background saves", func() bool {
		info := s.Info()
		return info.EmergencySaves == 2 && info.Failures == 1
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := openCounter(t, path, fs, time.Second)
	defer reopened.Close()
	if got := count(reopened); got != 2 {
		t.Errorf("Expected the timed out write with count 2 on disk, got %d", got)
	}
}

func TestWriteRetriesThenSucceeds(t *testing.T) {
	fs := &faultFS{}
	s := openCounter(t, filepath.Join(t.TempDir(), "retry.db"), fs, time.Second)
	defer s.Close()

	fs.fail(2)
	if _, err := inc(s); err != nil {
		t.Fatalf("Write should succeed on the third attempt, got %v", err)
	}
	if got := fs.attempts.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if got := count(s); got != 1 {
		t.Errorf("Expected count 1, got %d", got)
	}
}

func TestWriteIOFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.db")
	fs := &faultFS{}
	s := openCounter(t, path, fs, time.Second)
	defer s.Close()

	if _, err := inc(s); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	fs.attempts.Store(0)

	fs.fail(3)
	_, err := inc(s)
	if !errors.Is(err, docstore.ErrIO) {
		t.Fatalf("Expected ErrIO, got %v", err)
	}
	if !errors.Is(err, errDiskFull) {
		t.Errorf("Expected the disk error as cause, got %v", err)
	}
	if got := fs.attempts.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
	if got := count(s); got != 1 {
		t.Errorf("Failed write must not be committed, got count %d", got)
	}
	if info := s.Info(); info.Failures != 1 || info.Writes != 1 {
		t.Errorf("Expected 1 write and 1 failure, got %+v", info)
	}

	// the next write starts from the committed document
	if n, err := inc(s); err != nil || n != 2 {
		t.Errorf("Expected recovery with count 2, got %d, %v", n, err)
	}
}

type unencodable struct {
	Values map[string]any
}

func TestCodecErrorSkipsDisk(t *testing.T) {
	fs := &faultFS{}
	opts := docstore.DefaultOptions()
	opts.FS = fs
	opts.Codec = codec.NewJSONCodec()
	s, err := docstore.Open[unencodable](filepath.Join(t.TempDir(), "codec.db"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	err = docstore.Update(s, func(d *unencodable) error {
		d.Values = map[string]any{"ch": make(chan int)}
		return nil
	})
	if !errors.Is(err, docstore.ErrCodec) {
		t.Fatalf("Expected ErrCodec, got %v", err)
	}
	if got := fs.attempts.Load(); got != 0 {
		t.Errorf("Codec errors must not touch the disk, got %d attempts", got)
	}
	if docstore.Read(s, func(d *unencodable) bool { return d.Values != nil }) {
		t.Errorf("Codec error must not change the document")
	}
}

func TestReadDuringSlowWrite(t *testing.T) {
	fs := &faultFS{}
	s := openCounter(t, filepath.Join(t.TempDir(), "reads.db"), fs, 5*time.Second)
	defer s.Close()

	fs.slowDown(500 * time.Millisecond)
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = docstore.Write(s, func(c *counter) (uint64, error) {
			close(started)
			c.Count = 99
			return c.Count, nil
		})
	}()

	<-started
	begin := time.Now()
	if got := count(s); got != 0 {
		t.Errorf("Uncommitted write visible to readers: %d", got)
	}
	if elapsed := time.Since(begin); elapsed > 250*time.Millisecond {
		t.Errorf("Read waited %s for the disk", elapsed)
	}

	<-done
	if got := count(s); got != 99 {
		t.Errorf("Expected committed value 99, got %d", got)
	}
}

func TestCorruptFileBackup(t *testing.T) {
	for _, backup := range []bool{true, false} {
		dir := t.TempDir()
		path := filepath.Join(dir, "corrupt.db")
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}

		opts := docstore.DefaultOptions()
		opts.BackupCorrupt = backup
		s, err := docstore.Open[counter](path, opts)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		backups, _ := filepath.Glob(path + ".corrupt-*")
		_, statErr := os.Stat(path)
		if backup {
			if len(backups) != 1 {
				t.Errorf("Expected one backup, found %v", backups)
			} else if b, _ := os.ReadFile(backups[0]); string(b) != "garbage" {
				t.Errorf("Backup content changed: %q", b)
			}
			if !errors.Is(statErr, os.ErrNotExist) {
				t.Errorf("Corrupt file should have been moved away")
			}
		} else {
			if len(backups) != 0 {
				t.Errorf("Unexpected backups %v", backups)
			}
			if statErr != nil {
				t.Errorf("Corrupt file should stay until the next write: %v", statErr)
			}
		}
		s.Close()
	}
}

type clonable struct {
	Names []string
}

var clones atomic.Int64

func (c *clonable) Clone() *clonable {
	clones.Add(1)
	return &clonable{Names: append([]string(nil), c.Names...)}
}

func TestClonerIsUsed(t *testing.T) {
	s, err := docstore.Open[clonable](filepath.Join(t.TempDir(), "clone.db"), docstore.DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	clones.Store(0)
	for _, name := range []string{"a", "b"} {
		if err := docstore.Update(s, func(c *clonable) error {
			c.Names = append(c.Names, name)
			return nil
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	if got := clones.Load(); got != 2 {
		t.Errorf("Expected 2 clones, got %d", got)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	snap.Names[0] = "changed"
	if got := docstore.Read(s, func(c *clonable) string { return c.Names[0] }); got != "a" {
		t.Errorf("Snapshot shares memory with the store: %q", got)
	}
}

func TestInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guilds.db")
	s := openCounter(t, path, docstore.OSFileSystem{}, time.Second)

	info := s.Info()
	if info.Name != "guilds" || info.Path != path || info.Codec != "gob" {
		t.Errorf("Unexpected identity %+v", info)
	}
	if info.FileBytes != -1 {
		t.Errorf("No file written yet, got %d bytes", info.FileBytes)
	}

	for i := 0; i < 3; i++ {
		if _, err := inc(s); err != nil {
			t.Fatal(err)
		}
	}
	info = s.Info()
	if info.Writes != 3 || info.Failures != 0 || info.Timeouts != 0 {
		t.Errorf("Unexpected counters %+v", info)
	}
	if info.FileBytes != int64(info.DocumentBytes) {
		t.Errorf("File holds %d bytes, document %d", info.FileBytes, info.DocumentBytes)
	}
	if info.LastWrite.IsZero() {
		t.Errorf("LastWrite not set")
	}
	if info.P50DocumentBytes != int64(info.DocumentBytes) || info.P99DocumentBytes != int64(info.DocumentBytes) {
		t.Errorf("Expected p50/p99 of %d, got %d/%d", info.DocumentBytes, info.P50DocumentBytes, info.P99DocumentBytes)
	}
	if info.AvgDocumentBytes <= 0 || info.AvgDocumentBytes > int64(info.DocumentBytes) {
		t.Errorf("Average size %d out of range", info.AvgDocumentBytes)
	}

	var buf bytes.Buffer
	metrics.WritePrometheus(&buf, false)
	gauge := fmt.Sprintf(`docstore_document_size_bytes{store="guilds"} %d`, info.DocumentBytes)
	if !strings.Contains(buf.String(), gauge) {
		t.Errorf("Expected %q in metrics output:\n%s", gauge, buf.String())
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Errorf("Lock file missing: %v", err)
	}

	s.Close()
	if !s.Info().Closed {
		t.Errorf("Closed store reports open")
	}
}

func TestErrorCodes(t *testing.T) {
	cause := errors.New("boom")
	err := &docstore.Error{Code: docstore.ErrCodeIO, Msg: "write failed", Err: cause}

	if !errors.Is(err, docstore.ErrIO) {
		t.Errorf("errors.Is(ErrIO) failed")
	}
	if errors.Is(err, docstore.ErrTimeout) {
		t.Errorf("IO error matched ErrTimeout")
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not unwrapped")
	}
	if docstore.CodeOf(err) != docstore.ErrCodeIO || docstore.CodeOf(cause) != 0 {
		t.Errorf("CodeOf mismatch")
	}
	if got, want := err.Error(), "docstore io error: write failed: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
