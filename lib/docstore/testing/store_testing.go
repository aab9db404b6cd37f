package testing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pyrohost/prometheus/lib/docstore"
)

// OptionsFactory returns the options a store under test is opened with
type OptionsFactory func() docstore.Options

// Document is the document type used by the suite. Items only has string
// keys so that every codec can store it.
type Document struct {
	Count uint64
	Items map[string]string
}

func (d *Document) Init() {
	if d.Items == nil {
		d.Items = make(map[string]string)
	}
}

// RunStoreTests runs the behaviour every store configuration must provide.
func RunStoreTests(t *testing.T, name string, factory OptionsFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("FreshOpen", func(t *testing.T) {
			testFreshOpen(t, factory)
		})

		t.Run("WriteRead", func(t *testing.T) {
			testWriteRead(t, factory)
		})

		t.Run("Reload", func(t *testing.T) {
			testReload(t, factory)
		})

		t.Run("Garbage", func(t *testing.T) {
			testGarbage(t, factory)
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory)
		})

		t.Run("ConcurrentCounter", func(t *testing.T) {
			testConcurrentCounter(t, factory)
		})

		t.Run("ApplicationError", func(t *testing.T) {
			testApplicationError(t, factory)
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t *testing.T, path string, factory OptionsFactory) *docstore.Store[Document] {
	t.Helper()
	s, err := docstore.Open[Document](path, factory())
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	return s
}

func closeStore(t *testing.T, s *docstore.Store[Document]) {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func snapshot(s *docstore.Store[Document]) Document {
	return docstore.Read(s, func(d *Document) Document {
		items := make(map[string]string, len(d.Items))
		for k, v := range d.Items {
			items[k] = v
		}
		return Document{Count: d.Count, Items: items}
	})
}

func increment(s *docstore.Store[Document]) (uint64, error) {
	return docstore.Write(s, func(d *Document) (uint64, error) {
		d.Count++
		return d.Count, nil
	})
}

func diff(want, got Document) string {
	return cmp.Diff(want, got, cmpopts.EquateEmpty())
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testFreshOpen(t *testing.T, factory OptionsFactory) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "fresh.db")
	s := open(t, path, factory)
	defer closeStore(t, s)

	if d := diff(Document{}, snapshot(s)); d != "" {
		t.Errorf("Fresh store is not empty (-want +got):\n%s", d)
	}
	if docstore.Read(s, func(d *Document) bool { return d.Items == nil }) {
		t.Errorf("Init was not applied to the default document")
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("Parent directory was not created: %v", err)
	}
}

func testWriteRead(t *testing.T, factory OptionsFactory) {
	s := open(t, filepath.Join(t.TempDir(), "rw.db"), factory)
	defer closeStore(t, s)

	want := Document{Items: map[string]string{}}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%d", i)
		n, err := docstore.Write(s, func(d *Document) (int, error) {
			d.Items[key] = fmt.Sprintf("value-%d", i)
			d.Count++
			return len(d.Items), nil
		})
		if err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
		if n != i+1 {
			t.Errorf("Write %d returned %d, want %d", i, n, i+1)
		}
		want.Items[key] = fmt.Sprintf("value-%d", i)
		want.Count++
	}

	if d := diff(want, snapshot(s)); d != "" {
		t.Errorf("Document mismatch (-want +got):\n%s", d)
	}
}

func testReload(t *testing.T, factory OptionsFactory) {
	path := filepath.Join(t.TempDir(), "reload.db")
	s := open(t, path, factory)

	err := docstore.Update(s, func(d *Document) error {
		d.Count = 42
		d.Items["guild"] = "1234567890"
		d.Items["unicode"] = "Grüße 🌲"
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	want := snapshot(s)
	closeStore(t, s)

	reopened := open(t, path, factory)
	defer closeStore(t, reopened)

	if d := diff(want, snapshot(reopened)); d != "" {
		t.Errorf("Reloaded document mismatch (-want +got):\n%s", d)
	}
}

func testGarbage(t *testing.T, factory OptionsFactory) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.db")
	if err := os.WriteFile(path, []byte("\x00\xff\x13 definitely not a document {{{"), 0o644); err != nil {
		t.Fatalf("Failed to write garbage: %v", err)
	}

	s := open(t, path, factory)
	if d := diff(Document{}, snapshot(s)); d != "" {
		t.Errorf("Store over garbage is not empty (-want +got):\n%s", d)
	}

	if _, err := increment(s); err != nil {
		t.Fatalf("Write over garbage failed: %v", err)
	}
	closeStore(t, s)

	reopened := open(t, path, factory)
	defer closeStore(t, reopened)
	if got := snapshot(reopened).Count; got != 1 {
		t.Errorf("Expected count 1 after overwriting garbage, got %d", got)
	}
}

func testConcurrentWriters(t *testing.T, factory OptionsFactory) {
	path := filepath.Join(t.TempDir(), "concurrent.db")
	s := open(t, path, factory)

	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- docstore.Update(s, func(d *Document) error {
				d.Items[fmt.Sprintf("writer-%02d", i)] = "ok"
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}

	if got := len(snapshot(s).Items); got != writers {
		t.Errorf("Expected %d keys, got %d (lost update)", writers, got)
	}
	closeStore(t, s)

	reopened := open(t, path, factory)
	defer closeStore(t, reopened)
	if got := len(snapshot(reopened).Items); got != writers {
		t.Errorf("Expected %d keys on disk, got %d", writers, got)
	}
}

func testConcurrentCounter(t *testing.T, factory OptionsFactory) {
	path := filepath.Join(t.TempDir(), "counter.db")
	s := open(t, path, factory)

	results := make([]uint64, 3)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := increment(s)
			if err != nil {
				t.Errorf("increment failed: %v", err)
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	if d := cmp.Diff([]uint64{1, 2, 3}, results); d != "" {
		t.Errorf("Each increment must see the previous ones (-want +got):\n%s", d)
	}
	if got := snapshot(s).Count; got != 3 {
		t.Errorf("Expected count 3, got %d", got)
	}
	closeStore(t, s)

	reopened := open(t, path, factory)
	defer closeStore(t, reopened)
	if got := snapshot(reopened).Count; got != 3 {
		t.Errorf("Expected count 3 after reload, got %d", got)
	}
}

func testApplicationError(t *testing.T, factory OptionsFactory) {
	s := open(t, filepath.Join(t.TempDir(), "apperr.db"), factory)
	defer closeStore(t, s)

	if _, err := increment(s); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	before := snapshot(s)

	errNoEvent := errors.New("no active event")
	_, err := docstore.Write(s, func(d *Document) (int, error) {
		// changes made before failing must not leak
		d.Count = 1000
		d.Items["half"] = "applied"
		return 0, errNoEvent
	})

	if !errors.Is(err, docstore.ErrApplication) {
		t.Errorf("Expected ErrApplication, got %v", err)
	}
	if !errors.Is(err, errNoEvent) {
		t.Errorf("Expected the mutate error to be wrapped, got %v", err)
	}
	if err != nil && err.Error() != errNoEvent.Error() {
		t.Errorf("Expected message %q, got %q", errNoEvent.Error(), err.Error())
	}
	if d := diff(before, snapshot(s)); d != "" {
		t.Errorf("Failed write changed the document (-before +after):\n%s", d)
	}
}

func testClosed(t *testing.T, factory OptionsFactory) {
	s := open(t, filepath.Join(t.TempDir(), "closed.db"), factory)

	if _, err := increment(s); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	closeStore(t, s)

	if _, err := increment(s); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	if got := snapshot(s).Count; got != 1 {
		t.Errorf("Closed store should stay readable, got count %d", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
