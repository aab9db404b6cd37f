package docstore

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/util"
)

var log = logger.GetLogger("docstore")

// Store holds one document of type T in memory and mirrors it to a file.
// A *Store is the shared handle: pass it to every caller that needs the
// document, copying the pointer never copies the data.
type Store[T any] struct {
	path string
	opts Options

	// writeMu serialises Write and Close. It is held from the start of a
	// mutation until its bytes are on disk or the write timed out.
	writeMu sync.Mutex
	closed  bool   // guarded by writeMu
	seq     uint64 // guarded by writeMu

	// mu guards the committed document. Committed values are never modified,
	// so readers only hold it while loading the pointer.
	mu      sync.RWMutex
	data    *T
	encoded []byte

	queue     *util.MPSC[saveJob]
	saverDone chan struct{}
	lock      *flock.Flock

	metrics   *storeMetrics
	sizes     *util.SizeDistribution
	writes    atomic.Uint64
	failures  atomic.Uint64
	timeouts  atomic.Uint64
	emergency atomic.Uint64
	lastWrite atomic.Int64
}

// Info is a snapshot of a store's metadata.
type Info struct {
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	Codec            string    `json:"codec"`
	FileBytes        int64     `json:"file_bytes"`
	DocumentBytes    int       `json:"document_bytes"`
	AvgDocumentBytes int64     `json:"avg_document_bytes"`
	P50DocumentBytes int64     `json:"p50_document_bytes"`
	P99DocumentBytes int64     `json:"p99_document_bytes"`
	Writes           uint64    `json:"writes"`
	Failures         uint64    `json:"failures"`
	Timeouts         uint64    `json:"timeouts"`
	EmergencySaves   uint64    `json:"emergency_saves"`
	PendingSaves     int       `json:"pending_saves"`
	LastWrite        time.Time `json:"last_write,omitempty"`
	Closed           bool      `json:"closed"`
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// Open loads the document at path, creating the parent directory if needed.
//
// A missing or empty file yields the default document: the zero value of T,
// passed through Init if T implements Initializer. A file that cannot be read
// or decoded is logged at error level and also yields the default document;
// with BackupCorrupt set it is first renamed to <path>.corrupt-<timestamp>.
// Open only fails if the directory cannot be created or the default document
// cannot be encoded.
func Open[T any](path string, opts Options) (*Store[T], error) {
	opts = opts.withDefaults(path)

	if err := opts.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, newError(ErrCodeIO, "failed to create directory for "+path, err)
	}

	s := &Store[T]{
		path:      path,
		opts:      opts,
		saverDone: make(chan struct{}),
		metrics:   newStoreMetrics(opts.Name),
		sizes:     util.NewSizeDistribution(),
	}

	data, encoded := s.load()
	if encoded == nil {
		var err error
		if encoded, err = opts.Codec.Encode(data); err != nil {
			return nil, newError(ErrCodeCodec, "failed to encode default document for "+opts.Name, err)
		}
	}
	s.data = data
	s.encoded = encoded
	s.sizes.Observe(len(encoded))
	s.metrics.setSize(len(encoded))

	if opts.LockFile {
		s.lock = flock.New(path + ".lock")
	}

	s.queue = util.NewMPSC[saveJob]()
	go s.saveLoop()

	log.Infof("opened store %s at %s (codec %s, %d bytes)", opts.Name, path, opts.Codec.Name(), len(encoded))
	return s, nil
}

// load reads the document from disk. It returns nil bytes whenever it falls
// back to the default document.
func (s *Store[T]) load() (*T, []byte) {
	raw, err := s.opts.FS.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debugf("no file at %s, starting with an empty %s document", s.path, s.opts.Name)
		return newDocument[T](), nil
	case err != nil:
		log.Errorf("failed to read %s, starting with an empty %s document: %v", s.path, s.opts.Name, err)
		return newDocument[T](), nil
	case len(raw) == 0:
		log.Warningf("%s is empty, starting with an empty %s document", s.path, s.opts.Name)
		return newDocument[T](), nil
	}

	doc, err := s.decode(raw)
	if err != nil {
		log.Errorf("failed to decode %s as %s, starting with an empty %s document: %v", s.path, s.opts.Codec.Name(), s.opts.Name, err)
		s.backupCorrupt()
		return newDocument[T](), nil
	}
	return doc, raw
}

// backupCorrupt moves an undecodable file out of the way
func (s *Store[T]) backupCorrupt() {
	if !s.opts.BackupCorrupt {
		log.Warningf("%s will be overwritten by the next write", s.path)
		return
	}
	backup := s.path + ".corrupt-" + time.Now().UTC().Format("20060102T150405.000Z")
	if err := s.opts.FS.Rename(s.path, backup); err != nil {
		log.Errorf("failed to back up %s to %s: %v", s.path, backup, err)
		return
	}
	log.Errorf("moved unreadable %s to %s", s.path, backup)
}

// newDocument returns the default document
func newDocument[T any]() *T {
	doc := new(T)
	if i, ok := any(doc).(Initializer); ok {
		i.Init()
	}
	return doc
}

// decode turns bytes into a fresh, initialised document
func (s *Store[T]) decode(b []byte) (*T, error) {
	doc := new(T)
	if err := s.opts.Codec.Decode(b, doc); err != nil {
		return nil, err
	}
	if i, ok := any(doc).(Initializer); ok {
		i.Init()
	}
	return doc, nil
}

// --------------------------------------------------------------------------
// Access
// --------------------------------------------------------------------------

// Read calls view with the current document and returns its result. view
// must not modify the document or keep references into it after returning.
// Reads never touch the disk and do not wait for writes in progress.
func Read[T, R any](s *Store[T], view func(*T) R) R {
	s.mu.RLock()
	doc := s.data
	s.mu.RUnlock()
	return view(doc)
}

// Write applies mutate to a private copy of the document and persists the
// result. Writes to a store are serialised: every mutate sees the effects of
// all writes that returned before it started.
//
// Failure policy:
//   - mutate returns an error: ErrApplication wrapping it, nothing changes
//   - the copy cannot be encoded: ErrCodec, nothing changes
//   - the file cannot be written after Options.Retries attempts: ErrIO, the
//     in-memory document keeps its previous value
//   - the disk is slower than Options.WriteTimeout: ErrTimeout. The new
//     document is committed in memory and the save finishes in the
//     background. Later writes are queued behind it.
//
// The result of mutate is returned on success and on ErrTimeout.
func Write[T, R any](s *Store[T], mutate func(*T) (R, error)) (R, error) {
	var zero R

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return zero, newError(ErrCodeClosed, "store "+s.opts.Name+" is closed", nil)
	}

	next, err := s.clone()
	if err != nil {
		s.fail()
		return zero, newError(ErrCodeCodec, "failed to copy document "+s.opts.Name, err)
	}

	result, err := mutate(next)
	if err != nil {
		return zero, newError(ErrCodeApplication, "", err)
	}

	encoded, err := s.opts.Codec.Encode(next)
	if err != nil {
		s.fail()
		return zero, newError(ErrCodeCodec, "failed to encode document "+s.opts.Name, err)
	}

	s.seq++
	job := &saveJob{seq: s.seq, data: encoded, done: make(chan error, 1)}
	s.queue.Push(job)

	timer := time.NewTimer(s.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case err = <-job.done:
	case <-timer.C:
		if job.state.CompareAndSwap(jobPending, jobAbandoned) {
			s.timeouts.Add(1)
			s.metrics.timeouts.Inc()
			log.Warningf("write to %s did not finish within %s, saving in background", s.path, s.opts.WriteTimeout)
			s.commit(next, encoded)
			return result, newError(ErrCodeTimeout, "write to "+s.path+" timed out after "+s.opts.WriteTimeout.String(), nil)
		}
		// the save finished while the timer fired
		err = <-job.done
	}

	if err != nil {
		s.fail()
		return zero, newError(ErrCodeIO, "failed to write "+s.path, err)
	}
	s.commit(next, encoded)
	return result, nil
}

// Update is Write for mutations without a result.
func Update[T any](s *Store[T], mutate func(*T) error) error {
	_, err := Write(s, func(doc *T) (struct{}, error) {
		return struct{}{}, mutate(doc)
	})
	return err
}

// Snapshot returns a deep copy of the current document that the caller may
// keep and modify.
func (s *Store[T]) Snapshot() (*T, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	doc, err := s.clone()
	if err != nil {
		return nil, newError(ErrCodeCodec, "failed to copy document "+s.opts.Name, err)
	}
	return doc, nil
}

// clone returns a private copy of the committed document. Caller holds writeMu.
func (s *Store[T]) clone() (*T, error) {
	if c, ok := any(s.data).(Cloner[T]); ok {
		return c.Clone(), nil
	}
	return s.decode(s.encoded)
}

// commit makes doc the current document. Caller holds writeMu.
func (s *Store[T]) commit(doc *T, encoded []byte) {
	s.mu.Lock()
	s.data = doc
	s.encoded = encoded
	s.mu.Unlock()

	s.sizes.Observe(len(encoded))
	s.metrics.setSize(len(encoded))
	s.lastWrite.Store(time.Now().UnixNano())
}

func (s *Store[T]) fail() {
	s.failures.Add(1)
	s.metrics.failures.Inc()
}

// --------------------------------------------------------------------------
// Metadata and lifecycle
// --------------------------------------------------------------------------

// Name returns the name used in logs and metrics.
func (s *Store[T]) Name() string { return s.opts.Name }

// Path returns the location of the document file.
func (s *Store[T]) Path() string { return s.path }

// Info returns metadata about the store. The values are not taken atomically.
func (s *Store[T]) Info() Info {
	s.mu.RLock()
	docBytes := len(s.encoded)
	s.mu.RUnlock()
	sizes := s.sizes.Summary()

	info := Info{
		Name:             s.opts.Name,
		Path:             s.path,
		Codec:            s.opts.Codec.Name(),
		FileBytes:        -1,
		DocumentBytes:    docBytes,
		AvgDocumentBytes: sizes.Mean,
		P50DocumentBytes: sizes.P50,
		P99DocumentBytes: sizes.P99,
		Writes:           s.writes.Load(),
		Failures:         s.failures.Load(),
		Timeouts:         s.timeouts.Load(),
		EmergencySaves:   s.emergency.Load(),
		PendingSaves:     s.queue.Len(),
		Closed:           s.queue.IsClosed(),
	}
	if fi, err := s.opts.FS.Stat(s.path); err == nil {
		info.FileBytes = fi.Size()
	}
	if ns := s.lastWrite.Load(); ns != 0 {
		info.LastWrite = time.Unix(0, ns)
	}
	return info
}

// Close stops accepting writes and waits until every queued save, including
// background saves of timed out writes, has finished. The document stays
// readable. Closing a closed store is a no-op.
func (s *Store[T]) Close() error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.writeMu.Unlock()

	s.queue.Close()
	<-s.saverDone

	log.Infof("closed store %s", s.opts.Name)
	if s.lock != nil {
		return s.lock.Close()
	}
	return nil
}
