package docstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	jobPending int32 = iota
	jobAbandoned
	jobDone
)

// lockPollInterval is how often a held lock file is retried
const lockPollInterval = 10 * time.Millisecond

// saveJob is one encoded document waiting to be written
type saveJob struct {
	seq   uint64
	data  []byte
	done  chan error // buffered, receives exactly one result
	state atomic.Int32
}

// saveLoop is the only goroutine writing the file. Jobs arrive in sequence
// order. Everything queued at the time a write starts is coalesced into one
// write of the newest bytes, which always contain the older ones' changes.
func (s *Store[T]) saveLoop() {
	defer close(s.saverDone)

	var written uint64
	for job := range s.queue.Recv() {
		batch := []*saveJob{job}
		more, _ := s.queue.Drain()
		batch = append(batch, more...)

		newest := batch[len(batch)-1]
		var err error
		if newest.seq > written {
			if err = s.persist(newest.data); err == nil {
				written = newest.seq
			}
		}
		if len(batch) > 1 {
			log.Debugf("coalesced %d saves of %s into seq %d", len(batch), s.opts.Name, newest.seq)
		}

		// The newest bytes were rejected, but older timed out writes are
		// already committed in memory and still need their own bytes on disk.
		var saved uint64
		if err != nil {
			if j := newestAbandoned(batch[:len(batch)-1]); j != nil && j.seq > written {
				log.Warningf("saving %s at seq %d after seq %d failed", s.opts.Name, j.seq, newest.seq)
				if s.persist(j.data) == nil {
					written = j.seq
					saved = j.seq
				}
			}
		}

		for _, j := range batch {
			if j.seq <= saved {
				s.finish(j, nil)
			} else {
				s.finish(j, err)
			}
		}
	}
}

// newestAbandoned returns the last job in batch whose writer timed out
func newestAbandoned(batch []*saveJob) *saveJob {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].state.Load() == jobAbandoned {
			return batch[i]
		}
	}
	return nil
}

// finish hands the result to the waiting writer, or logs it if the writer
// gave up waiting
func (s *Store[T]) finish(j *saveJob, err error) {
	if !j.state.CompareAndSwap(jobPending, jobDone) {
		if err != nil {
			s.fail()
			log.Errorf("background save of %s (seq %d) failed: %v", s.path, j.seq, err)
		} else {
			s.emergency.Add(1)
			s.metrics.emergency.Inc()
			log.Infof("background save of %s (seq %d) completed", s.path, j.seq)
		}
	}
	j.done <- err
}

// persist writes data, retrying up to Options.Retries times
func (s *Store[T]) persist(data []byte) error {
	start := time.Now()

	var err error
	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		if err = s.writeOnce(data); err == nil {
			s.writes.Add(1)
			s.metrics.observeWrite(start)
			return nil
		}
		if attempt < s.opts.Retries {
			log.Warningf("write %d/%d of %s failed, retrying in %s: %v", attempt, s.opts.Retries, s.path, s.opts.RetryDelay, err)
			time.Sleep(s.opts.RetryDelay)
		}
	}

	log.Errorf("giving up on %s after %d attempts: %v", s.path, s.opts.Retries, err)
	return err
}

// writeOnce replaces the file, holding the lock file if enabled
func (s *Store[T]) writeOnce(data []byte) error {
	if s.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()

		locked, err := s.lock.TryLockContext(ctx, lockPollInterval)
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", s.lock.Path(), err)
		}
		if !locked {
			return fmt.Errorf("%s is locked by another process", s.lock.Path())
		}
		defer s.lock.Unlock()
	}
	return s.opts.FS.WriteFile(s.path, data, s.opts.FileMode)
}
