// Package databases opens the stores of every bot module from one data
// directory and hands them around as a single value.
package databases

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/pyrohost/prometheus/lib/modules/lorax"
	"github.com/pyrohost/prometheus/lib/modules/modrinth"
	"github.com/pyrohost/prometheus/lib/modules/recording"
	"github.com/pyrohost/prometheus/lib/modules/stats"
	"github.com/pyrohost/prometheus/lib/modules/testservers"
)

var log = logger.GetLogger("databases")

// Domain names, also the base names of the files in the data directory
const (
	DomainLorax     = "lorax"
	DomainModrinth  = "modrinth"
	DomainStats     = "stats"
	DomainTesting   = "testing"
	DomainRecording = "recording"
)

var ErrUnknownDomain = errors.New("unknown domain")

// Databases holds one store per module
type Databases struct {
	Lorax     *docstore.Store[lorax.Database]
	Modrinth  *docstore.Store[modrinth.Database]
	Stats     *docstore.Store[stats.Database]
	Testing   *docstore.Store[testservers.Database]
	Recording *docstore.Store[recording.Database]

	dir string
}

// NamedStore is the type independent view of a store
type NamedStore interface {
	Name() string
	Path() string
	Info() docstore.Info
	Close() error
}

// Path returns the file backing domain inside dir
func Path(dir, domain string) string {
	return filepath.Join(dir, domain+".db")
}

// Domains returns the known domain names, sorted
func Domains() []string {
	d := []string{DomainLorax, DomainModrinth, DomainStats, DomainTesting, DomainRecording}
	sort.Strings(d)
	return d
}

// Open opens every store in dir. Stores opened before a failure are closed
// again.
func Open(dir string, opts docstore.Options) (*Databases, error) {
	d := &Databases{dir: dir}
	var err error

	open := func(domain string, fn func(path string, o docstore.Options) error) {
		if err != nil {
			return
		}
		o := opts
		o.Name = domain
		if e := fn(Path(dir, domain), o); e != nil {
			err = fmt.Errorf("failed to open %s store: %w", domain, e)
		}
	}

	open(DomainLorax, func(p string, o docstore.Options) (e error) {
		d.Lorax, e = docstore.Open[lorax.Database](p, o)
		return
	})
	open(DomainModrinth, func(p string, o docstore.Options) (e error) {
		d.Modrinth, e = docstore.Open[modrinth.Database](p, o)
		return
	})
	open(DomainStats, func(p string, o docstore.Options) (e error) {
		d.Stats, e = docstore.Open[stats.Database](p, o)
		return
	})
	open(DomainTesting, func(p string, o docstore.Options) (e error) {
		d.Testing, e = docstore.Open[testservers.Database](p, o)
		return
	})
	open(DomainRecording, func(p string, o docstore.Options) (e error) {
		d.Recording, e = docstore.Open[recording.Database](p, o)
		return
	})

	if err != nil {
		_ = d.Close()
		return nil, err
	}
	log.Infof("opened %d stores in %s", len(d.Stores()), dir)
	return d, nil
}

// Dir returns the data directory
func (d *Databases) Dir() string {
	return d.dir
}

// Stores returns the opened stores ordered by name
func (d *Databases) Stores() []NamedStore {
	var out []NamedStore
	add := func(s NamedStore, ok bool) {
		if ok {
			out = append(out, s)
		}
	}
	add(d.Lorax, d.Lorax != nil)
	add(d.Modrinth, d.Modrinth != nil)
	add(d.Stats, d.Stats != nil)
	add(d.Testing, d.Testing != nil)
	add(d.Recording, d.Recording != nil)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Infos returns the metadata of every store
func (d *Databases) Infos() []docstore.Info {
	stores := d.Stores()
	infos := make([]docstore.Info, 0, len(stores))
	for _, s := range stores {
		infos = append(infos, s.Info())
	}
	return infos
}

// Dump returns a copy of the document of domain
func (d *Databases) Dump(domain string) (any, error) {
	switch domain {
	case DomainLorax:
		return snapshot(d.Lorax)
	case DomainModrinth:
		return snapshot(d.Modrinth)
	case DomainStats:
		return snapshot(d.Stats)
	case DomainTesting:
		return snapshot(d.Testing)
	case DomainRecording:
		return snapshot(d.Recording)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
}

// NewDocument returns a pointer to an empty document of domain, ready to be
// decoded into
func NewDocument(domain string) (any, error) {
	switch domain {
	case DomainLorax:
		return &lorax.Database{}, nil
	case DomainModrinth:
		return &modrinth.Database{}, nil
	case DomainStats:
		return &stats.Database{}, nil
	case DomainTesting:
		return &testservers.Database{}, nil
	case DomainRecording:
		return &recording.Database{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
}

func snapshot[T any](s *docstore.Store[T]) (any, error) {
	if s == nil {
		return nil, docstore.ErrClosed
	}
	return s.Snapshot()
}

// Close closes every store, waiting for pending saves
func (d *Databases) Close() error {
	var errs []error
	for _, s := range d.Stores() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Handlers bundles the module handlers built on top of the stores
type Handlers struct {
	Lorax     *lorax.Handler
	Modrinth  *modrinth.Handler
	Stats     *stats.Handler
	Testing   *testservers.Handler
	Recording *recording.Handler
}

// Handlers creates the module handlers
func (d *Databases) Handlers() Handlers {
	return Handlers{
		Lorax:     lorax.NewHandler(d.Lorax),
		Modrinth:  modrinth.NewHandler(d.Modrinth),
		Stats:     stats.NewHandler(d.Stats),
		Testing:   testservers.NewHandler(d.Testing),
		Recording: recording.NewHandler(d.Recording),
	}
}
