// Package discover keeps the catalog of every mock of the active domain,
// rebuilt by a parallel rescan and patched from filesystem events.
package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/metrics"
	"github.com/snapp-incubator/mokzi/internal/mock"
	"github.com/snapp-incubator/mokzi/internal/watcher"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("discover is closed")

type EventKind int

const (
	// Loading is emitted when a full rescan starts.
	Loading EventKind = iota + 1
	// Catalog carries the whole catalog after a rescan or a change.
	Catalog
)

func (k EventKind) String() string {
	if k == Loading {
		return "loading"
	}
	return "catalog"
}

type Event struct {
	Kind    EventKind
	Domain  string
	Entries []Entry
}

// Listener receives events on the discover goroutine. It must not call back
// into the Discover that emitted the event.
type Listener func(Event)

// WatchFunc starts watching a mocks folder.
type WatchFunc func(folder string) (watcher.Watcher, error)

type Options struct {
	// Workers bounds the folders scanned at the same time. Zero is unbounded.
	Workers  int
	Listener Listener
	// Watch defaults to a recursive fsnotify watcher.
	Watch WatchFunc
}

// Discover owns the catalog of one active domain. All state is held by a
// single goroutine; methods hand work to it and wait.
type Discover struct {
	builder  *fileurl.Builder
	workers  int
	listener Listener
	watch    WatchFunc
	logger   *zap.Logger

	cmds      chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// owned by the run goroutine
	domain      string
	mocksFolder string
	catalog     map[string]*Entry
	generation  uint64
	cancelScan  context.CancelFunc
	w           watcher.Watcher
	watchGen    uint64
}

func New(builder *fileurl.Builder, opts Options, logger *zap.Logger) *Discover {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Discover{
		builder:  builder,
		workers:  opts.Workers,
		listener: opts.Listener,
		watch:    opts.Watch,
		logger:   logger,
		cmds:     make(chan func()),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		catalog:  make(map[string]*Entry),
	}
	if d.listener == nil {
		d.listener = func(Event) {}
	}
	if d.watch == nil {
		d.watch = func(folder string) (watcher.Watcher, error) {
			return watcher.New(folder, logger.Named("watcher"))
		}
	}

	go d.run()
	return d
}

func (d *Discover) run() {
	defer close(d.done)

	for {
		select {
		case <-d.ctx.Done():
			if d.cancelScan != nil {
				d.cancelScan()
			}
			d.unsubscribe()
			return
		case fn := <-d.cmds:
			fn()
		}
	}
}

// do runs fn on the discover goroutine and waits for it.
func (d *Discover) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case d.cmds <- func() { fn(); close(finished) }:
	case <-d.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		return ErrClosed
	}
}

// post queues fn without waiting. It is dropped after Close.
func (d *Discover) post(fn func()) {
	select {
	case d.cmds <- fn:
	case <-d.done:
	}
}

// Close stops rescans and watching.
func (d *Discover) Close() {
	d.closeOnce.Do(d.cancel)
	<-d.done
}

// UpdateDomain makes domain the active one. It does nothing when domain is
// already active and its catalog is not empty; otherwise the catalog is
// cleared, Loading is emitted and a rescan starts.
func (d *Discover) UpdateDomain(domain string) error {
	mocksFolder, err := d.builder.MocksFolder(domain)
	if err != nil {
		return err
	}

	return d.do(func() {
		if domain == d.domain && len(d.catalog) > 0 {
			return
		}

		previous := d.catalog
		if domain != d.domain {
			previous = nil
		}
		d.domain = domain
		d.mocksFolder = mocksFolder
		d.catalog = make(map[string]*Entry)

		d.subscribe()
		d.rescan(previous)
	})
}

// Reload rescans the active domain, reusing unchanged records.
func (d *Discover) Reload() error {
	return d.do(func() {
		if d.domain == "" {
			return
		}
		d.rescan(d.catalog)
	})
}

// MockFileChanged refreshes the record stored at path, or drops it when the
// file is gone, and emits the catalog.
func (d *Discover) MockFileChanged(path string) error {
	return d.do(func() {
		if d.fileChanged(filepath.Clean(path)) {
			d.emitCatalog()
		}
	})
}

// MocksFolderChanged drops records under folder whose file is gone, picks up
// new files under it and emits the catalog.
func (d *Discover) MocksFolderChanged(folder string) error {
	return d.do(func() {
		if d.folderChanged(filepath.Clean(folder)) {
			d.emitCatalog()
		}
	})
}

// Domain returns the active domain.
func (d *Discover) Domain() (string, error) {
	var domain string
	err := d.do(func() { domain = d.domain })
	return domain, err
}

// Snapshot returns a copy of the catalog.
func (d *Discover) Snapshot() ([]Entry, error) {
	return d.Search("")
}

// Search returns the cataloged mocks whose URL, scenario or response outline
// contains query, ignoring case.
func (d *Discover) Search(query string) ([]Entry, error) {
	var out []Entry
	err := d.do(func() { out = entries(d.catalog, query) })
	return out, err
}

func (d *Discover) rescan(previous map[string]*Entry) {
	if d.cancelScan != nil {
		d.cancelScan()
	}
	d.generation++
	gen := d.generation
	domain, mocksFolder := d.domain, d.mocksFolder

	ctx, cancel := context.WithCancel(d.ctx)
	d.cancelScan = cancel

	d.emit(Event{Kind: Loading, Domain: domain})

	reuse := byPath(previous)
	go func() {
		catalog, err := scan(ctx, mocksFolder, reuse, d.workers, d.logger)
		if err != nil {
			metrics.RescanCounter.WithLabelValues(domain, "cancelled").Inc()
			d.logger.Debug("mock rescan abandoned", zap.String("mock_domain", domain), zap.Error(err))
			return
		}

		d.post(func() {
			if gen != d.generation || ctx.Err() != nil {
				metrics.RescanCounter.WithLabelValues(domain, "cancelled").Inc()
				return
			}
			cancel()
			d.cancelScan = nil
			d.catalog = catalog
			metrics.RescanCounter.WithLabelValues(domain, "completed").Inc()
			d.logger.Info("mock catalog loaded", zap.String("mock_domain", domain), zap.Int("mocks", len(catalog)))
			d.emitCatalog()
		})
	}()
}

func (d *Discover) subscribe() {
	d.unsubscribe()

	if _, err := os.Stat(d.mocksFolder); err != nil {
		d.logger.Info("mocks folder is not available, not watching it",
			zap.String("folder", d.mocksFolder), zap.Error(err))
		return
	}
	w, err := d.watch(d.mocksFolder)
	if err != nil {
		d.logger.Error("error in watching the mocks folder", zap.String("folder", d.mocksFolder), zap.Error(err))
		return
	}

	d.watchGen++
	gen := d.watchGen
	d.w = w
	go func() {
		for ev := range w.Events() {
			d.post(func() {
				if gen != d.watchGen {
					return
				}
				if d.apply(ev) {
					d.emitCatalog()
				}
			})
		}
	}()
}

func (d *Discover) unsubscribe() {
	if d.w == nil {
		return
	}
	if err := d.w.Close(); err != nil {
		d.logger.Warn("error in closing the mocks watcher", zap.Error(err))
	}
	d.w = nil
	d.watchGen++
}

func (d *Discover) apply(ev watcher.Event) bool {
	switch {
	case ev.Dir:
		return d.folderChanged(ev.Path)
	case mock.IsMockFile(filepath.Base(ev.Path)):
		return d.fileChanged(ev.Path)
	case ev.Op == watcher.Removed:
		return d.folderChanged(ev.Path)
	default:
		return false
	}
}

func (d *Discover) inDomain(path string) bool {
	if d.mocksFolder == "" {
		return false
	}
	return strings.HasPrefix(path, d.mocksFolder+string(filepath.Separator))
}

// fileChanged reports whether path belongs to the active domain.
func (d *Discover) fileChanged(path string) bool {
	if !d.inDomain(path) {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		d.dropPath(path)
		return true
	}
	if info.IsDir() {
		return d.folderChanged(path)
	}

	r, err := mock.ReadFile(path, true)
	if err != nil {
		d.logger.Warn("error in loading the changed mock file", zap.String("file", path), zap.Error(err))
		d.dropPath(path)
		return true
	}

	d.dropPath(path)
	d.catalog[r.ID] = newEntry(r, info)
	return true
}

// folderChanged reports whether folder belongs to the active domain.
func (d *Discover) folderChanged(folder string) bool {
	if folder != d.mocksFolder && !d.inDomain(folder) {
		return false
	}

	prefix := folder + string(filepath.Separator)
	known := make(map[string]struct{})
	for id, e := range d.catalog {
		if !strings.HasPrefix(e.Record.FilePath, prefix) {
			continue
		}
		if _, err := os.Stat(e.Record.FilePath); err != nil {
			delete(d.catalog, id)
			continue
		}
		known[e.Record.FilePath] = struct{}{}
	}

	if info, err := os.Stat(folder); err == nil && info.IsDir() {
		for _, e := range scanFolder(d.ctx, folder, nil, d.logger) {
			if _, ok := known[e.Record.FilePath]; ok {
				continue
			}
			if _, ok := d.catalog[e.Record.ID]; ok {
				continue
			}
			d.catalog[e.Record.ID] = e
		}
	}
	return true
}

func (d *Discover) dropPath(path string) {
	for id, e := range d.catalog {
		if e.Record.FilePath == path {
			delete(d.catalog, id)
		}
	}
}

func (d *Discover) emitCatalog() {
	metrics.CatalogSize.WithLabelValues(d.domain).Set(float64(len(d.catalog)))
	d.emit(Event{Kind: Catalog, Domain: d.domain, Entries: entries(d.catalog, "")})
}

func (d *Discover) emit(ev Event) {
	d.listener(ev)
}
