package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"kickstart/pkg/logging"
)

const specialFile = os.ModeSocket | os.ModeNamedPipe | os.ModeDevice | os.ModeCharDevice

// DefaultDebounce is used when a Detector is created with no interval.
const DefaultDebounce = 250 * time.Millisecond

// Change is a debounced batch of file changes below the watched root.
type Change struct {
	// Paths are relative to the root, slash separated and sorted.
	Paths []string
	Time  time.Time
}

// Detector watches a directory tree with fsnotify and reports debounced
// batches of changes. Paths matching an ignore pattern are neither watched
// nor reported.
type Detector struct {
	mu sync.Mutex

	root     string
	ignore   []string
	exclude  map[string]struct{}
	debounce time.Duration

	// special holds sockets and pipes seen being created, so that their
	// removal is dropped as well.
	special map[string]struct{}

	watcher *fsnotify.Watcher

	// pending collects the paths changed since the debounce timer was armed.
	pending map[string]struct{}
	timer   *time.Timer

	stopCh  chan struct{}
	running bool
}

// NewDetector creates a detector for root. Ignore patterns are doublestar
// globs matched against slash-separated paths relative to root.
func NewDetector(root string, ignore []string, debounce time.Duration) *Detector {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Detector{
		root:     root,
		ignore:   ignore,
		exclude:  make(map[string]struct{}),
		special:  make(map[string]struct{}),
		debounce: debounce,
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Exclude ignores the given files exactly, whatever their name. Paths may be
// absolute or relative to the root; those outside the root are skipped.
// Call it before Start.
func (d *Detector) Exclude(paths ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(d.root, p)
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		d.exclude[filepath.ToSlash(rel)] = struct{}{}
	}
}

// Start registers watches on root and every directory below it that is not
// ignored, then delivers changes until ctx is done or Stop is called.
func (d *Detector) Start(ctx context.Context, changes chan<- Change) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	for _, pattern := range d.ignore {
		if !doublestar.ValidatePattern(pattern) {
			d.mu.Unlock()
			return errors.New("invalid ignore pattern: " + pattern)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	if err := d.addTree(d.root); err != nil {
		_ = d.Stop()
		return err
	}

	go d.processEvents(ctx, changes)

	logging.Info("Watch", "Watching %s for changes", d.root)
	return nil
}

// addTree adds a watch for dir and each directory below it.
func (d *Detector) addTree(dir string) error {
	var mu sync.Mutex
	var added int
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if p != d.root && d.Ignored(p, true) {
			return filepath.SkipDir
		}
		d.mu.Lock()
		w := d.watcher
		d.mu.Unlock()
		if w == nil {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			logging.Warn("Watch", "Failed to watch %s: %v", p, err)
			return nil
		}
		mu.Lock()
		added++
		mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	logging.Debug("Watch", "Watching %d directories below %s", added, dir)
	return nil
}

// Ignored reports whether the absolute path p matches an ignore pattern.
func (d *Detector) Ignored(p string, isDir bool) bool {
	rel, err := filepath.Rel(d.root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	d.mu.Lock()
	_, excluded := d.exclude[rel]
	d.mu.Unlock()
	if excluded {
		return true
	}
	for _, pattern := range d.ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// "dir/**" patterns also exclude the directory itself.
		if isDir {
			if ok, _ := doublestar.Match(pattern, path.Join(rel, "_")); ok {
				return true
			}
		}
	}
	return false
}

func (d *Detector) processEvents(ctx context.Context, changes chan<- Change) {
	d.mu.Lock()
	watcher := d.watcher
	stopCh := d.stopCh
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			d.cleanupPending()
			return

		case <-stopCh:
			d.cleanupPending()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watch", err, "Filesystem watcher error")
		}
	}
}

func (d *Detector) handleFsEvent(event fsnotify.Event, changes chan<- Change) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if d.isSpecial(event) {
		return
	}

	isDir := false
	if event.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			isDir = true
		}
	}
	if d.Ignored(event.Name, isDir) {
		return
	}
	if isDir {
		if err := d.addTree(event.Name); err != nil {
			logging.Warn("Watch", "Failed to watch new directory %s: %v", event.Name, err)
		}
	}

	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil {
		return
	}
	d.debounceEvent(filepath.ToSlash(rel), changes)
}

// isSpecial reports whether event concerns a socket, pipe or device. They
// appear whenever a server binds and are never source.
func (d *Detector) isSpecial(event fsnotify.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
		if fi, err := os.Lstat(event.Name); err == nil && fi.Mode()&specialFile != 0 {
			d.special[event.Name] = struct{}{}
			return true
		}
	}
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		if _, ok := d.special[event.Name]; ok {
			delete(d.special, event.Name)
			return true
		}
	}
	return false
}

// debounceEvent adds p to the pending batch and restarts the timer, so a
// burst of changes is delivered once, debounce after the last one.
func (d *Detector) debounceEvent(p string, changes chan<- Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[p] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		paths := make([]string, 0, len(d.pending))
		for p := range d.pending {
			paths = append(paths, p)
		}
		d.pending = make(map[string]struct{})
		d.timer = nil
		d.mu.Unlock()

		if len(paths) == 0 {
			return
		}
		sort.Strings(paths)
		select {
		case changes <- Change{Paths: paths, Time: time.Now()}:
			logging.Debug("Watch", "Detected changes: %v", paths)
		default:
			logging.Warn("Watch", "Change channel full, dropping changes to %v", paths)
		}
	})
}

func (d *Detector) cleanupPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}

// Stop closes the watcher. It is safe to call more than once.
func (d *Detector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	close(d.stopCh)

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("Watch", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}
	return nil
}
