package netstatus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource feeds a Detector from a marker file: the host is online while
// the file exists. The parent directory is watched so the file itself may
// come and go.
type FileSource struct {
	path     string
	detector *Detector
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// MarkerExists reports whether the marker file is present. Use it to seed
// the detector before starting the source.
func MarkerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewFileSource creates a FileSource for the marker at path.
// The source must be started with Start() before it reports anything.
func NewFileSource(path string, detector *Detector) (*FileSource, error) {
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve marker path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileSource{
		path:     abs,
		detector: detector,
		watcher:  watcher,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The current marker state is reported immediately
// so a change between seeding and Start is not missed.
func (fs *FileSource) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.running {
		return fmt.Errorf("file source already running")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory %s: %w", dir, err)
	}
	if err := fs.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch marker directory %s: %w", dir, err)
	}

	fs.detector.Notify(MarkerExists(fs.path))

	fs.running = true
	fs.wg.Add(1)
	go fs.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
// Calling Stop on a source that was never started releases the watcher.
func (fs *FileSource) Stop() error {
	fs.mu.Lock()
	wasRunning := fs.running
	fs.running = false
	fs.mu.Unlock()

	if wasRunning {
		close(fs.done)
	}

	if err := fs.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fs.wg.Wait()
	return nil
}

// IsRunning returns true if the source is currently watching.
func (fs *FileSource) IsRunning() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.running
}

func (fs *FileSource) processEvents() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if online, ok := fs.convertEvent(event); ok {
				fs.detector.Notify(online)
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.detector.logger.Printf("marker watcher error: %v", err)
		}
	}
}

// convertEvent maps an fsnotify event on the marker to a connectivity
// report. Events for other files in the directory are ignored.
func (fs *FileSource) convertEvent(event fsnotify.Event) (online bool, ok bool) {
	if filepath.Clean(event.Name) != fs.path {
		return false, false
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return true, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return false, true
	default:
		return false, false
	}
}
