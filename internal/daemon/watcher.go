package daemon

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches the records directory and reports changed record
// file paths. Only create and write events on .json files are forwarded.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	paths   chan string
	logger  *log.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewFileWatcher creates a watcher over the given directory.
func NewFileWatcher(dir string, logger *log.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &FileWatcher{
		watcher: w,
		paths:   make(chan string, 64),
		logger:  logger,
	}, nil
}

// Paths returns the channel of changed record file paths.
func (fw *FileWatcher) Paths() <-chan string {
	return fw.paths
}

// Start begins forwarding filesystem events.
func (fw *FileWatcher) Start(ctx context.Context) {
	ctx, fw.cancel = context.WithCancel(ctx)

	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				select {
				case fw.paths <- event.Name:
				default:
					// Channel full; the periodic flush will still see
					// the file once a later event lands.
				}

			case err, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
				fw.logger.Printf("Watcher error: %v", err)
			}
		}
	}()
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (fw *FileWatcher) Stop() error {
	if fw.cancel != nil {
		fw.cancel()
	}
	err := fw.watcher.Close()
	fw.wg.Wait()
	close(fw.paths)
	return err
}
