package backend

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// scriptWatcher watches the worker script on disk and reports when it
// is rewritten, replaced, or removed. Editors commonly save via a
// rename, so the parent directory is watched rather than the file
// itself.
type scriptWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func watchScript(script string, onChange func(path string), log Logger) (*scriptWatcher, error) {
	abs, err := filepath.Abs(script)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	sw := &scriptWatcher{watcher: w, done: make(chan struct{})}
	go sw.run(abs, onChange, log)
	return sw, nil
}

func (sw *scriptWatcher) run(script string, onChange func(path string), log Logger) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 {
				continue
			}
			if filepath.Clean(ev.Name) != script {
				continue
			}
			log.Debugf("worker script changed on disk: %s (%s)", script, ev.Op)
			onChange(script)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("script watcher: %v", err)
		}
	}
}

func (sw *scriptWatcher) Close() {
	close(sw.done)
	sw.watcher.Close()
}
