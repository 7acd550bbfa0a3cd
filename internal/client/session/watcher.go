package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 100 * time.Millisecond

// Watcher revalidates a State whenever another process touches the session
// database file.
type Watcher struct {
	state *State
	path  string
	log   zerolog.Logger
}

func NewWatcher(state *State, dbPath string, log zerolog.Logger) *Watcher {
	return &Watcher{state: state, path: dbPath, log: log}
}

// matches reports whether name is the database file or one of SQLite's
// side files (-wal, -shm, -journal).
func (w *Watcher) matches(name string) bool {
	return strings.HasPrefix(filepath.Base(name), filepath.Base(w.path))
}

// Run blocks until ctx is done. The directory is watched rather than the
// file because SQLite recreates its side files.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create session watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.matches(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(watchDebounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("session watcher error")

		case <-timer.C:
			if err := w.state.Revalidate(ctx); err != nil {
				w.log.Error().Err(err).Msg("failed to revalidate session")
			}
		}
	}
}
