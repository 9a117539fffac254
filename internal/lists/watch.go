// SPDX-License-Identifier: MIT
package lists

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces editor write bursts into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the list whenever its local file changes on disk. The
// parent directory is watched rather than the file itself so that
// atomic rename-over-write editors keep triggering events. Blocks until
// ctx is cancelled.
func (s *Service) Watch(ctx context.Context, store SourceStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	path := s.LocalPath()
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.log.Info().Str("kind", string(s.kind)).Str("path", path).Msg("watching list file")

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-watcher.Events:
			if !open {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			summary, err := s.Reload(ctx, store)
			if err != nil {
				s.log.Warn().Err(err).Str("kind", string(s.kind)).Msg("list reload after file change failed")
				continue
			}
			s.log.Info().
				Str("kind", string(s.kind)).
				Int("entries", summary.EntriesCount).
				Msg("list reloaded after file change")
		case watchErr, open := <-watcher.Errors:
			if !open {
				return nil
			}
			s.log.Warn().Err(watchErr).Str("kind", string(s.kind)).Msg("list watcher error")
		}
	}
}
