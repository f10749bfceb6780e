package profile

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce when saving.
const reloadDelay = 250 * time.Millisecond

// ApplyFunc receives freshly loaded profiles, one per fan, and reports
// whether every fan took its profile.
type ApplyFunc func(ctx context.Context, profiles []fancontrol.Profile) error

// Watch reloads the profiles whenever a file in the profile directories
// changes, and hands them to apply. A reload that fails keeps the running
// profiles. Watch returns when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, fanCount int, apply ApplyFunc) error {
	errFactory := errors.New()

	if err := s.Init(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	defer watcher.Close()

	for _, dir := range []string{profilesDir, fanDir} {
		if err := watcher.Add(filepath.Join(s.dir, dir)); err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}
	}

	s.logger.Debug().Str("dir", s.dir).Msg("Watching fan profiles")

	reload := time.NewTimer(reloadDelay)
	if !reload.Stop() {
		<-reload.C
	}
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			s.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Profile file changed")
			reload.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Profile watcher error")

		case <-reload.C:
			if err := s.Reload(ctx, fanCount, apply); err != nil {
				s.logger.Error().Err(err).Msg("Failed to reload fan profiles, keeping current profiles")
			}
		}
	}
}

// Reload loads the profiles and hands them to apply.
func (s *Store) Reload(ctx context.Context, fanCount int, apply ApplyFunc) error {
	errFactory := errors.New()

	profiles, err := s.Load(fanCount)
	if err != nil {
		return errFactory.Wrap(errors.ErrConfigSwap, err)
	}

	if err := apply(ctx, profiles); err != nil {
		if errors.HasCode(err, errors.ErrConfigSwap) {
			return err
		}
		return errFactory.Wrap(errors.ErrConfigSwap, err)
	}

	s.logger.Info().Int("fans", len(profiles)).Msg("Fan profiles reloaded")

	return nil
}

func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, profileExtension) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}
