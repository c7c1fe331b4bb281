package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
)

// watchConfig reloads the configuration whenever the file at path is
// written or replaced and hands the result to apply. A file that fails to
// parse is logged and the previous configuration stays in effect. It
// returns when ctx is done.
func watchConfig(ctx context.Context, path string, log logrus.FieldLogger, apply func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory; editors and config management replace the file
	// rather than writing it in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Infof("Watching %s for configuration changes", path)

	target := filepath.Clean(path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := config.Reload()
			if err != nil {
				log.WithError(err).Error("Configuration reload failed, keeping the previous one")
				continue
			}
			if err := cfg.Validate(); err != nil {
				log.WithError(err).Warn("Reloaded configuration disables provisioning")
			} else {
				log.Info("Configuration reloaded")
			}
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("Watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}
