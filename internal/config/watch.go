package config

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and calls onChange with the freshly loaded
// configuration each time it is rewritten. It blocks until ctx is cancelled.
//
// A reload that fails to parse is logged and skipped; the previous
// configuration stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Printf("config: watching %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Editors often replace the file instead of writing in
			// place, so Create counts as a change too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Printf("config: reload failed, keeping previous: %v", err)
				continue
			}

			log.Printf("config: reloaded %s", path)
			onChange(cfg)

			// An atomic save replaces the inode; re-add the path so
			// the next change is still seen.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}
