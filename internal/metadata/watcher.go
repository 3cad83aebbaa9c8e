package metadata

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the schema file whenever it changes. Invalid schema files
// are logged and the live registry keeps its previous content. Returns a
// stop function.
func Watch(path string, reg *Registry) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("schema watcher: %w", err)
	}

	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				// Validate in a scratch registry so a broken file never
				// disturbs the live one.
				schema, err := LoadSchema(path)
				if err != nil {
					log.Printf("WARN: schema reload rejected: %v", err)
					continue
				}
				scratch := NewRegistry()
				if err := scratch.Load(schema.Entities, schema.Relations); err != nil {
					log.Printf("WARN: schema reload rejected: %v", err)
					continue
				}
				if err := reg.Load(schema.Entities, schema.Relations); err != nil {
					log.Printf("WARN: schema reload failed: %v", err)
					continue
				}
				log.Printf("Schema reloaded: %d entities, %d relations", len(schema.Entities), len(schema.Relations))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARN: schema watcher: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
