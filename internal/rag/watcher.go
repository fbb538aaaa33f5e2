package rag

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher keeps a knowledge base in sync with a directory of text files.
// Each file is a document whose id is derived from its name, so editing a
// file re-ingests the same document.
type Watcher struct {
	engine     *Engine
	kbID       string
	dir        string
	extensions []string
	watcher    *fsnotify.Watcher
}

// NewWatcher creates a watcher for dir. Only files with one of the given
// extensions are ingested (default .md and .txt).
func NewWatcher(engine *Engine, kbID, dir string, extensions []string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".md", ".txt"}
	}
	return &Watcher{engine: engine, kbID: kbID, dir: dir, extensions: extensions, watcher: w}, nil
}

// Sync ingests every matching file currently in the directory.
func (w *Watcher) Sync(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !w.watched(e.Name()) {
			continue
		}
		w.ingestFile(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// Run syncs the directory once and then ingests files as they are created
// or written, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	if err := w.Sync(ctx); err != nil {
		return err
	}
	log.Info().Str("dir", w.dir).Str("kb", w.kbID).Msg("👀 Watching knowledge directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.watched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.ingestFile(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("Knowledge watcher error")
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to read knowledge file")
		return
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return
	}
	name := filepath.Base(path)
	_, err = w.engine.Ingest(ctx, DocumentInput{
		ID:              DocumentIDForFile(w.kbID, name),
		KnowledgeBaseID: w.kbID,
		Title:           strings.TrimSuffix(name, filepath.Ext(name)),
		Content:         string(content),
		SourceRef:       path,
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to ingest knowledge file")
	}
}

func (w *Watcher) watched(path string) bool {
	return slices.Contains(w.extensions, filepath.Ext(path))
}

// DocumentIDForFile is the stable document id for a file in a watched
// knowledge base.
func DocumentIDForFile(kbID, name string) string {
	return kbID + "/" + name
}
