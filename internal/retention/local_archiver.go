package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired sessions as JSONL files, one session per
// line, to a local directory:
//
//	{basePath}/sessions/2026-02-20T15-04-05.000000000Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveSessions(_ context.Context, sessions []models.Session) (path string, err error) {
	dir := filepath.Join(a.basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
		if err != nil {
			os.Remove(fpath)
		}
	}()

	var w io.Writer = f
	var gw *gzip.Writer
	if a.compress {
		gw = gzip.NewWriter(f)
		w = gw
	}

	enc := json.NewEncoder(w)
	for _, s := range sessions {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("encode session %s: %w", s.ID, err)
		}
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return "", fmt.Errorf("flush archive: %w", err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(sessions)).
		Msg("Archived sessions to local file")

	return fpath, nil
}

func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
