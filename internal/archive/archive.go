// Package archive keeps copies of article pages the parser rejected.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/config"
	"github.com/skairunner/commentater/internal/storage/gcs"
	"github.com/skairunner/commentater/internal/storage/local"
)

const contentType = "text/html; charset=utf-8"

// Archiver writes rejected pages to a blob store under
// <prefix>/<user_id>/<article_id>/<task_id>.html.
type Archiver struct {
	store  commentater.BlobStore
	prefix string
}

// New wraps store.
func New(store commentater.BlobStore, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// Path returns the object path for a task's page.
func (a *Archiver) Path(task commentater.Task) string {
	name := strconv.FormatInt(task.ID, 10) + ".html"
	return path.Join(a.prefix, strconv.FormatInt(task.UserID, 10), strconv.FormatInt(task.ArticleID, 10), name)
}

// Archive stores page and returns its URI.
func (a *Archiver) Archive(ctx context.Context, task commentater.Task, page []byte) (string, error) {
	uri, err := a.store.PutObject(ctx, a.Path(task), contentType, bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("archive page of task %d: %w", task.ID, err)
	}
	return uri, nil
}

// Open builds the Archiver for the configured provider. It returns a nil
// Archiver when archiving is disabled. The closer is never nil.
func Open(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, io.Closer, error) {
	switch cfg.Provider {
	case "", config.ArchiveNone:
		return nil, nopCloser{}, nil
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("open local archive: %w", err)
		}
		return New(store, cfg.Prefix), nopCloser{}, nil
	case config.ArchiveGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("open gcs archive: %w", err)
		}
		return New(store, cfg.Prefix), store, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("archive provider %q is not supported", cfg.Provider)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
