package commentater

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the raw HTML document for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ParseFunc turns an article page into structured data.
type ParseFunc func(html []byte) (*ParsedArticle, error)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// QueueTx holds the row-locking queue operations. Locks last until the
// owning transaction ends.
type QueueTx interface {
	AcquireNextEligibleUser(ctx context.Context, cooldown time.Duration) (*UserQueueEntry, error)
	AcquireNextTask(ctx context.Context, userID int64) (*Task, error)
	TouchUser(ctx context.Context, userQueueID int64) error
	CompleteTask(ctx context.Context, taskID int64, errMsg *string) error
}

// ReconcileTx is the write surface used when merging a scraped page.
type ReconcileTx interface {
	UpsertArticleContent(ctx context.Context, articleID int64, worldAnvilID, title string) error
	UpsertAuthors(ctx context.Context, authors []AuthorInsert) (map[string]int64, error)
	DeleteComments(ctx context.Context, articleID, userID int64) error
	InsertComments(ctx context.Context, userID, articleID int64, comments []CommentInsert) (int64, error)
}

// Tx is a transaction over the store. Begin on a Tx opens a nested
// transaction backed by a savepoint.
type Tx interface {
	QueueTx
	ReconcileTx
	GetArticle(ctx context.Context, userID, articleID int64) (Article, error)
	SetArticleChecked(ctx context.Context, articleID int64, at time.Time) error
	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Reconciler merges a parsed page into storage inside the caller's transaction.
type Reconciler interface {
	Apply(ctx context.Context, tx ReconcileTx, task Task, parsed *ParsedArticle) (ReconcileSummary, error)
}
