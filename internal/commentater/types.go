// Package commentater defines core types shared across subsystems.
package commentater

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnparseable marks errors caused by page content the parser does not recognise.
// Such failures are recorded on the task and never retried.
var ErrUnparseable = errors.New("unparseable page")

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// StatusError is returned by fetchers for responses outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// User is a Commentater account.
type User struct {
	ID           int64     `json:"id"`
	APIKey       string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	WorldAnvilID string    `json:"worldanvil_id"`
	LastSeen     time.Time `json:"last_seen"`
}

// UserQueueEntry is the fairness row for one account.
type UserQueueEntry struct {
	ID          int64
	UserID      int64
	LastUpdated time.Time
}

// Task is one pending request to re-fetch and resync a single article.
type Task struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	ArticleID int64 `json:"article_id"`
}

// World is a World Anvil world owned by an account.
type World struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	WorldAnvilID string `json:"worldanvil_id"`
	Name         string `json:"name"`
}

// Article is a watched article page.
type Article struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	WorldID      int64      `json:"world_id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	WorldAnvilID string     `json:"worldanvil_id"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
}

// ArticleRegistration describes an article discovered through the vendor API.
type ArticleRegistration struct {
	WorldID      int64
	URL          string
	Title        string
	WorldAnvilID string
}

// Comment is a single scraped comment or reply.
type Comment struct {
	AuthorName string
	AvatarURL  string
	Date       time.Time
	Content    string
}

// RootComment is a top-level comment with its replies.
type RootComment struct {
	Comment
	AuthorWorldAnvilID string
	Replies            []Comment
}

// Unanswered reports whether nobody has replied to the comment yet.
func (c RootComment) Unanswered() bool {
	return len(c.Replies) == 0
}

// ParsedArticle is the structured form of a scraped article page.
type ParsedArticle struct {
	WorldID   string
	ArticleID string
	Title     string
	Comments  []RootComment
}

// AuthorInsert is an upsert request for a World Anvil author.
type AuthorInsert struct {
	WorldAnvilID string
	Name         string
	AvatarURL    string
}

// CommentInsert is a comment row ready to be written for an article.
type CommentInsert struct {
	AuthorID int64
	Content  string
	Date     time.Time
}

// StoredComment is a persisted unanswered comment joined with its author.
type StoredComment struct {
	ID         int64     `json:"id"`
	ArticleID  int64     `json:"article_id"`
	AuthorID   *int64    `json:"author_id,omitempty"`
	AuthorName string    `json:"author_name"`
	AvatarURL  *string   `json:"avatar_url,omitempty"`
	Content    string    `json:"content"`
	Date       time.Time `json:"date"`
	Starred    bool      `json:"starred"`
	Deleted    bool      `json:"deleted"`
}

// QueueStats summarises article_queue for dashboards.
type QueueStats struct {
	Total   int64 `json:"total"`
	Done    int64 `json:"done"`
	Pending int64 `json:"pending"`
	Errored int64 `json:"errored"`
}

// ReconcileSummary reports what one reconciliation wrote.
type ReconcileSummary struct {
	AuthorsUpserted  int
	CommentsInserted int
	Answered         int
	Unresolved       int
}
