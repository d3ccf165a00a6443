// Package reconcile merges a parsed article page into storage.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/commentater"
)

// Reconciler replaces the stored unanswered comments of an article with the
// ones found on its freshly scraped page.
type Reconciler struct {
	logger *zap.Logger
}

// New constructs a Reconciler.
func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger.Named("reconcile")}
}

var _ commentater.Reconciler = (*Reconciler)(nil)

// Apply writes authors, comments and article content for one task. It runs
// entirely inside tx and takes no locks of its own.
func (r *Reconciler) Apply(
	ctx context.Context,
	tx commentater.ReconcileTx,
	task commentater.Task,
	parsed *commentater.ParsedArticle,
) (commentater.ReconcileSummary, error) {
	var summary commentater.ReconcileSummary
	if parsed == nil {
		return summary, fmt.Errorf("reconcile task %d: nil parsed article", task.ID)
	}

	authors := DistinctAuthors(parsed.Comments)
	ids, err := tx.UpsertAuthors(ctx, authors)
	if err != nil {
		return summary, fmt.Errorf("reconcile task %d: %w", task.ID, err)
	}
	summary.AuthorsUpserted = len(authors)

	if err := tx.DeleteComments(ctx, task.ArticleID, task.UserID); err != nil {
		return summary, fmt.Errorf("reconcile task %d: %w", task.ID, err)
	}

	inserts := make([]commentater.CommentInsert, 0, len(parsed.Comments))
	for i, c := range parsed.Comments {
		if !c.Unanswered() {
			summary.Answered++
			continue
		}
		authorID, ok := ids[c.AuthorWorldAnvilID]
		if !ok {
			summary.Unresolved++
			r.logger.Info("dropping comment with unresolved author",
				zap.Int64("task_id", task.ID),
				zap.Int64("article_id", task.ArticleID),
				zap.Int("comment", i),
				zap.String("author_worldanvil_id", c.AuthorWorldAnvilID),
			)
			continue
		}
		inserts = append(inserts, commentater.CommentInsert{
			AuthorID: authorID,
			Content:  c.Content,
			Date:     c.Date,
		})
	}

	inserted, err := tx.InsertComments(ctx, task.UserID, task.ArticleID, inserts)
	if err != nil {
		return summary, fmt.Errorf("reconcile task %d: %w", task.ID, err)
	}
	summary.CommentsInserted = int(inserted)

	if err := tx.UpsertArticleContent(ctx, task.ArticleID, parsed.ArticleID, parsed.Title); err != nil {
		return summary, fmt.Errorf("reconcile task %d: %w", task.ID, err)
	}

	r.logger.Debug("article reconciled",
		zap.Int64("task_id", task.ID),
		zap.Int64("article_id", task.ArticleID),
		zap.Int("authors", summary.AuthorsUpserted),
		zap.Int("inserted", summary.CommentsInserted),
		zap.Int("answered", summary.Answered),
	)
	return summary, nil
}

// DistinctAuthors returns one AuthorInsert per author id in first-seen
// order. Later comments by the same author overwrite its name and avatar.
func DistinctAuthors(comments []commentater.RootComment) []commentater.AuthorInsert {
	index := make(map[string]int, len(comments))
	authors := make([]commentater.AuthorInsert, 0, len(comments))
	for _, c := range comments {
		author := commentater.AuthorInsert{
			WorldAnvilID: c.AuthorWorldAnvilID,
			Name:         c.AuthorName,
			AvatarURL:    c.AvatarURL,
		}
		if i, ok := index[c.AuthorWorldAnvilID]; ok {
			authors[i] = author
			continue
		}
		index[c.AuthorWorldAnvilID] = len(authors)
		authors = append(authors, author)
	}
	return authors
}
