package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skairunner/commentater/internal/commentater"
)

// DeleteComments removes every comment a user holds for an article.
func (q queries) DeleteComments(ctx context.Context, articleID, userID int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM comment WHERE article_id = $1 AND user_id = $2`, articleID, userID); err != nil {
		return fmt.Errorf("delete comments of article %d: %w", articleID, err)
	}
	return nil
}

// InsertComments bulk-inserts comment rows for an article.
func (q queries) InsertComments(ctx context.Context, userID, articleID int64, comments []commentater.CommentInsert) (int64, error) {
	if len(comments) == 0 {
		return 0, nil
	}
	authorIDs := make([]int64, len(comments))
	contents := make([]string, len(comments))
	dates := make([]time.Time, len(comments))
	for i, c := range comments {
		authorIDs[i] = c.AuthorID
		contents[i] = c.Content
		dates[i] = c.Date
	}
	tag, err := q.db.Exec(ctx, `
INSERT INTO comment (user_id, article_id, author_id, content, date)
SELECT $1, $2, * FROM UNNEST($3::bigint[], $4::text[], $5::timestamptz[])`,
		userID, articleID, authorIDs, contents, dates,
	)
	if err != nil {
		return 0, fmt.Errorf("insert %d comments for article %d: %w", len(comments), articleID, err)
	}
	return tag.RowsAffected(), nil
}

// ListComments returns one page of the stored unanswered comments of an
// article, oldest first, together with the total number stored.
func (q queries) ListComments(
	ctx context.Context,
	userID, articleID int64,
	limit, offset int,
) ([]commentater.StoredComment, int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `
SELECT COUNT(*) FROM comment WHERE user_id = $1 AND article_id = $2`, userID, articleID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count comments of article %d: %w", articleID, err)
	}
	if total == 0 || int64(offset) >= total {
		return []commentater.StoredComment{}, total, nil
	}

	rows, err := q.db.Query(ctx, `
SELECT c.id, c.article_id, c.author_id, COALESCE(w.name, ''), w.avatar_url, c.content, c.date, c.starred, c.deleted
FROM comment c
LEFT JOIN wa_user w ON w.id = c.author_id
WHERE c.user_id = $1 AND c.article_id = $2
ORDER BY c.date ASC, c.id ASC
LIMIT $3 OFFSET $4`, userID, articleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list comments of article %d: %w", articleID, err)
	}
	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (commentater.StoredComment, error) {
		var c commentater.StoredComment
		err := row.Scan(&c.ID, &c.ArticleID, &c.AuthorID, &c.AuthorName, &c.AvatarURL, &c.Content, &c.Date, &c.Starred, &c.Deleted)
		return c, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan comments: %w", err)
	}
	return comments, total, nil
}
