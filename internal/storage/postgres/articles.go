package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skairunner/commentater/internal/commentater"
)

// GetArticle loads one of the user's articles. Articles of other users are
// reported as commentater.ErrNotFound.
func (q queries) GetArticle(ctx context.Context, userID, articleID int64) (commentater.Article, error) {
	var a commentater.Article
	err := q.db.QueryRow(ctx, `
SELECT id, user_id, world_id, url, title, worldanvil_id, last_checked
FROM article
WHERE id = $1 AND user_id = $2`, articleID, userID).Scan(
		&a.ID,
		&a.UserID,
		&a.WorldID,
		&a.URL,
		&a.Title,
		&a.WorldAnvilID,
		&a.LastChecked,
	)
	if err != nil {
		return commentater.Article{}, notFound(err, fmt.Sprintf("get article %d", articleID))
	}
	return a, nil
}

// SetArticleChecked records when an article was last synced.
func (q queries) SetArticleChecked(ctx context.Context, articleID int64, at time.Time) error {
	if _, err := q.db.Exec(ctx, `UPDATE article SET last_checked = $2 WHERE id = $1`, articleID, at); err != nil {
		return fmt.Errorf("set article %d checked: %w", articleID, err)
	}
	return nil
}

// UpsertArticleContent stores the scraped identifier and title of an article.
func (q queries) UpsertArticleContent(ctx context.Context, articleID int64, worldAnvilID, title string) error {
	_, err := q.db.Exec(ctx, `
INSERT INTO article_content (article_id, worldanvil_id, title)
VALUES ($1, $2, $3)
ON CONFLICT (article_id) DO UPDATE
SET worldanvil_id = EXCLUDED.worldanvil_id, title = EXCLUDED.title`,
		articleID, worldAnvilID, title,
	)
	if err != nil {
		return fmt.Errorf("upsert article %d content: %w", articleID, err)
	}
	return nil
}

// RegisterArticles inserts articles not yet known for the user. Existing
// rows are left untouched.
func (q queries) RegisterArticles(ctx context.Context, userID int64, articles []commentater.ArticleRegistration) (int64, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	worldIDs := make([]int64, len(articles))
	urls := make([]string, len(articles))
	titles := make([]string, len(articles))
	externalIDs := make([]string, len(articles))
	for i, a := range articles {
		worldIDs[i] = a.WorldID
		urls[i] = a.URL
		titles[i] = a.Title
		externalIDs[i] = a.WorldAnvilID
	}
	tag, err := q.db.Exec(ctx, `
INSERT INTO article (user_id, world_id, url, title, worldanvil_id)
SELECT $1, * FROM UNNEST($2::bigint[], $3::text[], $4::text[], $5::text[])
ON CONFLICT (user_id, url) DO NOTHING`,
		userID, worldIDs, urls, titles, externalIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("register %d articles for user %d: %w", len(articles), userID, err)
	}
	return tag.RowsAffected(), nil
}

// UnqueuedArticleIDs lists a user's articles with no pending task. A zero
// worldID matches every world.
func (q queries) UnqueuedArticleIDs(ctx context.Context, userID, worldID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `
SELECT a.id
FROM article a
WHERE a.user_id = $1
  AND ($2::bigint = 0 OR a.world_id = $2)
  AND NOT EXISTS (
    SELECT 1 FROM article_queue q
    WHERE q.article_id = a.id AND q.user_id = a.user_id AND q.done = false
  )
ORDER BY a.id`, userID, worldID)
	if err != nil {
		return nil, fmt.Errorf("list unqueued articles: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan article id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unqueued articles: %w", err)
	}
	return ids, nil
}
