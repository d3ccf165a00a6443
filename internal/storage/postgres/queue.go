package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skairunner/commentater/internal/commentater"
)

// Users with pending work whose cooldown has elapsed, oldest first. Rows
// locked by another worker are skipped rather than waited on.
const acquireUserSQL = `
SELECT user_queue.id, user_queue.user_id, user_queue.last_updated
FROM user_queue
JOIN (SELECT DISTINCT user_id FROM article_queue WHERE done = false) AS aq
  ON user_queue.user_id = aq.user_id
WHERE user_queue.last_updated < NOW() - make_interval(secs => $1)
ORDER BY user_queue.last_updated ASC
FOR UPDATE OF user_queue SKIP LOCKED
LIMIT 1`

const acquireTaskSQL = `
SELECT id, user_id, article_id
FROM article_queue
WHERE done = false AND user_id = $1
ORDER BY id ASC
FOR UPDATE SKIP LOCKED
LIMIT 1`

// AcquireNextEligibleUser locks the least recently serviced user with pending
// tasks. It returns nil when no user is eligible.
func (t *Tx) AcquireNextEligibleUser(ctx context.Context, cooldown time.Duration) (*commentater.UserQueueEntry, error) {
	var entry commentater.UserQueueEntry
	err := t.db.QueryRow(ctx, acquireUserSQL, cooldown.Seconds()).Scan(&entry.ID, &entry.UserID, &entry.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire next user: %w", err)
	}
	return &entry, nil
}

// AcquireNextTask locks the oldest pending task of a user. It returns nil
// when the user has none that is not already locked.
func (t *Tx) AcquireNextTask(ctx context.Context, userID int64) (*commentater.Task, error) {
	var task commentater.Task
	err := t.db.QueryRow(ctx, acquireTaskSQL, userID).Scan(&task.ID, &task.UserID, &task.ArticleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire next task for user %d: %w", userID, err)
	}
	return &task, nil
}

// TouchUser restarts the cooldown of a user_queue row.
func (q queries) TouchUser(ctx context.Context, userQueueID int64) error {
	if _, err := q.db.Exec(ctx, `UPDATE user_queue SET last_updated = NOW() WHERE id = $1`, userQueueID); err != nil {
		return fmt.Errorf("touch user queue %d: %w", userQueueID, err)
	}
	return nil
}

// CompleteTask marks a task done, recording errMsg when it is non-nil.
func (q queries) CompleteTask(ctx context.Context, taskID int64, errMsg *string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE article_queue SET done = true, error = $2, error_msg = $3 WHERE id = $1`,
		taskID, errMsg != nil, errMsg,
	)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", taskID, err)
	}
	return nil
}

// Enqueue adds one pending task per article. Duplicates are not filtered.
func (q queries) Enqueue(ctx context.Context, userID int64, articleIDs []int64) (int64, error) {
	if len(articleIDs) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx,
		`INSERT INTO article_queue (user_id, article_id) SELECT $1, * FROM UNNEST($2::bigint[])`,
		userID, articleIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %d articles for user %d: %w", len(articleIDs), userID, err)
	}
	return tag.RowsAffected(), nil
}

// IsQueued reports whether a pending task exists for the pair.
func (q queries) IsQueued(ctx context.Context, userID, articleID int64) (bool, error) {
	var queued bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM article_queue WHERE done = false AND user_id = $1 AND article_id = $2)`,
		userID, articleID,
	).Scan(&queued)
	if err != nil {
		return false, fmt.Errorf("check queued article %d: %w", articleID, err)
	}
	return queued, nil
}

// QueueStats counts tasks by state.
func (q queries) QueueStats(ctx context.Context) (commentater.QueueStats, error) {
	var stats commentater.QueueStats
	err := q.db.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE done),
       COUNT(*) FILTER (WHERE NOT done),
       COUNT(*) FILTER (WHERE error)
FROM article_queue`).Scan(&stats.Total, &stats.Done, &stats.Pending, &stats.Errored)
	if err != nil {
		return commentater.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
