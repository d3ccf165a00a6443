package postgres

import (
	"context"
	"fmt"

	"github.com/skairunner/commentater/internal/commentater"
)

// EnsureUser creates or refreshes the account identified by apiKey together
// with its user_queue row, returning the account id.
func (s *Store) EnsureUser(ctx context.Context, apiKey, displayName, worldAnvilID string) (int64, error) {
	var userID int64
	err := s.inTx(ctx, func(q queries) error {
		err := q.db.QueryRow(ctx, `
INSERT INTO commentater_user (api_key, display_name, worldanvil_id, last_seen)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (api_key) DO UPDATE
SET display_name = EXCLUDED.display_name, worldanvil_id = EXCLUDED.worldanvil_id, last_seen = NOW()
RETURNING id`, apiKey, displayName, worldAnvilID).Scan(&userID)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if _, err := q.db.Exec(ctx,
			`INSERT INTO user_queue (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		); err != nil {
			return fmt.Errorf("create user queue row: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// UpsertWorlds records the worlds of a user and maps World Anvil ids to
// internal world ids.
func (q queries) UpsertWorlds(ctx context.Context, userID int64, worlds []commentater.World) (map[string]int64, error) {
	ids := make(map[string]int64, len(worlds))
	if len(worlds) == 0 {
		return ids, nil
	}
	externalIDs := make([]string, len(worlds))
	names := make([]string, len(worlds))
	for i, w := range worlds {
		externalIDs[i] = w.WorldAnvilID
		names[i] = w.Name
	}
	rows, err := q.db.Query(ctx, `
INSERT INTO world (user_id, worldanvil_id, name)
SELECT $1, * FROM UNNEST($2::text[], $3::text[])
ON CONFLICT (user_id, worldanvil_id) DO UPDATE SET name = EXCLUDED.name
RETURNING id, worldanvil_id`, userID, externalIDs, names)
	if err != nil {
		return nil, fmt.Errorf("upsert %d worlds for user %d: %w", len(worlds), userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			externalID string
		)
		if err := rows.Scan(&id, &externalID); err != nil {
			return nil, fmt.Errorf("scan world id: %w", err)
		}
		ids[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upsert worlds: %w", err)
	}
	return ids, nil
}
