package postgres

import (
	"context"
	"fmt"

	"github.com/skairunner/commentater/internal/commentater"
)

// UpsertAuthors inserts unknown authors and refreshes the name and avatar of
// known ones. It maps each World Anvil id to the internal wa_user id. The
// batch must not contain the same World Anvil id twice.
func (q queries) UpsertAuthors(ctx context.Context, authors []commentater.AuthorInsert) (map[string]int64, error) {
	ids := make(map[string]int64, len(authors))
	if len(authors) == 0 {
		return ids, nil
	}
	externalIDs := make([]string, len(authors))
	names := make([]string, len(authors))
	avatars := make([]*string, len(authors))
	for i, a := range authors {
		externalIDs[i] = a.WorldAnvilID
		names[i] = a.Name
		if a.AvatarURL != "" {
			avatar := a.AvatarURL
			avatars[i] = &avatar
		}
	}
	rows, err := q.db.Query(ctx, `
INSERT INTO wa_user (worldanvil_id, name, avatar_url)
SELECT * FROM UNNEST($1::text[], $2::text[], $3::text[])
ON CONFLICT (worldanvil_id) DO UPDATE
SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url
RETURNING id, worldanvil_id`, externalIDs, names, avatars)
	if err != nil {
		return nil, fmt.Errorf("upsert %d authors: %w", len(authors), err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			externalID string
		)
		if err := rows.Scan(&id, &externalID); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		ids[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upsert %d authors: %w", len(authors), err)
	}
	return ids, nil
}
