// Package articlesync discovers a user's articles through the World Anvil
// API and registers them for comment tracking.
package articlesync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/worldanvil"
)

// Vendor is the subset of the World Anvil client used for discovery.
type Vendor interface {
	Identity(ctx context.Context, token string) (worldanvil.Identity, error)
	WorldsForUser(ctx context.Context, token, userID string) ([]worldanvil.World, error)
	ListArticles(ctx context.Context, token, worldID string) ([]worldanvil.Article, error)
}

// Store persists discovered users, worlds and articles.
type Store interface {
	EnsureUser(ctx context.Context, apiKey, displayName, worldAnvilID string) (int64, error)
	UpsertWorlds(ctx context.Context, userID int64, worlds []commentater.World) (map[string]int64, error)
	RegisterArticles(ctx context.Context, userID int64, articles []commentater.ArticleRegistration) (int64, error)
	UnqueuedArticleIDs(ctx context.Context, userID, worldID int64) ([]int64, error)
	Enqueue(ctx context.Context, userID int64, articleIDs []int64) (int64, error)
}

// Summary reports what one sync did.
type Summary struct {
	UserID             int64
	Username           string
	Worlds             int
	ArticlesSeen       int
	ArticlesRegistered int64
	Skipped            int
	Enqueued           int64
}

// Syncer runs the discovery workflow.
type Syncer struct {
	vendor Vendor
	store  Store
	logger *zap.Logger
}

// New constructs a Syncer.
func New(vendor Vendor, store Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{vendor: vendor, store: store, logger: logger.Named("articlesync")}
}

// SyncUser resolves the account behind apiKey, records its worlds and
// published articles, and when enqueue is set queues every article that
// has no pending task.
func (s *Syncer) SyncUser(ctx context.Context, apiKey string, enqueue bool) (Summary, error) {
	var sum Summary

	identity, err := s.vendor.Identity(ctx, apiKey)
	if err != nil {
		return sum, err
	}
	if identity.ID == "" {
		return sum, fmt.Errorf("identity response has no user id")
	}
	sum.Username = identity.Username

	userID, err := s.store.EnsureUser(ctx, apiKey, identity.Username, identity.ID)
	if err != nil {
		return sum, fmt.Errorf("ensure user %s: %w", identity.Username, err)
	}
	sum.UserID = userID
	logger := s.logger.With(zap.Int64("user_id", userID), zap.String("username", identity.Username))

	vendorWorlds, err := s.vendor.WorldsForUser(ctx, apiKey, identity.ID)
	if err != nil {
		return sum, err
	}
	worlds := make([]commentater.World, 0, len(vendorWorlds))
	for _, w := range vendorWorlds {
		worlds = append(worlds, commentater.World{UserID: userID, WorldAnvilID: w.ID, Name: w.Title})
	}
	worldIDs, err := s.store.UpsertWorlds(ctx, userID, worlds)
	if err != nil {
		return sum, err
	}
	sum.Worlds = len(worlds)

	for _, w := range vendorWorlds {
		articles, err := s.vendor.ListArticles(ctx, apiKey, w.ID)
		if err != nil {
			return sum, err
		}
		sum.ArticlesSeen += len(articles)

		regs := make([]commentater.ArticleRegistration, 0, len(articles))
		for _, a := range articles {
			if a.URL == "" {
				sum.Skipped++
				logger.Debug("article has no url", zap.String("article", a.ID))
				continue
			}
			regs = append(regs, commentater.ArticleRegistration{
				WorldID:      worldIDs[w.ID],
				URL:          a.URL,
				Title:        a.Title,
				WorldAnvilID: a.ID,
			})
		}
		n, err := s.store.RegisterArticles(ctx, userID, regs)
		if err != nil {
			return sum, err
		}
		sum.ArticlesRegistered += n
		logger.Info("world synced",
			zap.String("world", w.Title),
			zap.Int("articles", len(articles)),
			zap.Int64("registered", n),
		)
	}

	if enqueue {
		ids, err := s.store.UnqueuedArticleIDs(ctx, userID, 0)
		if err != nil {
			return sum, err
		}
		if sum.Enqueued, err = s.store.Enqueue(ctx, userID, ids); err != nil {
			return sum, err
		}
	}

	logger.Info("user synced",
		zap.Int("worlds", sum.Worlds),
		zap.Int("articles_seen", sum.ArticlesSeen),
		zap.Int64("registered", sum.ArticlesRegistered),
		zap.Int64("enqueued", sum.Enqueued),
	)
	return sum, nil
}
