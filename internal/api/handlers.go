package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/commentater"
)

const (
	defaultCommentLimit = 100
	maxCommentLimit     = 1000
)

var errArticleNotFound = errors.New("article not found")

// queueStats handles GET /v1/queue.
func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	stats, err := s.store.QueueStats(ctx)
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// enqueueArticle handles POST /v1/users/{user_id}/articles/{article_id}/enqueue.
// It answers 404 for unknown articles, 409 when a task is already pending
// and 202 once a task is queued.
func (s *Server) enqueueArticle(w http.ResponseWriter, r *http.Request) {
	userID, articleID, ok := parseUserArticle(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	if err := s.ownedArticle(ctx, userID, articleID); err != nil {
		s.writeLookupError(w, err)
		return
	}
	queued, err := s.store.IsQueued(ctx, userID, articleID)
	if err != nil {
		s.logger.Error("check queued failed", zap.Int64("article_id", articleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to check queue")
		return
	}
	if queued {
		writeError(w, http.StatusConflict, "article is already queued")
		return
	}
	if _, err := s.store.Enqueue(ctx, userID, []int64{articleID}); err != nil {
		s.logger.Error("enqueue article failed", zap.Int64("article_id", articleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue article")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"queued": 1})
}

// enqueueWorld handles POST /v1/users/{user_id}/worlds/{world_id}/enqueue by
// queueing every article of the world without a pending task.
func (s *Server) enqueueWorld(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	worldID, err := parseID(r, "world_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	ids, err := s.store.UnqueuedArticleIDs(ctx, userID, worldID)
	if err != nil {
		s.logger.Error("list unqueued articles failed", zap.Int64("world_id", worldID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	n, err := s.store.Enqueue(ctx, userID, ids)
	if err != nil {
		s.logger.Error("enqueue world failed", zap.Int64("world_id", worldID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue articles")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"queued": n})
}

// listComments handles GET /v1/users/{user_id}/articles/{article_id}/comments?limit=&offset=.
func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	userID, articleID, ok := parseUserArticle(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCommentLimit, maxCommentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	if err := s.ownedArticle(ctx, userID, articleID); err != nil {
		s.writeLookupError(w, err)
		return
	}
	comments, total, err := s.store.ListComments(ctx, userID, articleID, limit, offset)
	if err != nil {
		s.logger.Error("list comments failed", zap.Int64("article_id", articleID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list comments")
		return
	}
	if comments == nil {
		comments = []commentater.StoredComment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comments": comments,
		"total":    total,
	})
}

// ownedArticle reports errArticleNotFound unless the article exists and
// belongs to userID.
func (s *Server) ownedArticle(ctx context.Context, userID, articleID int64) error {
	if _, err := s.store.GetArticle(ctx, userID, articleID); err != nil {
		if errors.Is(err, commentater.ErrNotFound) {
			return errArticleNotFound
		}
		return err
	}
	return nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errArticleNotFound) {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	s.logger.Error("get article failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load article")
}

func parseUserArticle(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := parseID(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	articleID, err := parseID(r, "article_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return userID, articleID, true
}

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", param)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", param)
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
