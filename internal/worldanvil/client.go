// Package worldanvil is a client for the parts of the World Anvil Boromir
// API used to discover a user's articles.
package worldanvil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://www.worldanvil.com/api/external/boromir"

// ErrUnauthorized is matched by errors for rejected credentials.
var ErrUnauthorized = errors.New("world anvil rejected the credentials")

var errDecode = errors.New("decode world anvil response")

// APIError is a non-200 response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("world anvil api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("world anvil api: status %d: %s", e.StatusCode, e.Message)
}

// Is lets 401 and 403 responses match ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// Config controls the client.
type Config struct {
	BaseURL        string
	ApplicationKey string
	UserAgent      string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Identity is the account behind an API key.
type Identity struct {
	ID       string `json:"id"`
	Success  bool   `json:"success"`
	Username string `json:"username"`
	UserHash string `json:"userhash"`
}

// World is one world owned by a user.
type World struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	State       string `json:"state"`
	IsWip       *bool  `json:"isWip"`
	IsDraft     *bool  `json:"isDraft"`
	EntityClass string `json:"entityClass"`
}

// Article is one article of a world.
type Article struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	State       string `json:"state"`
	IsWip       bool   `json:"isWip"`
	IsDraft     bool   `json:"isDraft"`
	EntityClass string `json:"entityClass"`
	URL         string `json:"url"`
	FolderID    string `json:"folderId"`
}

// limitOffset is the paging body; the API expects numbers as strings.
type limitOffset struct {
	Limit  int `json:"limit,string"`
	Offset int `json:"offset,string"`
}

type listResponse[T any] struct {
	Success  bool `json:"success"`
	Entities []T  `json:"entities"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Client talks to the World Anvil API. It is safe for concurrent use; the
// per-user auth token is passed on each call.
type Client struct {
	cfg    Config
	http   *http.Client
	retry  retryPolicy
	logger *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  newRetryPolicy(cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff),
		logger: logger.Named("worldanvil"),
	}
}

// Identity resolves the account that owns token.
func (c *Client) Identity(ctx context.Context, token string) (Identity, error) {
	var id Identity
	if err := c.do(ctx, http.MethodGet, "/identity", nil, token, nil, &id); err != nil {
		return Identity{}, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

// WorldsForUser lists the worlds of a user.
func (c *Client) WorldsForUser(ctx context.Context, token, userID string) ([]World, error) {
	worlds, err := list[World](ctx, c, "/user/worlds", token, userID)
	if err != nil {
		return nil, fmt.Errorf("list worlds of user %s: %w", userID, err)
	}
	return worlds, nil
}

// ListArticles lists the published articles of a world. Drafts are dropped.
func (c *Client) ListArticles(ctx context.Context, token, worldID string) ([]Article, error) {
	all, err := list[Article](ctx, c, "/world/articles", token, worldID)
	if err != nil {
		return nil, fmt.Errorf("list articles of world %s: %w", worldID, err)
	}
	published := all[:0]
	for _, a := range all {
		if !a.IsDraft {
			published = append(published, a)
		}
	}
	return published, nil
}

// list pages through a listing endpoint until a short page is returned.
func list[T any](ctx context.Context, c *Client, path, token, id string) ([]T, error) {
	var all []T
	for offset := 0; ; offset += c.cfg.PageSize {
		var page listResponse[T]
		body := limitOffset{Limit: c.cfg.PageSize, Offset: offset}
		if err := c.do(ctx, http.MethodPost, path, url.Values{"id": {id}}, token, body, &page); err != nil {
			return nil, err
		}
		if !page.Success {
			return nil, fmt.Errorf("%s at offset %d: api reported failure", path, offset)
		}
		all = append(all, page.Entities...)
		if len(page.Entities) < c.cfg.PageSize {
			return all, nil
		}
	}
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	token string,
	body any,
	out any,
) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, query, token, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !c.retry.shouldRetry(err, attempt+1) {
			return err
		}
		wait := c.retry.backoff(attempt)
		c.logger.Warn("request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (gave up waiting to retry: %w)", err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) once(
	ctx context.Context,
	method, path string,
	query url.Values,
	token string,
	payload []byte,
	out any,
) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("x-application-key", c.cfg.ApplicationKey)
	req.Header.Set("x-auth-token", token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Message = eb.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w from %s: %w", errDecode, path, err)
	}
	return nil
}
