package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/parser"
)

type fakeTx struct {
	authorIDs map[string]int64
	upsertErr error
	insertErr error

	upserted []commentater.AuthorInsert
	deleted  [][2]int64
	inserted []commentater.CommentInsert
	content  []string
	calls    []string
}

func (f *fakeTx) UpsertArticleContent(_ context.Context, articleID int64, worldAnvilID, title string) error {
	f.calls = append(f.calls, "content")
	f.content = append(f.content, worldAnvilID, title)
	return nil
}

func (f *fakeTx) UpsertAuthors(_ context.Context, authors []commentater.AuthorInsert) (map[string]int64, error) {
	f.calls = append(f.calls, "authors")
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.upserted = append(f.upserted, authors...)
	ids := make(map[string]int64, len(authors))
	for _, a := range authors {
		if id, ok := f.authorIDs[a.WorldAnvilID]; ok {
			ids[a.WorldAnvilID] = id
		}
	}
	return ids, nil
}

func (f *fakeTx) DeleteComments(_ context.Context, articleID, userID int64) error {
	f.calls = append(f.calls, "delete")
	f.deleted = append(f.deleted, [2]int64{articleID, userID})
	return nil
}

func (f *fakeTx) InsertComments(_ context.Context, _, _ int64, comments []commentater.CommentInsert) (int64, error) {
	f.calls = append(f.calls, "insert")
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, comments...)
	return int64(len(comments)), nil
}

var task = commentater.Task{ID: 7, UserID: 3, ArticleID: 11}

func root(authorID, name, content string, replies int) commentater.RootComment {
	c := commentater.RootComment{
		Comment: commentater.Comment{
			AuthorName: name,
			AvatarURL:  "https://example.test/" + name + ".png",
			Date:       time.Date(2024, time.August, 24, 3, 12, 0, 0, time.UTC),
			Content:    content,
		},
		AuthorWorldAnvilID: authorID,
	}
	for i := 0; i < replies; i++ {
		c.Replies = append(c.Replies, commentater.Comment{AuthorName: "nnie", Content: "thanks"})
	}
	return c
}

func TestApplyKeepsOnlyUnansweredResolvedComments(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tx := &fakeTx{authorIDs: map[string]int64{"c1": 100, "c2": 200}}
	parsed := &commentater.ParsedArticle{
		WorldID:   "world-uuid",
		ArticleID: "article-uuid",
		Title:     "Chewpaper",
		Comments: []commentater.RootComment{
			root("c1", "Alice", "first", 0),
			root("c2", "Bob", "second", 1),
			root("c3", "Carol", "third", 0),
		},
	}

	summary, err := New(zap.New(core)).Apply(context.Background(), tx, task, parsed)
	require.NoError(t, err)

	require.Len(t, tx.inserted, 1)
	assert.Equal(t, int64(100), tx.inserted[0].AuthorID)
	assert.Equal(t, "first", tx.inserted[0].Content)
	assert.Equal(t, parsed.Comments[0].Date, tx.inserted[0].Date)

	assert.Equal(t, [][2]int64{{task.ArticleID, task.UserID}}, tx.deleted)
	assert.Equal(t, []string{"article-uuid", "Chewpaper"}, tx.content)
	assert.Equal(t, commentater.ReconcileSummary{
		AuthorsUpserted:  3,
		CommentsInserted: 1,
		Answered:         1,
		Unresolved:       1,
	}, summary)

	dropped := logs.FilterMessage("dropping comment with unresolved author").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "c3", dropped[0].ContextMap()["author_worldanvil_id"])
}

func TestApplyOrder(t *testing.T) {
	tx := &fakeTx{authorIDs: map[string]int64{"c1": 1}}
	parsed := &commentater.ParsedArticle{Comments: []commentater.RootComment{root("c1", "Alice", "hi", 0)}}

	_, err := New(nil).Apply(context.Background(), tx, task, parsed)
	require.NoError(t, err)
	assert.Equal(t, []string{"authors", "delete", "insert", "content"}, tx.calls)
}

func TestApplyWritesContentWithoutComments(t *testing.T) {
	tx := &fakeTx{}
	parsed := &commentater.ParsedArticle{ArticleID: "a", Title: "Empty"}

	summary, err := New(nil).Apply(context.Background(), tx, task, parsed)
	require.NoError(t, err)
	assert.Empty(t, tx.inserted)
	assert.Len(t, tx.deleted, 1)
	assert.Equal(t, []string{"a", "Empty"}, tx.content)
	assert.Zero(t, summary.CommentsInserted)
}

func TestApplyFixtureInsertsNothing(t *testing.T) {
	page, err := os.ReadFile(filepath.Join("..", "parser", "testdata", "example-solaris-page.htm"))
	require.NoError(t, err)
	parsed, err := parser.Parse(page)
	require.NoError(t, err)

	tx := &fakeTx{authorIDs: map[string]int64{}}
	for i, c := range parsed.Comments {
		tx.authorIDs[c.AuthorWorldAnvilID] = int64(i + 1)
	}

	summary, err := New(nil).Apply(context.Background(), tx, task, parsed)
	require.NoError(t, err)
	assert.Empty(t, tx.inserted)
	assert.Equal(t, 3, summary.Answered)
	assert.Equal(t, 3, summary.AuthorsUpserted)
	assert.Equal(t, []string{"4cdfec2c-b875-4dc6-b5c9-146470e9ac80", "Chewpaper"}, tx.content)
}

func TestApplyPropagatesStorageErrors(t *testing.T) {
	boom := errors.New("connection reset")
	parsed := &commentater.ParsedArticle{Comments: []commentater.RootComment{root("c1", "Alice", "hi", 0)}}

	tx := &fakeTx{upsertErr: boom}
	_, err := New(nil).Apply(context.Background(), tx, task, parsed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"authors"}, tx.calls)

	tx = &fakeTx{authorIDs: map[string]int64{"c1": 1}, insertErr: boom}
	_, err = New(nil).Apply(context.Background(), tx, task, parsed)
	require.ErrorIs(t, err, boom)
	assert.NotContains(t, tx.calls, "content")
}

func TestApplyRejectsNilPage(t *testing.T) {
	_, err := New(nil).Apply(context.Background(), &fakeTx{}, task, nil)
	require.Error(t, err)
}

func TestDistinctAuthorsLastOneWins(t *testing.T) {
	comments := []commentater.RootComment{
		root("a", "Alice", "1", 0),
		root("b", "Bob", "2", 0),
		root("a", "Alice Renamed", "3", 0),
	}
	comments[2].AvatarURL = "https://example.test/new.png"

	authors := DistinctAuthors(comments)
	assert.Equal(t, []commentater.AuthorInsert{
		{WorldAnvilID: "a", Name: "Alice Renamed", AvatarURL: "https://example.test/new.png"},
		{WorldAnvilID: "b", Name: "Bob", AvatarURL: "https://example.test/Bob.png"},
	}, authors)
}

func TestDistinctAuthorsEmpty(t *testing.T) {
	assert.Empty(t, DistinctAuthors(nil))
}
