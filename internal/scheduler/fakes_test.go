package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skairunner/commentater/internal/commentater"
)

type completion struct {
	taskID int64
	errMsg *string
}

// fakeStore hands out fakeTx values over a single scripted user and task.
type fakeStore struct {
	mu sync.Mutex

	entry   *commentater.UserQueueEntry
	task    *commentater.Task
	article commentater.Article

	beginErr       error
	acquireUserErr error
	acquireTaskErr error
	savepointErr   error
	getArticleErr  error
	completeErr    error

	outerCommits       int
	outerRollbacks     int
	savepointCommits   int
	savepointRollbacks int
	completed          []completion
	touched            []int64
	checked            map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entry:   &commentater.UserQueueEntry{ID: 5, UserID: 3},
		task:    &commentater.Task{ID: 9, UserID: 3, ArticleID: 11},
		article: commentater.Article{ID: 11, UserID: 3, URL: "https://www.worldanvil.com/w/solaris/a/chewpaper"},
		checked: map[int64]time.Time{},
	}
}

func (s *fakeStore) Begin(context.Context) (commentater.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{store: s}, nil
}

type fakeTx struct {
	store  *fakeStore
	nested bool
	closed bool
}

var errTxClosed = errors.New("tx is closed")

func (t *fakeTx) AcquireNextEligibleUser(context.Context, time.Duration) (*commentater.UserQueueEntry, error) {
	return t.store.entry, t.store.acquireUserErr
}

func (t *fakeTx) AcquireNextTask(context.Context, int64) (*commentater.Task, error) {
	return t.store.task, t.store.acquireTaskErr
}

func (t *fakeTx) TouchUser(_ context.Context, id int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.touched = append(t.store.touched, id)
	return nil
}

func (t *fakeTx) CompleteTask(_ context.Context, id int64, errMsg *string) error {
	if t.store.completeErr != nil {
		return t.store.completeErr
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.completed = append(t.store.completed, completion{taskID: id, errMsg: errMsg})
	return nil
}

func (t *fakeTx) UpsertArticleContent(context.Context, int64, string, string) error { return nil }

func (t *fakeTx) UpsertAuthors(_ context.Context, authors []commentater.AuthorInsert) (map[string]int64, error) {
	ids := make(map[string]int64, len(authors))
	for i, a := range authors {
		ids[a.WorldAnvilID] = int64(i + 1)
	}
	return ids, nil
}

func (t *fakeTx) DeleteComments(context.Context, int64, int64) error { return nil }

func (t *fakeTx) InsertComments(_ context.Context, _, _ int64, comments []commentater.CommentInsert) (int64, error) {
	return int64(len(comments)), nil
}

func (t *fakeTx) GetArticle(_ context.Context, userID, articleID int64) (commentater.Article, error) {
	if t.store.getArticleErr != nil {
		return commentater.Article{}, t.store.getArticleErr
	}
	a := t.store.article
	if a.ID != articleID || a.UserID != userID {
		return commentater.Article{}, fmt.Errorf("get article %d: %w", articleID, commentater.ErrNotFound)
	}
	return a, nil
}

func (t *fakeTx) SetArticleChecked(_ context.Context, id int64, at time.Time) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.checked[id] = at
	return nil
}

func (t *fakeTx) Begin(context.Context) (commentater.Tx, error) {
	if t.store.savepointErr != nil {
		return nil, t.store.savepointErr
	}
	return &fakeTx{store: t.store, nested: true}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.closed {
		return errTxClosed
	}
	t.closed = true
	if t.nested {
		t.store.savepointCommits++
	} else {
		t.store.outerCommits++
	}
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.nested {
		t.store.savepointRollbacks++
	} else {
		t.store.outerRollbacks++
	}
	return nil
}

type fakeFetcher struct {
	page  []byte
	err   error
	panic any
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.panic != nil {
		panic(f.panic)
	}
	return f.page, f.err
}

type fakeReconciler struct {
	summary commentater.ReconcileSummary
	err     error
	calls   int
}

func (r *fakeReconciler) Apply(
	context.Context,
	commentater.ReconcileTx,
	commentater.Task,
	*commentater.ParsedArticle,
) (commentater.ReconcileSummary, error) {
	r.calls++
	return r.summary, r.err
}

type fakeArchiver struct {
	pages map[int64][]byte
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, task commentater.Task, page []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.pages == nil {
		a.pages = map[int64][]byte{}
	}
	a.pages[task.ID] = page
	return fmt.Sprintf("file:///archive/%d.html", task.ID), nil
}

// scriptedCycler replays results and cancels the run once exhausted.
type scriptedCycler struct {
	mu     sync.Mutex
	steps  []step
	calls  int
	cancel context.CancelFunc
}

type step struct {
	res Result
	err error
}

func (c *scriptedCycler) RunCycle(context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.steps) == 0 {
		if c.cancel != nil {
			c.cancel()
		}
		return Result{Outcome: OutcomeNoUser}, nil
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	return s.res, s.err
}
