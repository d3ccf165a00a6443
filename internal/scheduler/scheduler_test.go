package scheduler

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

	"github.com/skairunner/commentater/internal/clock/system"
	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/parser"
	"github.com/skairunner/commentater/internal/reconcile"
)

var checkedAt = time.Date(2024, time.September, 2, 8, 0, 0, 0, time.UTC)

func okParse([]byte) (*commentater.ParsedArticle, error) {
	return &commentater.ParsedArticle{ArticleID: "4cdfec2c", Title: "Chewpaper"}, nil
}

func newScheduler(
	store *fakeStore,
	fetcher *fakeFetcher,
	parse commentater.ParseFunc,
	rec commentater.Reconciler,
	archiver Archiver,
) *Scheduler {
	return New(store, fetcher, parse, rec, system.Fixed{At: checkedAt}, archiver, Config{}, zap.NewNop())
}

func TestRunCycleNoUser(t *testing.T) {
	store := newFakeStore()
	store.entry = nil
	fetcher := &fakeFetcher{}

	res, err := newScheduler(store, fetcher, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoUser, res.Outcome)
	assert.Equal(t, 1, store.outerCommits)
	assert.Empty(t, fetcher.urls)
	assert.Empty(t, store.touched)
}

func TestRunCycleUserWithoutTaskIsFatal(t *testing.T) {
	store := newFakeStore()
	store.task = nil

	res, err := newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, ErrUserWithoutTask)
	assert.Equal(t, OutcomeNoTasks, res.Outcome)
	assert.Equal(t, int64(3), res.UserID)
	assert.Zero(t, store.outerCommits)
	assert.Equal(t, 1, store.outerRollbacks)
}

func TestRunCycleCompleted(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{page: []byte("<html></html>")}
	rec := &fakeReconciler{summary: commentater.ReconcileSummary{CommentsInserted: 2}}

	res, err := newScheduler(store, fetcher, okParse, rec, nil).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, int64(9), res.TaskID)
	assert.Equal(t, int64(11), res.ArticleID)
	assert.Equal(t, 2, res.Summary.CommentsInserted)
	assert.Equal(t, []string{store.article.URL}, fetcher.urls)
	assert.Equal(t, 1, rec.calls)

	assert.Equal(t, 1, store.savepointCommits)
	assert.Zero(t, store.savepointRollbacks)
	assert.Equal(t, 1, store.outerCommits)
	assert.Zero(t, store.outerRollbacks)
	require.Len(t, store.completed, 1)
	assert.Equal(t, int64(9), store.completed[0].taskID)
	assert.Nil(t, store.completed[0].errMsg)
	assert.Equal(t, []int64{5}, store.touched)
	assert.Equal(t, checkedAt, store.checked[11])
}

func TestRunCycleDomainErrorIsTerminal(t *testing.T) {
	store := newFakeStore()
	page := []byte("<html><body>maintenance</body></html>")
	archiver := &fakeArchiver{}
	rec := &fakeReconciler{}
	parse := func([]byte) (*commentater.ParsedArticle, error) {
		return nil, &parser.Error{Kind: parser.ErrNoHeader, Comment: -1}
	}

	res, err := newScheduler(store, &fakeFetcher{page: page}, parse, rec, archiver).RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDomainError, res.Outcome)
	assert.Equal(t, "page has no article title heading", res.Detail)
	assert.Zero(t, rec.calls)
	assert.Equal(t, 1, store.savepointRollbacks)
	assert.Zero(t, store.savepointCommits)
	assert.Equal(t, 1, store.outerCommits)

	require.Len(t, store.completed, 1)
	require.NotNil(t, store.completed[0].errMsg)
	assert.Equal(t, res.Detail, *store.completed[0].errMsg)
	assert.Equal(t, []int64{5}, store.touched)
	assert.Empty(t, store.checked)
	assert.Equal(t, page, archiver.pages[9])
}

func TestRunCycleArchiveFailureKeepsOutcome(t *testing.T) {
	store := newFakeStore()
	parse := func([]byte) (*commentater.ParsedArticle, error) {
		return nil, &parser.Error{Kind: parser.ErrMalformedComment, Element: "date", Comment: 1}
	}
	archiver := &fakeArchiver{err: errors.New("bucket not found")}

	res, err := newScheduler(store, &fakeFetcher{page: []byte("x")}, parse, &fakeReconciler{}, archiver).
		RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDomainError, res.Outcome)
	assert.Equal(t, "malformed comment 1: missing date", res.Detail)
}

func TestRunCycleSystemErrorsLeaveTaskPending(t *testing.T) {
	boom := errors.New("connection reset by peer")

	cases := []struct {
		name    string
		setup   func(*fakeStore, *fakeFetcher, *fakeReconciler)
		parse   commentater.ParseFunc
		contain string
	}{
		{
			name:    "fetch failure",
			setup:   func(_ *fakeStore, f *fakeFetcher, _ *fakeReconciler) { f.err = boom },
			parse:   okParse,
			contain: "connection reset by peer",
		},
		{
			name:    "fetch panic",
			setup:   func(_ *fakeStore, f *fakeFetcher, _ *fakeReconciler) { f.panic = "nil map" },
			parse:   okParse,
			contain: "panic during task processing",
		},
		{
			name:    "article lookup failure",
			setup:   func(s *fakeStore, _ *fakeFetcher, _ *fakeReconciler) { s.getArticleErr = boom },
			parse:   okParse,
			contain: "load article",
		},
		{
			name:    "reconcile failure",
			setup:   func(_ *fakeStore, _ *fakeFetcher, r *fakeReconciler) { r.err = boom },
			parse:   okParse,
			contain: "connection reset by peer",
		},
		{
			name:  "parser returns an unexpected error",
			setup: func(*fakeStore, *fakeFetcher, *fakeReconciler) {},
			parse: func([]byte) (*commentater.ParsedArticle, error) {
				return nil, errors.New("read failed")
			},
			contain: "read failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			fetcher := &fakeFetcher{page: []byte("<html></html>")}
			rec := &fakeReconciler{}
			tc.setup(store, fetcher, rec)

			res, err := newScheduler(store, fetcher, tc.parse, rec, &fakeArchiver{}).RunCycle(context.Background())
			require.NoError(t, err)

			assert.Equal(t, OutcomeDeferred, res.Outcome)
			assert.Contains(t, res.Detail, tc.contain)
			assert.Empty(t, store.completed)
			assert.Empty(t, store.touched)
			assert.Empty(t, store.checked)
			assert.Equal(t, 1, store.savepointRollbacks)
			assert.Equal(t, 1, store.outerCommits)
		})
	}
}

func TestRunCycleArticleOfOtherUserIsNotScraped(t *testing.T) {
	store := newFakeStore()
	store.article.UserID = 4
	fetcher := &fakeFetcher{page: []byte("<html></html>")}
	rec := &fakeReconciler{}

	res, err := newScheduler(store, fetcher, okParse, rec, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Detail, "load article")
	assert.Empty(t, fetcher.urls)
	assert.Zero(t, rec.calls)
	assert.Empty(t, store.completed)
}

func TestRunCycleSavepointFailureIsDeferred(t *testing.T) {
	store := newFakeStore()
	store.savepointErr = errors.New("savepoint failed")

	res, err := newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)
	assert.Equal(t, 1, store.outerCommits)
	assert.Empty(t, store.completed)
}

func TestRunCycleSelectionErrors(t *testing.T) {
	boom := errors.New("pool closed")

	store := newFakeStore()
	store.beginErr = boom
	_, err := newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, boom)

	store = newFakeStore()
	store.acquireUserErr = boom
	_, err = newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.outerRollbacks)

	store = newFakeStore()
	store.acquireTaskErr = boom
	_, err = newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.outerRollbacks)
}

func TestRunCycleFinalizeErrorRollsBack(t *testing.T) {
	store := newFakeStore()
	store.completeErr = errors.New("deadlock detected")

	_, err := newScheduler(store, &fakeFetcher{page: []byte("x")}, okParse, &fakeReconciler{}, nil).
		RunCycle(context.Background())
	require.Error(t, err)
	assert.Zero(t, store.outerCommits)
	assert.Equal(t, 1, store.outerRollbacks)
	assert.Empty(t, store.touched)
}

func TestRunCycleFixtureEndToEnd(t *testing.T) {
	page, err := os.ReadFile(filepath.Join("..", "parser", "testdata", "example-solaris-page.htm"))
	require.NoError(t, err)
	store := newFakeStore()

	s := New(store, &fakeFetcher{page: page}, parser.Parse, reconcile.New(zap.NewNop()),
		system.Fixed{At: checkedAt}, nil, Config{Cooldown: time.Second}, zap.NewNop())
	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Zero(t, res.Summary.CommentsInserted)
	assert.Equal(t, 3, res.Summary.Answered)
	assert.Equal(t, 3, res.Summary.AuthorsUpserted)
}

func TestRunCycleErrorResultIsNotCompleted(t *testing.T) {
	store := newFakeStore()
	store.beginErr = errors.New("pool closed")

	res, err := newScheduler(store, &fakeFetcher{}, okParse, &fakeReconciler{}, nil).RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.NotEqual(t, OutcomeCompleted, Result{}.Outcome)
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeUnknown:     "unknown",
		OutcomeCompleted:   "completed",
		OutcomeNoUser:      "no_user",
		OutcomeNoTasks:     "no_tasks",
		OutcomeDomainError: "domain_error",
		OutcomeDeferred:    "deferred",
		Outcome(42):        "outcome(42)",
	}
	for o, want := range cases {
		assert.Equal(t, want, o.String())
	}
}
