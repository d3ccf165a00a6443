// Package scheduler runs the select, fetch, parse, reconcile cycle over the
// shared task queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/commentater"
	"github.com/skairunner/commentater/internal/logging"
	"github.com/skairunner/commentater/internal/metrics"
	"github.com/skairunner/commentater/internal/parser"
)

// ErrUserWithoutTask reports that a user was selected for having pending
// work but no pending task could be locked. It means the selection query
// and the task query disagree and is not recoverable.
var ErrUserWithoutTask = errors.New("eligible user has no pending task")

var errPanic = errors.New("panic during task processing")

// Outcome is the result of one cycle.
type Outcome int

// Cycle outcomes.
const (
	// OutcomeUnknown is the zero value, carried by results returned with an error.
	OutcomeUnknown Outcome = iota
	OutcomeCompleted
	OutcomeNoUser
	OutcomeNoTasks
	OutcomeDomainError
	// OutcomeDeferred means a system error left the task pending for a later cycle.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "unknown"
	case OutcomeCompleted:
		return "completed"
	case OutcomeNoUser:
		return "no_user"
	case OutcomeNoTasks:
		return "no_tasks"
	case OutcomeDomainError:
		return "domain_error"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one cycle. Detail holds the recorded message for
// OutcomeDomainError and the logged error for OutcomeDeferred.
type Result struct {
	Outcome   Outcome
	Detail    string
	UserID    int64
	TaskID    int64
	ArticleID int64
	Summary   commentater.ReconcileSummary
}

// Archiver keeps a copy of a page that failed to parse.
type Archiver interface {
	Archive(ctx context.Context, task commentater.Task, page []byte) (string, error)
}

// Config controls Scheduler behavior.
type Config struct {
	// Cooldown is the minimum time between two cycles for the same user.
	Cooldown time.Duration
}

// Scheduler executes cycles against a Store.
type Scheduler struct {
	store      commentater.Store
	fetcher    commentater.Fetcher
	parse      commentater.ParseFunc
	reconciler commentater.Reconciler
	clock      commentater.Clock
	archiver   Archiver
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Scheduler. archiver may be nil.
func New(
	store commentater.Store,
	fetcher commentater.Fetcher,
	parse commentater.ParseFunc,
	reconciler commentater.Reconciler,
	clock commentater.Clock,
	archiver Archiver,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	metrics.Init()
	return &Scheduler{
		store:      store,
		fetcher:    fetcher,
		parse:      parse,
		reconciler: reconciler,
		clock:      clock,
		archiver:   archiver,
		cfg:        cfg,
		logger:     logger.Named("scheduler"),
	}
}

// RunCycle selects one user and one of its tasks and processes it. Storage
// failures while selecting or finalizing are returned as errors; failures
// while processing the task become OutcomeDeferred.
func (s *Scheduler) RunCycle(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		outcome := res.Outcome.String()
		if err != nil {
			outcome = "failed"
		}
		metrics.ObserveCycle(outcome, time.Since(start))
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin cycle: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback cycle", zap.Error(rbErr))
		}
	}()

	entry, err := tx.AcquireNextEligibleUser(ctx, s.cfg.Cooldown)
	if err != nil {
		return Result{}, fmt.Errorf("select user: %w", err)
	}
	if entry == nil {
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("commit empty cycle: %w", err)
		}
		return Result{Outcome: OutcomeNoUser}, nil
	}

	task, err := tx.AcquireNextTask(ctx, entry.UserID)
	if err != nil {
		return Result{UserID: entry.UserID}, fmt.Errorf("select task for user %d: %w", entry.UserID, err)
	}
	if task == nil {
		return Result{Outcome: OutcomeNoTasks, UserID: entry.UserID},
			fmt.Errorf("user %d: %w", entry.UserID, ErrUserWithoutTask)
	}

	res = Result{UserID: task.UserID, TaskID: task.ID, ArticleID: task.ArticleID}
	logger := logging.ForTask(s.logger, *task)

	work, err := tx.Begin(ctx)
	if err != nil {
		return s.postpone(ctx, tx, nil, res, logger, fmt.Errorf("open savepoint: %w", err))
	}

	page, summary, err := s.process(ctx, work, *task)
	switch {
	case err == nil:
		res.Summary = summary
		return s.complete(ctx, tx, work, entry, *task, res, logger)
	case errors.Is(err, commentater.ErrUnparseable):
		return s.reject(ctx, tx, work, entry, *task, page, res, logger, err)
	default:
		return s.postpone(ctx, tx, work, res, logger, err)
	}
}

// process runs the fetch, parse and reconcile steps inside the savepoint.
// The fetched page is returned even when parsing fails.
func (s *Scheduler) process(
	ctx context.Context,
	work commentater.Tx,
	task commentater.Task,
) (page []byte, summary commentater.ReconcileSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	article, err := work.GetArticle(ctx, task.UserID, task.ArticleID)
	if err != nil {
		return nil, summary, fmt.Errorf("load article: %w", err)
	}

	page, err = s.fetcher.Fetch(ctx, article.URL)
	if err != nil {
		metrics.ObserveFetch(article.URL, "error", 0)
		return nil, summary, fmt.Errorf("fetch %s: %w", article.URL, err)
	}
	metrics.ObserveFetch(article.URL, "ok", len(page))

	parsed, err := s.parse(page)
	if err != nil {
		return page, summary, fmt.Errorf("parse %s: %w", article.URL, err)
	}

	summary, err = s.reconciler.Apply(ctx, work, task, parsed)
	if err != nil {
		return page, summary, err
	}
	return page, summary, nil
}

func (s *Scheduler) complete(
	ctx context.Context,
	tx, work commentater.Tx,
	entry *commentater.UserQueueEntry,
	task commentater.Task,
	res Result,
	logger *zap.Logger,
) (Result, error) {
	if err := work.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit savepoint: %w", err)
	}
	if err := tx.SetArticleChecked(ctx, task.ArticleID, s.clock.Now()); err != nil {
		return res, err
	}
	if err := s.finish(ctx, tx, entry, task, nil); err != nil {
		return res, err
	}
	res.Outcome = OutcomeCompleted
	metrics.ObserveCommentsInserted(res.Summary.CommentsInserted)
	logger.Info("task completed",
		zap.Int("comments_inserted", res.Summary.CommentsInserted),
		zap.Int("answered", res.Summary.Answered),
	)
	return res, nil
}

func (s *Scheduler) reject(
	ctx context.Context,
	tx, work commentater.Tx,
	entry *commentater.UserQueueEntry,
	task commentater.Task,
	page []byte,
	res Result,
	logger *zap.Logger,
	cause error,
) (Result, error) {
	if err := work.Rollback(ctx); err != nil {
		return res, fmt.Errorf("rollback savepoint: %w", err)
	}
	msg := domainMessage(cause)
	if err := s.finish(ctx, tx, entry, task, &msg); err != nil {
		return res, err
	}
	res.Outcome = OutcomeDomainError
	res.Detail = msg
	logger.Warn("task rejected", zap.String("reason", msg))

	if s.archiver != nil && len(page) > 0 {
		uri, err := s.archiver.Archive(ctx, task, page)
		if err != nil {
			logger.Warn("archive rejected page", zap.Error(err))
		} else {
			logger.Info("rejected page archived", zap.String("uri", uri))
		}
	}
	return res, nil
}

// postpone leaves the task pending and the user's clock untouched.
func (s *Scheduler) postpone(
	ctx context.Context,
	tx, work commentater.Tx,
	res Result,
	logger *zap.Logger,
	cause error,
) (Result, error) {
	logger.Error("task deferred after system error", zap.Error(cause))
	if work != nil {
		if err := work.Rollback(ctx); err != nil {
			return res, fmt.Errorf("rollback savepoint: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit deferred cycle: %w", err)
	}
	res.Outcome = OutcomeDeferred
	res.Detail = cause.Error()
	return res, nil
}

// finish marks the task done, restarts the user's cooldown and commits.
func (s *Scheduler) finish(
	ctx context.Context,
	tx commentater.Tx,
	entry *commentater.UserQueueEntry,
	task commentater.Task,
	errMsg *string,
) error {
	if err := tx.CompleteTask(ctx, task.ID, errMsg); err != nil {
		return err
	}
	if err := tx.TouchUser(ctx, entry.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

// domainMessage is the text stored on a rejected task.
func domainMessage(err error) string {
	var perr *parser.Error
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return err.Error()
}
