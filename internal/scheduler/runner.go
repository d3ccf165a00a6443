package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skairunner/commentater/internal/metrics"
)

// Cycler runs one scheduling cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (Result, error)
}

// Runner repeats cycles until its context ends.
type Runner struct {
	cycler Cycler
	idle   time.Duration
	logger *zap.Logger
}

// NewRunner constructs a Runner that sleeps for idle after empty or
// deferred cycles and after cycle errors.
func NewRunner(cycler Cycler, idle time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idle <= 0 {
		idle = time.Second
	}
	return &Runner{cycler: cycler, idle: idle, logger: logger}
}

// Run blocks until ctx is done or a cycle reports ErrUserWithoutTask.
// Cancellation returns nil.
func (r *Runner) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for ctx.Err() == nil {
		res, err := r.cycler.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, ErrUserWithoutTask) {
				r.logger.Error("queue invariant violated", zap.Int64("user_id", res.UserID), zap.Error(err))
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("cycle failed", zap.Error(err))
			r.sleep(ctx)
			continue
		}

		switch res.Outcome {
		case OutcomeCompleted, OutcomeDomainError:
		case OutcomeNoUser, OutcomeDeferred, OutcomeUnknown:
			r.sleep(ctx)
		case OutcomeNoTasks:
			return ErrUserWithoutTask
		}
	}
	return nil
}

func (r *Runner) sleep(ctx context.Context) {
	timer := time.NewTimer(r.idle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Pool runs several Runners against the same queue. Runners share no
// state; the database arbitrates between them.
type Pool struct {
	runners []*Runner
}

// NewPool creates a Pool.
func NewPool(runners ...*Runner) *Pool {
	return &Pool{runners: runners}
}

// Size reports how many runners the pool starts.
func (p *Pool) Size() int {
	return len(p.runners)
}

// Run starts all runners and blocks until every one has returned. The first
// runner error stops the others and is returned.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range p.runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	return g.Wait()
}
