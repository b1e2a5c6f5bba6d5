package segment

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Queue runs a batch of operations concurrently and reports the first
// failure. At most width operations run at once.
type Queue struct {
	parent context.Context
	ctx    context.Context
	g      *errgroup.Group
}

func NewQueue(ctx context.Context, width int) *Queue {
	g, gctx := errgroup.WithContext(ctx)
	if width > 0 {
		g.SetLimit(width)
	}
	return &Queue{parent: ctx, ctx: gctx, g: g}
}

// Go schedules fn. The context passed to fn is cancelled once any operation
// of the batch fails.
func (q *Queue) Go(fn func(ctx context.Context) error) {
	q.g.Go(func() error {
		if err := q.ctx.Err(); err != nil {
			return err
		}
		return fn(q.ctx)
	})
}

// Wait blocks until every operation finished or the caller's context
// expires. In the latter case operations still running are abandoned.
func (q *Queue) Wait() error {
	done := make(chan error, 1)
	go func() {
		done <- q.g.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-q.parent.Done():
		return errors.Wrap(q.parent.Err(), "abandoned queued operations")
	}
}
