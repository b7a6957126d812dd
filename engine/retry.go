package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/egdb/errors"
	"github.com/leftmike/egdb/index"
)

const (
	retries              = 3
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 2
	retryMaxInterval     = 120 * time.Second
)

func (e *Engine) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = retryMultiplier
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = 0
	b.Clock = e.clock
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// retry runs op until it succeeds, fails with an error other than a
// concurrent modification, or runs out of retries.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	return backoff.RetryNotify(
		func() error {
			err := op()
			if err != nil && !errors.Is(err, errors.ErrConcurrentModification) {
				return backoff.Permanent(err)
			}
			return err
		},
		e.newBackOff(ctx),
		func(err error, d time.Duration) {
			log.WithError(err).WithField("delay", d).Debug("retrying transaction")
		})
}

// runInTxn runs fn in a single group transaction which is never visible to
// callers, and commits it.
func (e *Engine) runInTxn(ctx context.Context, app string, fn func(t *txn) error) (index.Cost,
	error) {

	var cost index.Cost
	err := e.retry(ctx,
		func() error {
			t := e.newTxn(app, false)
			err := fn(t)
			if err != nil {
				t.rollback(e)
				return err
			}
			cost, err = t.commit(ctx, e)
			return err
		})
	return cost, err
}

type TxnOptions struct {
	MultiGroup bool
}

// RunInTransaction runs fn in a transaction and commits it, retrying the
// whole transaction when the commit fails with a concurrent modification.
// If fn fails, the transaction is rolled back.
func (e *Engine) RunInTransaction(ctx context.Context, caller Caller, opts TxnOptions,
	fn func(ctx context.Context, h Handle) error) (index.Cost, error) {

	var cost index.Cost
	err := e.retry(ctx,
		func() error {
			h, err := e.BeginTransaction(ctx, caller, opts.MultiGroup)
			if err != nil {
				return err
			}
			err = fn(ctx, h)
			if err != nil {
				e.Rollback(ctx, caller, h)
				return err
			}
			cost, err = e.Commit(ctx, caller, h)
			return err
		})
	return cost, err
}
