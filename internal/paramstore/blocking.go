package paramstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/metrics"
)

// LogEvery is the number of polls between two "still waiting" lines.
const LogEvery = 20

// BlockingOptions tunes GetWithBlocking.
type BlockingOptions struct {
	// Timeout bounds the wait. Zero waits until ctx is done.
	Timeout  time.Duration
	Interval time.Duration
	Metrics  *metrics.Registry
}

// GetWithBlocking polls s until key exists. Errors other than ErrNotFound
// stop the wait at once.
func GetWithBlocking(ctx context.Context, s Store, key string, opts BlockingOptions) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 50 * interval
	bo.MaxElapsedTime = opts.Timeout

	var (
		raw   []byte
		polls int
	)
	op := func() error {
		polls++
		opts.Metrics.RecordParamPoll()
		v, err := s.Get(ctx, key)
		if err == nil {
			raw = v
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		if polls%LogEvery == 0 {
			logger.Info("⏳ Waiting for parameters.", "address", key, "polls", polls)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w at %s after %d polls: %v", ErrBootstrap, key, polls, err)
		}
		return nil, err
	}
	logger.Debug("Parameters retrieved.", "address", key, "polls", polls)
	return raw, nil
}
