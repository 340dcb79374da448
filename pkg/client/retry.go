package client

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// RetryConfig bounds DialRetry.
type RetryConfig struct {
	// MaxAttempts is the number of dials before giving up. 0 retries until
	// ctx is done.
	MaxAttempts int

	// MinInterval is the first wait between attempts.
	// Default: 100ms.
	MinInterval time.Duration

	// MaxInterval caps the wait between attempts.
	// Default: 10 seconds.
	MaxInterval time.Duration
}

// DialRetry dials url until it succeeds, the attempts run out or ctx is
// done, waiting with exponential backoff and jitter between attempts. It
// returns the last dial error.
func DialRetry(ctx context.Context, url string, opts *Options, retry RetryConfig) (*Client, error) {
	if retry.MinInterval <= 0 {
		retry.MinInterval = 100 * time.Millisecond
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 10 * time.Second
	}
	logger := opts.withDefaults().Logger

	b := &backoff.Backoff{
		Min:    retry.MinInterval,
		Max:    retry.MaxInterval,
		Factor: 2,
		Jitter: true,
	}
	for {
		c, err := Dial(ctx, url, opts)
		if err == nil {
			return c, nil
		}

		attempt := int(b.Attempt()) + 1
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return nil, err
		}
		d := b.Duration()
		logger.Debug("dial failed, retrying", "url", url, "attempt", attempt, "wait", d, "error", err)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, err
		case <-t.C:
		}
	}
}
