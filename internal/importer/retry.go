package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/domain"
)

// RetryOptions bounds RetryOnConflict.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions is used by the parse worker.
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  5,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
}

// RetryOnConflict runs op until it succeeds, fails with anything other than
// domain.ErrConcurrentModification, or the attempts run out. op must reload
// the aggregate on every call.
func RetryOnConflict(ctx context.Context, log zerolog.Logger, opts RetryOptions, op func() error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 10 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = time.Second
	}
	if opts.Multiplier <= 1 {
		opts.Multiplier = 2
	}

	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("RetryOnConflict: gave up after %d attempts: %w", attempt, err)
		}

		log.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Concurrent modification, reloading")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}
