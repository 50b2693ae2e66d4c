// Package index provides read-only membership lookups against the set of
// addresses known to hold value. Indexes are never written by the scanner.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrIndexUnavailable means the backing store could not be opened or queried
var ErrIndexUnavailable = errors.New("membership index unavailable")

// Index answers exact-match membership queries. A handle is used by one
// worker at a time.
type Index interface {
	Contains(address string) (bool, error)
	Close() error
}

// Opener produces independent index handles, one per worker
type Opener interface {
	Open(ctx context.Context) (Index, error)
	Describe() string
}

// Enumerator is implemented by handles that can list their whole set
type Enumerator interface {
	Count() (uint, error)
	Each(fn func(address string) error) error
}

// RetryPolicy bounds how long OpenWithRetry keeps trying
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy retries for up to 30 seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      30 * time.Second,
	}
}

// OpenWithRetry opens a handle with exponential backoff. Zero policy fields
// fall back to the defaults. Once the policy is exhausted or ctx ends, the
// error wraps ErrIndexUnavailable.
func OpenWithRetry(ctx context.Context, opener Opener, policy RetryPolicy, notify func(error, time.Duration)) (Index, error) {
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = policy.MaxElapsed
	if eb.MaxElapsedTime <= 0 {
		eb.MaxElapsedTime = DefaultRetryPolicy().MaxElapsed
	}
	eb.Reset()

	op := func() (Index, error) {
		return opener.Open(ctx)
	}
	idx, err := backoff.RetryNotifyWithData(op, backoff.WithContext(eb, ctx), notify)
	if err != nil {
		if errors.Is(err, ErrIndexUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	return idx, nil
}
