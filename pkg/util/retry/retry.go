/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package retry polls a callback until it succeeds, the main consumer
// being database startup where the server typically races its database
// into existence.
package retry

import (
	"context"
	"time"
)

// RetryFunc is a callback that must return nil to escape the retry loop.
type RetryFunc func() error

// Retrier implements retry loop logic.
type Retrier struct {
	// context terminates the retry loop on timeout or cancellation.
	context context.Context

	// cancel is associated with a context to free resources.
	cancel func()

	// period defines the retry period.
	period time.Duration
}

// WithContext returns a retrier bound to a global context, e.g. one that
// spans the whole startup, not just this single retry.
func WithContext(c context.Context) *Retrier {
	return &Retrier{
		context: c,
		period:  time.Second,
	}
}

// WithTimeout wraps the existing context with a timeout specific to this
// retry invocation, augmenting any global timeout with a local one.
func (r *Retrier) WithTimeout(timeout time.Duration) *Retrier {
	r.context, r.cancel = context.WithTimeout(r.context, timeout)

	return r
}

// Do starts the retry loop.  It runs until the context times out or is
// cancelled, or the retry function returns nil indicating success.
func (r *Retrier) Do(f RetryFunc) error {
	if r.cancel != nil {
		defer r.cancel()
	}

	t := time.NewTicker(r.period)
	defer t.Stop()

	for {
		select {
		case <-r.context.Done():
			return r.context.Err()
		case <-t.C:
			if err := f(); err != nil {
				break
			}

			return nil
		}
	}
}
