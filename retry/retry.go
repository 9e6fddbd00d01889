// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry implements the one deadline-bounded retry primitive
// (C2) every polling operation in this module is built on: re-run a
// function until it succeeds or the deadline passes, with one final
// call always made after the soft deadline, given the retry interval
// as its budget. Deliberately NOT modeled as exception-driven control flow
// (Design Notes §9) -- every call returns (T, error) and the loop
// inspects the error value, never a panic/recover pair.
package retry

import (
	"context"
	"time"
)

// Func is a single retry attempt. leftover is the time remaining until
// the hard deadline (for the final call after the soft deadline, the
// retry interval), passed through so the callee can bound its own
// blocking work (e.g. as a context timeout or a command's own --wait).
type Func[T any] func(ctx context.Context, leftover time.Duration) (T, error)

// Loop re-runs fn until it returns a nil error or the hard deadline
// (now + timeout) passes. It waits retryWait between attempts, but
// starts no new wait once the soft deadline (hard deadline -
// retryWait) is reached: then exactly one more call is made with
// retryWait as its leftover, and its result (success or error) is
// final. wrapErr, if non-nil, replaces the last error before it is
// returned; passing nil returns the last error unchanged.
func Loop[T any](ctx context.Context, timeout, retryWait time.Duration, fn Func[T], wrapErr func(error) error) (T, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	softDeadline := deadline.Add(-retryWait)

	var zero T
	for time.Now().Before(softDeadline) {
		now := time.Now()
		result, err := fn(ctx, deadline.Sub(now))
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if time.Now().Before(softDeadline) {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(retryWait):
			}
		}
	}

	result, err := fn(ctx, retryWait)
	if err != nil {
		if wrapErr != nil {
			return zero, wrapErr(err)
		}
		return zero, err
	}
	return result, nil
}
