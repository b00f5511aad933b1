// Copyright 2025 The octopus-usage-exporter Authors
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

package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Clock abstracts wall-clock reads and sleeps so time-based logic can be tested
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done; it reports whether the full duration elapsed.
	Sleep(ctx context.Context, d time.Duration) bool
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SystemClock is the real wall clock
var SystemClock Clock = systemClock{}

// newRetryBackOff returns the jittered exponential policy used between API retries
func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = HTTPBackoffBase
	b.MaxInterval = HTTPBackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = HTTPBackoffJitter
	return b
}

// retryAfter reads a Retry-After header given in seconds, capped at HTTPBackoffMax
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0, false
	}
	d := time.Duration(seconds) * time.Second
	if d > HTTPBackoffMax {
		d = HTTPBackoffMax
	}
	return d, true
}

// retryAfterError keeps the failed attempt's error while asking the retry loop for a fixed delay
type retryAfterError struct {
	err   error
	delay *backoff.RetryAfterError
}

func (e *retryAfterError) Error() string {
	return e.err.Error()
}

func (e *retryAfterError) Unwrap() []error {
	return []error{e.err, e.delay}
}

// classifyAttempt marks a failed attempt as permanent, or as retryable after the server's requested delay
func classifyAttempt(err error, resp *http.Response) error {
	if !isRetryable(err) {
		return backoff.Permanent(err)
	}
	if d, ok := retryAfter(resp); ok {
		return &retryAfterError{err: err, delay: &backoff.RetryAfterError{Duration: d}}
	}
	return err
}

// isDue reports whether something last run at last with the given period should run at now
func isDue(last time.Time, period time.Duration, now time.Time) bool {
	return !last.Add(period).After(now)
}
