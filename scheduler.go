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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TokenValidator yields a usable bearer token or an *AuthError
type TokenValidator interface {
	EnsureValid(ctx context.Context) (Token, error)
}

// ReadingSource collects one meter's reading for the current tick
type ReadingSource interface {
	Collect(ctx context.Context, meter *Meter) Reading
}

// ReadingSink publishes a collected reading
type ReadingSink interface {
	Publish(reading Reading, meter *Meter)
}

// PollingScheduler drives every meter from a single shared tick
type PollingScheduler struct {
	tokens   TokenValidator
	source   ReadingSource
	sink     ReadingSink
	meters   []*Meter
	interval time.Duration
	clock    Clock
	logger   *Logger

	ticks      atomic.Int64
	polls      atomic.Int64
	lastPollAt atomic.Int64 // unix nanoseconds, zero before the first poll
	authOK     atomic.Bool
}

// NewPollingScheduler expects interval to be already clamped with EffectiveInterval
func NewPollingScheduler(tokens TokenValidator, source ReadingSource, sink ReadingSink, meters []*Meter, interval time.Duration, logger *Logger) *PollingScheduler {
	return &PollingScheduler{
		tokens:   tokens,
		source:   source,
		sink:     sink,
		meters:   meters,
		interval: interval,
		clock:    SystemClock,
		logger:   logger.WithComponent("scheduler"),
	}
}

// EffectiveInterval clamps the configured base interval to [IntervalMin, IntervalMax].
// Values above the maximum are capped silently; values at or below the rate-limit
// watermark are honoured with a warning.
func EffectiveInterval(configured time.Duration, logger *Logger) time.Duration {
	interval := configured
	if interval > IntervalMax {
		interval = IntervalMax
	}
	if interval < IntervalMin {
		interval = IntervalMin
	}
	if interval <= IntervalRateLimitWarning {
		logger.Warnw("Attention! Polling this often will likely hit an API rate limit set by Octopus Energy",
			"interval_seconds", int(interval/time.Second),
			"recommended_min_seconds", int(IntervalRateLimitWarning/time.Second)+1,
		)
	}
	return interval
}

// Run ticks until ctx is cancelled. Cancellation is observed while sleeping; a tick in progress completes.
func (s *PollingScheduler) Run(ctx context.Context) {
	for _, m := range s.meters {
		s.logger.Infow("Starting to read meter",
			"meter_type", m.Kind.String(),
			"device_id", m.DeviceID,
			"every_seconds", int(m.PollingInterval/time.Second),
		)
	}

	for {
		s.Tick(ctx)
		if !s.clock.Sleep(ctx, s.interval) {
			s.logger.Infow("Stopping meter polling")
			return
		}
	}
}

// Tick runs one scheduling pass: refresh the token if needed, then poll every due meter
func (s *PollingScheduler) Tick(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With("cycle_id", uuid.NewString())
	s.ticks.Add(1)

	if _, err := s.tokens.EnsureValid(ctx); err != nil {
		s.authOK.Store(false)
		log.Errorw("Token refresh failed, skipping this cycle", "error", err.Error())
		return
	}
	s.authOK.Store(true)

	for _, meter := range s.meters {
		now := s.clock.Now()
		if !meter.Due(now) {
			continue
		}
		log.Debugw("Polling meter", "device_id", meter.DeviceID, "meter_type", meter.Kind.String())

		reading := s.source.Collect(ctx, meter)
		s.sink.Publish(reading, meter)

		meter.LastPolledAt = now
		s.polls.Add(1)
		s.lastPollAt.Store(now.UnixNano())
	}
}

// Meters returns the meters being scheduled
func (s *PollingScheduler) Meters() []*Meter {
	return s.meters
}

// Interval returns the shared base tick
func (s *PollingScheduler) Interval() time.Duration {
	return s.interval
}

// LastPollAt returns when a meter was last polled, or the zero time
func (s *PollingScheduler) LastPollAt() time.Time {
	nanos := s.lastPollAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Healthy reports whether the most recent tick obtained a valid token
func (s *PollingScheduler) Healthy() bool {
	return s.authOK.Load()
}

// Polls returns the number of meter polls performed
func (s *PollingScheduler) Polls() int64 {
	return s.polls.Load()
}
