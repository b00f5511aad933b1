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

import "time"

// Polling intervals
const (
	// IntervalMax - Upper clamp for the shared base poll interval
	IntervalMax = 1800 * time.Second

	// IntervalMin - Lower clamp for the shared base poll interval
	IntervalMin = 1 * time.Second

	// IntervalRateLimitWarning - Intervals at or below this are likely to hit the Octopus rate limit
	IntervalRateLimitWarning = 180 * time.Second

	// IntervalDefault - Base poll interval when none is configured
	IntervalDefault = 1800 * time.Second

	// GasPollingInterval - Gas smart meters report half-hourly, so polling faster gains nothing
	GasPollingInterval = 1800 * time.Second
)

// JWT token settings
const (
	// JWTRefreshSkew - Default minimum remaining token lifetime before a refresh is forced
	JWTRefreshSkew = 2 * time.Minute

	// JWTMaxRefreshSkew - Upper bound accepted for a configured skew window
	JWTMaxRefreshSkew = 30 * time.Minute
)

// HTTP client settings
const (
	// HTTPClientTimeout - Maximum time for HTTP requests
	HTTPClientTimeout = 30 * time.Second

	// HTTPMinInterval - Minimum time between API requests (rate limiting)
	HTTPMinInterval = 1 * time.Second

	// HTTPMaxRetries - Maximum number of retries for failed requests
	HTTPMaxRetries = 3

	// HTTPBackoffBase - First retry delay before exponential growth
	HTTPBackoffBase = 1 * time.Second

	// HTTPBackoffMax - Cap on a single retry delay
	HTTPBackoffMax = 90 * time.Second

	// HTTPBackoffJitter - Fraction of each retry delay randomised either way
	HTTPBackoffJitter = 0.1
)

// Scrape server settings
const (
	// DefaultPromPort - Port the /metrics endpoint listens on
	DefaultPromPort = 9120

	// ServerShutdownTimeout - Grace period for in-flight scrapes on shutdown
	ServerShutdownTimeout = 5 * time.Second

	// ServerReadHeaderTimeout - Guards the scrape server against slow clients
	ServerReadHeaderTimeout = 10 * time.Second
)

// Octopus Energy API error codes
const (
	// OctopusErrorCodeJWTExpired - JWT token has expired
	OctopusErrorCodeJWTExpired = "KT-CT-1139"

	// OctopusErrorCodeInvalidAuth - Invalid authorization header
	OctopusErrorCodeInvalidAuth = "KT-CT-1143"

	// OctopusErrorCodeRateLimited - Too many requests
	OctopusErrorCodeRateLimited = "KT-CT-1199"
)

// Metric naming
const (
	// FlatMetricPrefix - Prefix of per-device metric names
	FlatMetricPrefix = "oe"

	// LabeledMetricPrefix - Prefix of shared, labeled metric names
	LabeledMetricPrefix = "oe_meter"

	// ExporterMetricPrefix - Prefix of the exporter's own operational metrics
	ExporterMetricPrefix = "octopus_exporter"

	// FlatMetricHelp - Help text used by every flat-mode gauge
	FlatMetricHelp = "Octopus Energy Gauge"
)
