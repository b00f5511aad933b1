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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsCollector exposes the exporter's own health and API usage at scrape time
type MetricsCollector struct {
	api       *APIMetrics
	tokens    *TokenManager
	scheduler *PollingScheduler

	info            *prometheus.Desc
	up              *prometheus.Desc
	meters          *prometheus.Desc
	lastPoll        *prometheus.Desc
	polls           *prometheus.Desc
	pollInterval    *prometheus.Desc
	requests        *prometheus.Desc
	failedRequests  *prometheus.Desc
	retries         *prometheus.Desc
	rateLimitSleeps *prometheus.Desc
	sleepSeconds    *prometheus.Desc
	tokenRefreshes  *prometheus.Desc
}

// NewMetricsCollector creates a new metrics collector. Any source may be nil.
func NewMetricsCollector(api *APIMetrics, tokens *TokenManager, scheduler *PollingScheduler) *MetricsCollector {
	name := func(suffix string) string {
		return prometheus.BuildFQName(ExporterMetricPrefix, "", suffix)
	}
	return &MetricsCollector{
		api:       api,
		tokens:    tokens,
		scheduler: scheduler,

		info: prometheus.NewDesc(name("info"), "Build information",
			[]string{"version", "user_agent", "go_version"}, nil),
		up: prometheus.NewDesc(name("up"),
			"Whether the last poll cycle obtained a valid API token (1=yes, 0=no)", nil, nil),
		meters: prometheus.NewDesc(name("meters"),
			"Number of smart meters being polled", []string{"meter_type"}, nil),
		lastPoll: prometheus.NewDesc(name("last_poll_timestamp_seconds"),
			"Unix timestamp of the last meter poll", nil, nil),
		polls: prometheus.NewDesc(name("polls_total"),
			"Total number of meter polls", nil, nil),
		pollInterval: prometheus.NewDesc(name("poll_interval_seconds"),
			"Effective base polling interval after clamping", nil, nil),
		requests: prometheus.NewDesc(name("api_requests_total"),
			"Total number of Octopus API requests", nil, nil),
		failedRequests: prometheus.NewDesc(name("api_failed_requests_total"),
			"Octopus API requests that failed after retries", nil, nil),
		retries: prometheus.NewDesc(name("api_retries_total"),
			"Octopus API request retries", nil, nil),
		rateLimitSleeps: prometheus.NewDesc(name("api_rate_limit_sleeps_total"),
			"Number of times requests were delayed by client side rate limiting", nil, nil),
		sleepSeconds: prometheus.NewDesc(name("api_rate_limit_sleep_seconds_total"),
			"Total time spent delayed by client side rate limiting", nil, nil),
		tokenRefreshes: prometheus.NewDesc(name("token_refreshes_total"),
			"Number of successful API token refreshes", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (m *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		m.info, m.up, m.meters, m.lastPoll, m.polls, m.pollInterval, m.requests,
		m.failedRequests, m.retries, m.rateLimitSleeps, m.sleepSeconds, m.tokenRefreshes,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (m *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	labels := buildLabels()
	ch <- prometheus.MustNewConstMetric(m.info, prometheus.GaugeValue, 1,
		labels["version"], labels["user_agent"], labels["go_version"])

	if m.scheduler != nil {
		up := 0.0
		if m.scheduler.Healthy() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(m.up, prometheus.GaugeValue, up)

		counts := map[FuelKind]int{FuelElectric: 0, FuelGas: 0}
		for _, meter := range m.scheduler.Meters() {
			counts[meter.Kind]++
		}
		for _, kind := range []FuelKind{FuelElectric, FuelGas} {
			ch <- prometheus.MustNewConstMetric(m.meters, prometheus.GaugeValue, float64(counts[kind]), kind.String())
		}

		if last := m.scheduler.LastPollAt(); !last.IsZero() {
			ch <- prometheus.MustNewConstMetric(m.lastPoll, prometheus.GaugeValue, float64(last.UnixNano())/1e9)
		}
		ch <- prometheus.MustNewConstMetric(m.polls, prometheus.CounterValue, float64(m.scheduler.Polls()))
		ch <- prometheus.MustNewConstMetric(m.pollInterval, prometheus.GaugeValue, m.scheduler.Interval().Seconds())
	}

	if m.api != nil {
		ch <- prometheus.MustNewConstMetric(m.requests, prometheus.CounterValue, float64(m.api.TotalRequests.Load()))
		ch <- prometheus.MustNewConstMetric(m.failedRequests, prometheus.CounterValue, float64(m.api.FailedRequests.Load()))
		ch <- prometheus.MustNewConstMetric(m.retries, prometheus.CounterValue, float64(m.api.Retries.Load()))
		ch <- prometheus.MustNewConstMetric(m.rateLimitSleeps, prometheus.CounterValue, float64(m.api.RateLimitSleeps.Load()))
		ch <- prometheus.MustNewConstMetric(m.sleepSeconds, prometheus.CounterValue, m.api.TotalSleepSeconds())
	}

	if m.tokens != nil {
		ch <- prometheus.MustNewConstMetric(m.tokenRefreshes, prometheus.CounterValue, float64(m.tokens.Refreshes()))
	}
}

// NewRegistry builds the application registry with the Go runtime and process collectors.
// Meter gauges are added to it lazily by the GaugePublisher.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}
