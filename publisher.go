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
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GaugePublisher maps readings onto gauges in the application registry.
// Gauges are created on first use and never removed, so a scrape always sees the last value written.
type GaugePublisher struct {
	registry prometheus.Registerer
	labeled  bool
	logger   *Logger

	mu     sync.Mutex
	flat   map[string]prometheus.Gauge
	vector map[string]*prometheus.GaugeVec
}

func NewGaugePublisher(registry prometheus.Registerer, labeled bool, logger *Logger) *GaugePublisher {
	return &GaugePublisher{
		registry: registry,
		labeled:  labeled,
		logger:   logger.WithComponent("publisher"),
		flat:     make(map[string]prometheus.Gauge),
		vector:   make(map[string]*prometheus.GaugeVec),
	}
}

// Publish writes every wanted value in the reading. Unwanted or non-finite values are skipped.
func (p *GaugePublisher) Publish(reading Reading, meter *Meter) {
	for _, readingType := range reading.sortedKeys() {
		value := reading[readingType]
		if !meter.Wants(readingType) {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			p.logger.Warnw("Value is not a usable float",
				"reading_type", readingType,
				"value", value,
				"device_id", meter.DeviceID,
				"meter_type", meter.Kind.String(),
			)
			continue
		}

		var err error
		if p.labeled {
			err = p.setLabeled(readingType, value, meter)
		} else {
			err = p.setFlat(readingType, value, meter)
		}
		if err != nil {
			p.logger.Warnw("Failed to publish gauge",
				"reading_type", readingType,
				"device_id", meter.DeviceID,
				"error", err.Error(),
			)
		}
	}
}

// FlatMetricName names the gauge for one reading type of one meter in flat mode
func FlatMetricName(readingType string, meter *Meter) string {
	return fmt.Sprintf("%s_%s_%s_%s", FlatMetricPrefix, readingType, stripDeviceID(meter.DeviceID), meter.Kind.String())
}

// LabeledMetricName names the gauge shared by all meters for a reading type
func LabeledMetricName(readingType string) string {
	return fmt.Sprintf("%s_%s", LabeledMetricPrefix, readingType)
}

func (p *GaugePublisher) setFlat(readingType string, value float64, meter *Meter) error {
	name := FlatMetricName(readingType, meter)

	p.mu.Lock()
	defer p.mu.Unlock()

	gauge, ok := p.flat[name]
	if !ok {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name,
			Help: FlatMetricHelp,
		})
		existing, err := p.register(gauge)
		if err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		if g, ok := existing.(prometheus.Gauge); ok {
			gauge = g
		}
		p.flat[name] = gauge
	}
	gauge.Set(value)
	return nil
}

func (p *GaugePublisher) setLabeled(readingType string, value float64, meter *Meter) error {
	name := LabeledMetricName(readingType)

	p.mu.Lock()
	defer p.mu.Unlock()

	vec, ok := p.vector[name]
	if !ok {
		help, known := GaugeDefinitions[readingType]
		if !known {
			help = FlatMetricHelp
		}
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, []string{"device_id", "meter_type"})
		existing, err := p.register(vec)
		if err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		if v, ok := existing.(*prometheus.GaugeVec); ok {
			vec = v
		}
		p.vector[name] = vec
	}

	gauge, err := vec.GetMetricWith(meter.Labels())
	if err != nil {
		return err
	}
	gauge.Set(value)
	return nil
}

// register returns the collector to write through, adopting one already registered under the same identity
func (p *GaugePublisher) register(c prometheus.Collector) (prometheus.Collector, error) {
	err := p.registry.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector, nil
	}
	return nil, err
}
