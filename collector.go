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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ReadingCollector polls one meter and turns the response into a Reading
type ReadingCollector struct {
	client DataClient
	clock  Clock
	logger *Logger
}

func NewReadingCollector(client DataClient, logger *Logger) *ReadingCollector {
	return &ReadingCollector{
		client: client,
		clock:  SystemClock,
		logger: logger.WithComponent("collector"),
	}
}

type readingResponse struct {
	telemetry map[string]json.RawMessage
	agreement *Agreement
}

// Collect never fails: API and shape problems are logged and yield an empty Reading for this tick.
// Wanted reading types missing from both telemetry and tariff are reported as zero.
func (c *ReadingCollector) Collect(ctx context.Context, meter *Meter) Reading {
	log := c.logger.WithMeter(meter)

	query, variables := meter.Query()
	data, err := c.client.Execute(ctx, query, variables)
	if err != nil {
		var authErr *AuthError
		switch {
		case errors.As(err, &authErr):
			log.Errorw("Authentication failed, skipping meter this tick", "error", err.Error())
		case isRateLimited(err):
			log.Warnw("Possible rate limit hit, increase call interval", "error", err.Error())
		default:
			log.Warnw("Failed to fetch readings, skipping meter this tick", "error", err.Error())
		}
		return Reading{}
	}

	resp, err := decodeReadingResponse(data, meter)
	if err != nil {
		if errors.Is(err, ErrNoTelemetry) {
			log.Errorw("Octopus API returned no consumption or demand data")
		} else {
			log.Errorw("Unexpected reading response", "error", err.Error())
		}
		return Reading{}
	}

	readings := Reading{}
	if meter.AgreementID != "" {
		snap, outcome := ResolveTariff(meter.Kind, resp.agreement, c.clock.Now())
		switch outcome {
		case AgreementRevoked, AgreementExpired:
			log.Warnw("Agreement unusable, no readings will be returned",
				"agreement_id", meter.AgreementID,
				"reason", outcome.String(),
			)
			return Reading{}
		case AgreementMalformed:
			shapeErr := &ShapeError{
				DeviceID: meter.DeviceID,
				Field:    meter.Kind.spec().agreementField + ".validTo",
				Err:      fmt.Errorf("unrecognised timestamp %q", resp.agreement.ValidTo),
			}
			log.Errorw("Unexpected reading response", "error", shapeErr.Error())
			return Reading{}
		case TariffUnsupported:
			log.Warnw("Tariff shape not supported yet, no tariff rates will be returned",
				"shape", classifyTariff(resp.agreement.Tariff).String(),
			)
		case TariffExport:
			log.Debugw("Export tariff, no unit rates will be returned")
		case TariffNotApplicable:
			if meter.wantsTariff() {
				log.Warnw("No tariff information returned for agreement", "agreement_id", meter.AgreementID)
			}
		case TariffResolved:
			if snap.IsEmpty() && meter.wantsTariff() {
				log.Debugw("Tariff carries no current values", "agreement_id", meter.AgreementID)
			}
		}
		if snap.MalformedRates > 0 {
			log.Warnw("Skipped unit rate intervals with unparseable bounds",
				"agreement_id", meter.AgreementID,
				"skipped", snap.MalformedRates,
			)
		}
		for readingType, value := range snap.Values() {
			if meter.Wants(readingType) {
				readings[readingType] = value
			}
		}
	}

	for _, readingType := range meter.ReadingTypes() {
		if _, ok := readings[readingType]; ok {
			continue
		}
		raw, present := resp.telemetry[readingType]
		if !present {
			readings[readingType] = 0
			continue
		}
		var value NullFloat
		if err := json.Unmarshal(raw, &value); err != nil {
			log.Warnw("Telemetry value is not numeric",
				"reading_type", readingType,
				"value", string(raw),
			)
			continue
		}
		if !value.Valid {
			readings[readingType] = 0
			continue
		}
		readings[readingType] = value.Float64
	}

	for _, readingType := range readings.sortedKeys() {
		log.Debugw("Reading", "reading_type", readingType, "value", readings[readingType])
	}
	log.Infow("Metrics collected", "count", len(readings))
	return readings
}

func decodeReadingResponse(data json.RawMessage, meter *Meter) (readingResponse, error) {
	var out readingResponse

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return out, &ShapeError{DeviceID: meter.DeviceID, Field: "data", Err: err}
	}

	var rows []map[string]json.RawMessage
	if raw, ok := fields["smartMeterTelemetry"]; ok && !isJSONNull(raw) {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return out, &ShapeError{DeviceID: meter.DeviceID, Field: "smartMeterTelemetry", Err: err}
		}
	}
	if len(rows) == 0 {
		return out, &ShapeError{DeviceID: meter.DeviceID, Field: "smartMeterTelemetry", Err: ErrNoTelemetry}
	}
	out.telemetry = rows[0]

	agreementField := meter.Kind.spec().agreementField
	if raw, ok := fields[agreementField]; ok && !isJSONNull(raw) {
		var agreement Agreement
		if err := json.Unmarshal(raw, &agreement); err != nil {
			return out, &ShapeError{DeviceID: meter.DeviceID, Field: agreementField, Err: err}
		}
		out.agreement = &agreement
	}
	return out, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
