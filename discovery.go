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
	"fmt"
	"time"
)

// graphID accepts GraphQL ids serialized either as strings or as numbers
type graphID string

func (id *graphID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = graphID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = graphID(n.String())
	return nil
}

type smartMeterRef struct {
	ID       graphID `json:"id"`
	DeviceID string  `json:"deviceId"`
}

type accountAgreement struct {
	ID     graphID `json:"id"`
	Tariff *struct {
		DisplayName string `json:"displayName"`
	} `json:"tariff"`
	MeterPoint *struct {
		ID     graphID                      `json:"id"`
		Meters []map[string]json.RawMessage `json:"meters"`
	} `json:"meterPoint"`
}

// DiscoveryOptions shape the meters built from the account graph
type DiscoveryOptions struct {
	ElectricInterval time.Duration
	GasInterval      time.Duration
	TariffRates      bool
	TariffRemaining  bool
}

// MeterRegistry discovers the account's smart meters
type MeterRegistry struct {
	client DataClient
	clock  Clock
	opts   DiscoveryOptions
	logger *Logger
}

func NewMeterRegistry(client DataClient, opts DiscoveryOptions, logger *Logger) *MeterRegistry {
	if opts.ElectricInterval <= 0 {
		opts.ElectricInterval = IntervalDefault
	}
	if opts.GasInterval <= 0 {
		opts.GasInterval = GasPollingInterval
	}
	return &MeterRegistry{
		client: client,
		clock:  SystemClock,
		opts:   opts,
		logger: logger.WithComponent("discovery"),
	}
}

// Discover finds one smart meter per requested fuel. A requested fuel without a smart meter is a *DiscoveryError.
func (r *MeterRegistry) Discover(ctx context.Context, accountID string, wantGas, wantElectric bool) ([]*Meter, error) {
	var kinds []FuelKind
	if wantElectric {
		kinds = append(kinds, FuelElectric)
	}
	if wantGas {
		kinds = append(kinds, FuelGas)
	}

	var meters []*Meter
	for _, kind := range kinds {
		meter, err := r.discoverFuel(ctx, accountID, kind)
		if err != nil {
			return nil, err
		}
		meters = append(meters, meter)
		r.logger.Infow("Meter has been found",
			"meter_type", kind.String(),
			"device_id", meter.DeviceID,
			"tariff", meter.TariffName,
			"polling_interval_seconds", int(meter.PollingInterval.Seconds()),
			"reading_types", meter.ReadingTypes(),
		)
	}
	return meters, nil
}

func (r *MeterRegistry) discoverFuel(ctx context.Context, accountID string, kind FuelKind) (*Meter, error) {
	spec := kind.spec()
	data, err := r.client.Execute(ctx, discoveryQuery(spec), map[string]interface{}{
		"accountNumber": accountID,
	})
	if err != nil {
		return nil, &DiscoveryError{Fuel: kind, Account: accountID, Err: err}
	}

	var result struct {
		Account map[string]json.RawMessage `json:"account"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &DiscoveryError{Fuel: kind, Account: accountID, Err: fmt.Errorf("failed to decode account: %w", err)}
	}
	if result.Account == nil {
		return nil, &DiscoveryError{Fuel: kind, Account: accountID, Err: fmt.Errorf("account not found")}
	}

	var agreements []accountAgreement
	if raw, ok := result.Account[spec.agreementsField]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &agreements); err != nil {
			return nil, &DiscoveryError{Fuel: kind, Account: accountID, Err: fmt.Errorf("failed to decode %s: %w", spec.agreementsField, err)}
		}
	}

	agreement, smart, ok := firstSmartMeter(agreements, spec.smartMeterField)
	if !ok {
		return nil, &DiscoveryError{Fuel: kind, Account: accountID}
	}

	interval := r.opts.ElectricInterval
	if kind == FuelGas {
		interval = r.opts.GasInterval
	}

	meter := NewMeter(string(smart.ID), kind, smart.DeviceID, string(agreement.ID), interval,
		buildReadingTypes(kind, r.opts.TariffRates, r.opts.TariffRemaining), r.clock.Now())
	if agreement.Tariff != nil {
		meter.TariffName = agreement.Tariff.DisplayName
	}
	return meter, nil
}

// firstSmartMeter walks agreements and their meters in API order; the first meter exposing the smart sub-object wins
func firstSmartMeter(agreements []accountAgreement, smartField string) (accountAgreement, smartMeterRef, bool) {
	for _, agreement := range agreements {
		if agreement.MeterPoint == nil {
			continue
		}
		for _, meter := range agreement.MeterPoint.Meters {
			raw, ok := meter[smartField]
			if !ok || isJSONNull(raw) {
				continue
			}
			var ref smartMeterRef
			if err := json.Unmarshal(raw, &ref); err != nil || ref.DeviceID == "" {
				continue
			}
			return agreement, ref, true
		}
	}
	return accountAgreement{}, smartMeterRef{}, false
}

func discoveryQuery(spec fuelSpec) string {
	return fmt.Sprintf(`query Account($accountNumber: String!) {
	account(accountNumber: $accountNumber) {
		id
		%s {
			id
			%s
			meterPoint {
				id
				meters {
					id
					%s {
						id
						deviceId
					}
				}
			}
		}
	}
}`, spec.agreementsField, spec.tariffNameSelection, spec.smartMeterField)
}
