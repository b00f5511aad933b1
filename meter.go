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
	"sort"
	"strings"
	"time"
)

// FuelKind is the closed set of meter fuels the exporter understands
type FuelKind int

const (
	FuelElectric FuelKind = iota
	FuelGas
)

func (k FuelKind) String() string {
	switch k {
	case FuelElectric:
		return "electric"
	case FuelGas:
		return "gas"
	default:
		return "unknown"
	}
}

// Reading type names, shared by the collector and the gauge names
const (
	ReadingConsumption          = "consumption"
	ReadingDemand               = "demand"
	ReadingTariffUnitRate       = "tariff_unit_rate"
	ReadingTariffStandingCharge = "tariff_standing_charge"
	ReadingTariffExpiry         = "tariff_expiry"
	ReadingTariffDaysRemaining  = "tariff_days_remaining"
)

// GaugeDefinitions holds the help text of every labeled gauge
var GaugeDefinitions = map[string]string{
	ReadingConsumption:          "Total consumption in kWh",
	ReadingDemand:               "Total demand in watts",
	ReadingTariffUnitRate:       "Unit rate of the tariff in pence per kWh",
	ReadingTariffStandingCharge: "Standing charge of the tariff in pence per day",
	ReadingTariffExpiry:         "Expiry date of the tariff in epoch seconds",
	ReadingTariffDaysRemaining:  "Days remaining until the tariff expires",
}

// Reading maps a reading type to the value collected for it in one poll
type Reading map[string]float64

const telemetrySelection = `smartMeterTelemetry(deviceId: $deviceId) {
		readAt
		consumption
		demand
		consumptionDelta
		costDelta
	}`

const electricityAgreementSelection = `electricityAgreement(id: $agreementId) {
		isRevoked
		validTo
		... on ElectricityAgreementType {
			id
			validFrom
			tariff {
				... on StandardTariff {
					id
					displayName
					standingCharge
					isExport
					unitRate
				}
				... on DayNightTariff {
					id
					displayName
					standingCharge
					isExport
					dayRate
					nightRate
				}
				... on ThreeRateTariff {
					id
					displayName
					standingCharge
					isExport
					dayRate
					nightRate
					offPeakRate
				}
				... on HalfHourlyTariff {
					id
					displayName
					standingCharge
					isExport
					unitRates {
						validFrom
						validTo
						value
					}
				}
				... on PrepayTariff {
					id
					displayName
					standingCharge
					isExport
					unitRate
				}
			}
		}
	}`

const gasAgreementSelection = `gasAgreement(id: $agreementId) {
		isRevoked
		validTo
		... on GasAgreementType {
			id
			validFrom
			tariff {
				id
				displayName
				standingCharge
				isExport
				unitRate
			}
		}
	}`

// fuelSpec carries everything that differs between fuels as data
type fuelSpec struct {
	kind FuelKind
	// agreementsField is the account field listing this fuel's agreements
	agreementsField string
	// smartMeterField is the per-meter object that is non-null for smart meters
	smartMeterField string
	// agreementField is the top-level query field returning one agreement by id
	agreementField string
	// agreementSelection is the agreement sub-query joined to telemetry
	agreementSelection string
	// tariffNameSelection reads the display name in the discovery query
	tariffNameSelection string
	baseReadingTypes    []string
}

var fuelSpecs = map[FuelKind]fuelSpec{
	FuelElectric: {
		kind:               FuelElectric,
		agreementsField:    "electricityAgreements",
		smartMeterField:    "smartImportElectricityMeter",
		agreementField:     "electricityAgreement",
		agreementSelection: electricityAgreementSelection,
		tariffNameSelection: `tariff {
					... on StandardTariff { displayName }
					... on DayNightTariff { displayName }
					... on ThreeRateTariff { displayName }
					... on HalfHourlyTariff { displayName }
					... on PrepayTariff { displayName }
				}`,
		baseReadingTypes: []string{ReadingConsumption, ReadingDemand},
	},
	FuelGas: {
		kind:               FuelGas,
		agreementsField:    "gasAgreements",
		smartMeterField:    "smartGasMeter",
		agreementField:     "gasAgreement",
		agreementSelection: gasAgreementSelection,
		tariffNameSelection: `tariff {
					displayName
				}`,
		baseReadingTypes: []string{ReadingConsumption},
	},
}

func (k FuelKind) spec() fuelSpec {
	return fuelSpecs[k]
}

// Meter is one smart meter discovered on the account
type Meter struct {
	ID              string
	Kind            FuelKind
	DeviceID        string
	AgreementID     string
	TariffName      string
	PollingInterval time.Duration
	LastPolledAt    time.Time

	readingTypes []string
	wanted       map[string]struct{}
}

// NewMeter builds a meter that is due for polling immediately at now
func NewMeter(id string, kind FuelKind, deviceID, agreementID string, interval time.Duration, readingTypes []string, now time.Time) *Meter {
	m := &Meter{
		ID:              id,
		Kind:            kind,
		DeviceID:        deviceID,
		AgreementID:     agreementID,
		PollingInterval: interval,
		LastPolledAt:    now.Add(-interval),
		wanted:          make(map[string]struct{}, len(readingTypes)),
	}
	for _, rt := range readingTypes {
		if _, dup := m.wanted[rt]; dup {
			continue
		}
		m.wanted[rt] = struct{}{}
		m.readingTypes = append(m.readingTypes, rt)
	}
	return m
}

// Wants reports whether the meter declared interest in a reading type
func (m *Meter) Wants(readingType string) bool {
	_, ok := m.wanted[readingType]
	return ok
}

// ReadingTypes returns the wanted reading types in declaration order
func (m *Meter) ReadingTypes() []string {
	out := make([]string, len(m.readingTypes))
	copy(out, m.readingTypes)
	return out
}

// wantsTariff reports whether any tariff-derived reading type is wanted
func (m *Meter) wantsTariff() bool {
	for _, rt := range m.readingTypes {
		if strings.HasPrefix(rt, "tariff_") {
			return true
		}
	}
	return false
}

// Due reports whether the meter's cadence has elapsed at now
func (m *Meter) Due(now time.Time) bool {
	return isDue(m.LastPolledAt, m.PollingInterval, now)
}

// Labels identify the meter in labeled addressing mode
func (m *Meter) Labels() map[string]string {
	return map[string]string{
		"device_id":  m.DeviceID,
		"meter_type": m.Kind.String(),
	}
}

// Query returns the combined telemetry + agreement query for this meter
func (m *Meter) Query() (string, map[string]interface{}) {
	spec := m.Kind.spec()
	variables := map[string]interface{}{
		"deviceId": m.DeviceID,
	}

	var sb strings.Builder
	if m.AgreementID != "" {
		sb.WriteString("query TariffsAndMeterReadings($deviceId: String!, $agreementId: ID!) {\n\t")
		variables["agreementId"] = m.AgreementID
	} else {
		sb.WriteString("query MeterReadings($deviceId: String!) {\n\t")
	}
	sb.WriteString(telemetrySelection)
	if m.AgreementID != "" {
		sb.WriteString("\n\t")
		sb.WriteString(spec.agreementSelection)
	}
	sb.WriteString("\n}")
	return sb.String(), variables
}

// buildReadingTypes assembles the wanted reading types for a fuel from the tariff flags
func buildReadingTypes(kind FuelKind, tariffRates, tariffRemaining bool) []string {
	types := append([]string{}, kind.spec().baseReadingTypes...)
	if tariffRemaining {
		types = append(types, ReadingTariffExpiry, ReadingTariffDaysRemaining)
	}
	if tariffRates {
		types = append(types, ReadingTariffUnitRate, ReadingTariffStandingCharge)
	}
	return types
}

// stripDeviceID removes separators so the id can be embedded in a metric name
func stripDeviceID(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

// sortedKeys returns the keys of a reading in a stable order for logging
func (r Reading) sortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
