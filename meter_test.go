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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFuelKindString(t *testing.T) {
	assert.Equal(t, "electric", FuelElectric.String())
	assert.Equal(t, "gas", FuelGas.String())
	assert.Equal(t, "unknown", FuelKind(9).String())
}

func TestBuildReadingTypes(t *testing.T) {
	tests := []struct {
		name            string
		kind            FuelKind
		tariffRates     bool
		tariffRemaining bool
		want            []string
	}{
		{name: "electric base", kind: FuelElectric, want: []string{"consumption", "demand"}},
		{name: "gas base", kind: FuelGas, want: []string{"consumption"}},
		{
			name:        "electric with rates",
			kind:        FuelElectric,
			tariffRates: true,
			want:        []string{"consumption", "demand", "tariff_unit_rate", "tariff_standing_charge"},
		},
		{
			name:            "gas with everything",
			kind:            FuelGas,
			tariffRates:     true,
			tariffRemaining: true,
			want:            []string{"consumption", "tariff_expiry", "tariff_days_remaining", "tariff_unit_rate", "tariff_standing_charge"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildReadingTypes(tt.kind, tt.tariffRates, tt.tariffRemaining))
		})
	}
}

func TestNewMeterIsDueImmediately(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeter("1", FuelElectric, "00-11-22", "42", 30*time.Minute, []string{"consumption", "demand", "consumption"}, now)

	assert.True(t, m.Due(now))
	assert.Equal(t, []string{"consumption", "demand"}, m.ReadingTypes())
	assert.True(t, m.Wants("demand"))
	assert.False(t, m.Wants("tariff_unit_rate"))
	assert.False(t, m.wantsTariff())

	m.LastPolledAt = now
	assert.False(t, m.Due(now.Add(29*time.Minute)))
	assert.True(t, m.Due(now.Add(30*time.Minute)))
}

func TestMeterLabels(t *testing.T) {
	m := NewMeter("1", FuelGas, "AA-BB-CC", "", GasPollingInterval, []string{"consumption"}, time.Now())
	assert.Equal(t, map[string]string{"device_id": "AA-BB-CC", "meter_type": "gas"}, m.Labels())
}

func TestMeterQuery(t *testing.T) {
	now := time.Now()

	t.Run("with agreement", func(t *testing.T) {
		m := NewMeter("1", FuelElectric, "00-11-22", "123", time.Minute, []string{"consumption"}, now)
		query, vars := m.Query()

		assert.True(t, strings.HasPrefix(query, "query TariffsAndMeterReadings($deviceId: String!, $agreementId: ID!)"))
		assert.Contains(t, query, "smartMeterTelemetry(deviceId: $deviceId)")
		assert.Contains(t, query, "electricityAgreement(id: $agreementId)")
		assert.Contains(t, query, "... on HalfHourlyTariff")
		assert.NotContains(t, query, "gasAgreement")
		assert.Equal(t, map[string]interface{}{"deviceId": "00-11-22", "agreementId": "123"}, vars)
	})

	t.Run("gas with agreement", func(t *testing.T) {
		m := NewMeter("1", FuelGas, "AA-BB", "77", time.Minute, []string{"consumption"}, now)
		query, _ := m.Query()
		assert.Contains(t, query, "gasAgreement(id: $agreementId)")
		assert.NotContains(t, query, "electricityAgreement")
	})

	t.Run("without agreement", func(t *testing.T) {
		m := NewMeter("1", FuelGas, "AA-BB", "", time.Minute, []string{"consumption"}, now)
		query, vars := m.Query()

		assert.True(t, strings.HasPrefix(query, "query MeterReadings($deviceId: String!)"))
		assert.NotContains(t, query, "Agreement")
		assert.Equal(t, map[string]interface{}{"deviceId": "AA-BB"}, vars)
	})
}

func TestStripDeviceID(t *testing.T) {
	assert.Equal(t, "001122AABB", stripDeviceID("00-11-22-AA-BB"))
	assert.Equal(t, "plain", stripDeviceID("plain"))
}
