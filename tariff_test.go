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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tariffNow = time.Date(2025, 3, 1, 12, 10, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func decodeAgreement(t *testing.T, payload string) *Agreement {
	t.Helper()
	var a Agreement
	require.NoError(t, json.Unmarshal([]byte(payload), &a))
	return &a
}

func TestResolveTariff(t *testing.T) {
	tomorrow := tariffNow.Add(24 * time.Hour).Format(time.RFC3339)
	expiry := float64(tariffNow.Add(24 * time.Hour).Unix())

	tests := []struct {
		name    string
		kind    FuelKind
		payload string
		want    TariffSnapshot
		outcome TariffOutcome
	}{
		{
			name:    "standard tariff",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"validTo":"` + tomorrow + `","tariff":{"unitRate":0.199,"standingCharge":0.22,"isExport":false}}`,
			want: TariffSnapshot{
				UnitRatePence:          floatPtr(0.199),
				StandingChargePenceDay: floatPtr(0.22),
				ExpiryEpochSeconds:     floatPtr(expiry),
				DaysRemaining:          intPtr(1),
			},
			outcome: TariffResolved,
		},
		{
			name:    "standard tariff without end date",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"validTo":null,"tariff":{"unitRate":"24.5","standingCharge":"45.1"}}`,
			want: TariffSnapshot{
				UnitRatePence:          floatPtr(24.5),
				StandingChargePenceDay: floatPtr(45.1),
			},
			outcome: TariffResolved,
		},
		{
			name:    "export tariff has no rates",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"validTo":"` + tomorrow + `","tariff":{"unitRate":15.0,"standingCharge":0,"isExport":true}}`,
			want:    TariffSnapshot{},
			outcome: TariffExport,
		},
		{
			name: "half-hourly tariff picks current interval",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"standingCharge":50.0,"unitRates":[
				{"validFrom":"2025-03-01T11:30:00Z","validTo":"2025-03-01T12:00:00Z","value":10.0},
				{"validFrom":"2025-03-01T12:00:00Z","validTo":"2025-03-01T12:30:00Z","value":12.5},
				{"validFrom":"2025-03-01T12:30:00Z","validTo":"2025-03-01T13:00:00Z","value":30.0}]}}`,
			want: TariffSnapshot{
				UnitRatePence:          floatPtr(12.5),
				StandingChargePenceDay: floatPtr(50.0),
			},
			outcome: TariffResolved,
		},
		{
			name: "half-hourly tariff without matching interval",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"standingCharge":50.0,"unitRates":[
				{"validFrom":"2025-03-01T09:00:00Z","validTo":"2025-03-01T09:30:00Z","value":10.0}]}}`,
			want: TariffSnapshot{
				StandingChargePenceDay: floatPtr(50.0),
			},
			outcome: TariffResolved,
		},
		{
			name: "half-hourly interval end is exclusive",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"unitRates":[
				{"validFrom":"2025-03-01T11:40:00Z","validTo":"2025-03-01T12:10:00Z","value":1.0},
				{"validFrom":"2025-03-01T12:10:00Z","validTo":null,"value":2.0}]}}`,
			want: TariffSnapshot{
				UnitRatePence: floatPtr(2.0),
			},
			outcome: TariffResolved,
		},
		{
			name: "half-hourly interval with unparseable bounds is skipped",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"unitRates":[
				{"validFrom":"01/03/2025 00:00","validTo":"01/03/2025 23:30","value":99.0},
				{"validFrom":"2025-03-01T12:00:00Z","validTo":"2025-03-01T12:30:00Z","value":24.5}]}}`,
			want: TariffSnapshot{
				UnitRatePence:  floatPtr(24.5),
				MalformedRates: 1,
			},
			outcome: TariffResolved,
		},
		{
			name: "half-hourly interval with one unparseable bound is skipped",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"unitRates":[
				{"validFrom":null,"validTo":"soon","value":99.0},
				{"validFrom":"2025-03-01T12:00:00Z","validTo":null,"value":24.5}]}}`,
			want: TariffSnapshot{
				UnitRatePence:  floatPtr(24.5),
				MalformedRates: 1,
			},
			outcome: TariffResolved,
		},
		{
			name: "half-hourly tariff with only unparseable intervals",
			kind: FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"standingCharge":50.0,"unitRates":[
				{"validFrom":"yesterday","validTo":"tomorrow","value":99.0},
				{"validFrom":"2025-03-01T12:00","validTo":"2025-03-01T12:30","value":98.0}]}}`,
			want: TariffSnapshot{
				StandingChargePenceDay: floatPtr(50.0),
				MalformedRates:         2,
			},
			outcome: TariffResolved,
		},
		{
			name:    "three-rate tariff is unsupported",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"standingCharge":40.0,"dayRate":30.0,"nightRate":10.0,"offPeakRate":8.0}}`,
			want:    TariffSnapshot{},
			outcome: TariffUnsupported,
		},
		{
			name:    "day/night tariff is unsupported",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"tariff":{"standingCharge":40.0,"dayRate":30.0,"nightRate":10.0}}`,
			want:    TariffSnapshot{},
			outcome: TariffUnsupported,
		},
		{
			name:    "gas tariff",
			kind:    FuelGas,
			payload: `{"isRevoked":false,"validTo":"` + tomorrow + `","tariff":{"unitRate":6.1,"standingCharge":29.6}}`,
			want: TariffSnapshot{
				UnitRatePence:          floatPtr(6.1),
				StandingChargePenceDay: floatPtr(29.6),
				ExpiryEpochSeconds:     floatPtr(expiry),
				DaysRemaining:          intPtr(1),
			},
			outcome: TariffResolved,
		},
		{
			name:    "gas ignores electricity shapes",
			kind:    FuelGas,
			payload: `{"isRevoked":false,"tariff":{"unitRate":6.1,"standingCharge":29.6,"isExport":true}}`,
			want: TariffSnapshot{
				UnitRatePence:          floatPtr(6.1),
				StandingChargePenceDay: floatPtr(29.6),
			},
			outcome: TariffResolved,
		},
		{
			name:    "revoked agreement",
			kind:    FuelGas,
			payload: `{"isRevoked":true,"validTo":"` + tomorrow + `","tariff":{"unitRate":6.1,"standingCharge":29.6}}`,
			want:    TariffSnapshot{},
			outcome: AgreementRevoked,
		},
		{
			name:    "expired agreement",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"validTo":"2025-02-28T00:00:00Z","tariff":{"unitRate":0.199,"standingCharge":0.22}}`,
			want:    TariffSnapshot{},
			outcome: AgreementExpired,
		},
		{
			name:    "agreement with unparseable end date",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"validTo":"28/02/2025","tariff":{"unitRate":0.199,"standingCharge":0.22}}`,
			want:    TariffSnapshot{},
			outcome: AgreementMalformed,
		},
		{
			name:    "gas agreement with unparseable end date",
			kind:    FuelGas,
			payload: `{"isRevoked":false,"validTo":"never","tariff":{"unitRate":6.1,"standingCharge":29.6}}`,
			want:    TariffSnapshot{},
			outcome: AgreementMalformed,
		},
		{
			name:    "agreement without tariff",
			kind:    FuelElectric,
			payload: `{"isRevoked":false,"tariff":null}`,
			want:    TariffSnapshot{},
			outcome: TariffNotApplicable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, outcome := ResolveTariff(tt.kind, decodeAgreement(t, tt.payload), tariffNow)
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, tt.want, snap)
		})
	}
}

func TestResolveTariffNilAgreement(t *testing.T) {
	snap, outcome := ResolveTariff(FuelElectric, nil, tariffNow)
	assert.True(t, snap.IsEmpty())
	assert.Equal(t, TariffNotApplicable, outcome)
	assert.False(t, outcome.AbortsReading())
}

func TestExportTariffNeverHasRates(t *testing.T) {
	rates := []string{
		`"unitRate":10.0`,
		`"unitRates":[{"validFrom":null,"validTo":null,"value":9.0}]`,
		`"dayRate":30.0,"nightRate":10.0`,
	}
	for _, r := range rates {
		agreement := decodeAgreement(t, `{"isRevoked":false,"tariff":{"isExport":true,"standingCharge":1.0,`+r+`}}`)
		snap, outcome := ResolveTariff(FuelElectric, agreement, tariffNow)
		assert.Nil(t, snap.UnitRatePence, r)
		assert.Nil(t, snap.StandingChargePenceDay, r)
		assert.Equal(t, TariffExport, outcome, r)
	}
}

func TestDaysRemaining(t *testing.T) {
	tests := []struct {
		name    string
		validTo time.Time
		want    int
	}{
		{name: "just under two days", validTo: tariffNow.Add(47 * time.Hour), want: 1},
		{name: "exactly two days", validTo: tariffNow.Add(48 * time.Hour), want: 2},
		{name: "later today", validTo: tariffNow.Add(3 * time.Hour), want: 0},
		{name: "other offset", validTo: tariffNow.Add(72 * time.Hour).In(time.FixedZone("BST", 3600)), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agreement := &Agreement{
				ValidTo: tt.validTo.Format(time.RFC3339),
				Tariff:  &Tariff{UnitRate: NullFloat{Float64: 1, Valid: true}},
			}
			snap, outcome := ResolveTariff(FuelElectric, agreement, tariffNow)
			require.Equal(t, TariffResolved, outcome)
			require.NotNil(t, snap.DaysRemaining)
			assert.Equal(t, tt.want, *snap.DaysRemaining)
			assert.Equal(t, float64(tt.validTo.Unix()), *snap.ExpiryEpochSeconds)
		})
	}
}

func TestClassifyTariff(t *testing.T) {
	valid := NullFloat{Float64: 1, Valid: true}
	tests := []struct {
		name   string
		tariff Tariff
		want   TariffShape
	}{
		{name: "export wins over everything", tariff: Tariff{IsExport: true, UnitRates: []UnitRate{{}}, DayRate: valid, NightRate: valid}, want: ShapeExport},
		{name: "half-hourly wins over day/night", tariff: Tariff{UnitRates: []UnitRate{{}}, DayRate: valid, NightRate: valid}, want: ShapeHalfHourly},
		{name: "three-rate", tariff: Tariff{DayRate: valid, NightRate: valid, OffPeakRate: valid}, want: ShapeThreeRate},
		{name: "day/night", tariff: Tariff{DayRate: valid, NightRate: valid}, want: ShapeDayNight},
		{name: "standard", tariff: Tariff{UnitRate: valid}, want: ShapeStandard},
		{name: "day rate alone is standard", tariff: Tariff{DayRate: valid}, want: ShapeStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTariff(&tt.tariff))
		})
	}
}

func TestNullFloatUnmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    NullFloat
		wantErr bool
	}{
		{input: `1.5`, want: NullFloat{Float64: 1.5, Valid: true}},
		{input: `"2.25"`, want: NullFloat{Float64: 2.25, Valid: true}},
		{input: `null`, want: NullFloat{}},
		{input: `""`, want: NullFloat{}},
		{input: `"abc"`, wantErr: true},
		{input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var n NullFloat
			err := json.Unmarshal([]byte(tt.input), &n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParseAPITime(t *testing.T) {
	tests := []struct {
		input   string
		ok      bool
		wantErr bool
	}{
		{input: "2025-03-01T12:00:00Z", ok: true},
		{input: "2025-03-01T12:00:00+01:00", ok: true},
		{input: "2025-03-01T12:00:00.123456+00:00", ok: true},
		{input: "2025-03-01T12:00:00", ok: true},
		{input: "2025-03-01", ok: true},
		{input: ""},
		{input: "null"},
		{input: "next tuesday", wantErr: true},
		{input: "01/03/2025 00:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, ok, err := parseAPITime(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	parsed, ok, err := parseAPITime("2025-03-01T12:00:00+01:00")
	require.NoError(t, err)
	require.True(t, ok)
	_, offset := parsed.Zone()
	assert.Equal(t, 3600, offset)
}

func TestTariffOutcomeAbortsReading(t *testing.T) {
	assert.True(t, AgreementRevoked.AbortsReading())
	assert.True(t, AgreementExpired.AbortsReading())
	assert.True(t, AgreementMalformed.AbortsReading())
	for _, o := range []TariffOutcome{TariffResolved, TariffNotApplicable, TariffExport, TariffUnsupported} {
		assert.False(t, o.AbortsReading(), o.String())
	}
}
