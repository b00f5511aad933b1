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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// NullFloat is a nullable number that the API may encode as a JSON number or a numeric string
type NullFloat struct {
	Float64 float64
	Valid   bool
}

func (n *NullFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = NullFloat{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = NullFloat{}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*n = NullFloat{Float64: f, Valid: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = NullFloat{Float64: f, Valid: true}
	return nil
}

// Ptr returns the value as a pointer, nil when null
func (n NullFloat) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Agreement is a tariff contract attached to a meter point
type Agreement struct {
	ID        string  `json:"id"`
	IsRevoked bool    `json:"isRevoked"`
	ValidFrom string  `json:"validFrom"`
	ValidTo   string  `json:"validTo"`
	Tariff    *Tariff `json:"tariff"`
}

// Tariff is the union of every tariff shape the API can return
type Tariff struct {
	ID             string     `json:"id"`
	DisplayName    string     `json:"displayName"`
	IsExport       bool       `json:"isExport"`
	StandingCharge NullFloat  `json:"standingCharge"`
	UnitRate       NullFloat  `json:"unitRate"`
	DayRate        NullFloat  `json:"dayRate"`
	NightRate      NullFloat  `json:"nightRate"`
	OffPeakRate    NullFloat  `json:"offPeakRate"`
	UnitRates      []UnitRate `json:"unitRates"`
}

// UnitRate is one half-hourly price interval, valid for [ValidFrom, ValidTo)
type UnitRate struct {
	ValidFrom string    `json:"validFrom"`
	ValidTo   string    `json:"validTo"`
	Value     NullFloat `json:"value"`
}

// TariffShape names which rate fields a tariff populates
type TariffShape int

const (
	ShapeStandard TariffShape = iota
	ShapeExport
	ShapeHalfHourly
	ShapeThreeRate
	ShapeDayNight
)

func (s TariffShape) String() string {
	switch s {
	case ShapeExport:
		return "export"
	case ShapeHalfHourly:
		return "half-hourly"
	case ShapeThreeRate:
		return "three-rate"
	case ShapeDayNight:
		return "day/night"
	default:
		return "standard/prepay"
	}
}

// classifyTariff applies the electricity shape precedence: export, half-hourly, three-rate, day/night, standard
func classifyTariff(t *Tariff) TariffShape {
	switch {
	case t.IsExport:
		return ShapeExport
	case len(t.UnitRates) > 0:
		return ShapeHalfHourly
	case t.DayRate.Valid && t.NightRate.Valid && t.OffPeakRate.Valid:
		return ShapeThreeRate
	case t.DayRate.Valid && t.NightRate.Valid:
		return ShapeDayNight
	default:
		return ShapeStandard
	}
}

// TariffOutcome tells the caller how a tariff resolution ended
type TariffOutcome int

const (
	TariffResolved TariffOutcome = iota
	TariffNotApplicable
	TariffExport
	TariffUnsupported
	AgreementRevoked
	AgreementExpired
	AgreementMalformed
)

func (o TariffOutcome) String() string {
	switch o {
	case TariffResolved:
		return "resolved"
	case TariffNotApplicable:
		return "not applicable"
	case TariffExport:
		return "export tariff"
	case TariffUnsupported:
		return "unsupported tariff"
	case AgreementRevoked:
		return "agreement revoked"
	case AgreementExpired:
		return "agreement no longer valid"
	case AgreementMalformed:
		return "agreement end date is not a timestamp"
	default:
		return "unknown"
	}
}

// AbortsReading reports whether the whole reading for the meter must be discarded
func (o TariffOutcome) AbortsReading() bool {
	return o == AgreementRevoked || o == AgreementExpired || o == AgreementMalformed
}

// TariffSnapshot is the current tariff view of one agreement; nil fields do not apply to the tariff shape
type TariffSnapshot struct {
	UnitRatePence          *float64
	StandingChargePenceDay *float64
	ExpiryEpochSeconds     *float64
	DaysRemaining          *int

	// MalformedRates counts unit rate intervals skipped because a bound did not parse
	MalformedRates int
}

// IsEmpty reports whether no tariff value is set
func (s TariffSnapshot) IsEmpty() bool {
	return s.UnitRatePence == nil && s.StandingChargePenceDay == nil &&
		s.ExpiryEpochSeconds == nil && s.DaysRemaining == nil
}

// Values maps the set fields onto their reading types
func (s TariffSnapshot) Values() Reading {
	out := Reading{}
	if s.UnitRatePence != nil {
		out[ReadingTariffUnitRate] = *s.UnitRatePence
	}
	if s.StandingChargePenceDay != nil {
		out[ReadingTariffStandingCharge] = *s.StandingChargePenceDay
	}
	if s.ExpiryEpochSeconds != nil {
		out[ReadingTariffExpiry] = *s.ExpiryEpochSeconds
	}
	if s.DaysRemaining != nil {
		out[ReadingTariffDaysRemaining] = float64(*s.DaysRemaining)
	}
	return out
}

// ResolveTariff extracts the current unit rate, standing charge and expiry from an agreement.
// It never fails: unsupported or ineligible tariffs yield an empty snapshot and an outcome saying why.
func ResolveTariff(kind FuelKind, agreement *Agreement, now time.Time) (TariffSnapshot, TariffOutcome) {
	var snap TariffSnapshot
	if agreement == nil {
		return snap, TariffNotApplicable
	}
	if agreement.IsRevoked {
		return snap, AgreementRevoked
	}

	validTo, hasValidTo, err := parseAPITime(agreement.ValidTo)
	if err != nil {
		return snap, AgreementMalformed
	}
	if hasValidTo && validTo.Before(now) {
		return snap, AgreementExpired
	}

	t := agreement.Tariff
	if t == nil {
		return snap, TariffNotApplicable
	}

	if kind == FuelElectric {
		switch classifyTariff(t) {
		case ShapeExport:
			return snap, TariffExport
		case ShapeHalfHourly:
			snap.UnitRatePence, snap.MalformedRates = currentUnitRate(t.UnitRates, now)
		case ShapeThreeRate, ShapeDayNight:
			// Time-of-use boundaries are not defined, so no rate is reported
			return snap, TariffUnsupported
		default:
			snap.UnitRatePence = t.UnitRate.Ptr()
		}
	} else {
		snap.UnitRatePence = t.UnitRate.Ptr()
	}

	snap.StandingChargePenceDay = t.StandingCharge.Ptr()

	if hasValidTo {
		expiry := float64(validTo.UnixNano()) / float64(time.Second)
		remaining := validTo.Sub(now.In(validTo.Location()))
		days := int(math.Floor(remaining.Hours() / 24))
		snap.ExpiryEpochSeconds = &expiry
		snap.DaysRemaining = &days
	}

	return snap, TariffResolved
}

// currentUnitRate returns the value of the first interval with validFrom <= now < validTo.
// Null bounds are open-ended; intervals with an unparseable bound are skipped and counted.
func currentUnitRate(rates []UnitRate, now time.Time) (*float64, int) {
	malformed := 0
	for _, rate := range rates {
		from, okFrom, errFrom := parseAPITime(rate.ValidFrom)
		to, okTo, errTo := parseAPITime(rate.ValidTo)
		if errFrom != nil || errTo != nil {
			malformed++
			continue
		}
		if okFrom && now.Before(from) {
			continue
		}
		if okTo && !now.Before(to) {
			continue
		}
		return rate.Value.Ptr(), malformed
	}
	return nil, malformed
}

var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseAPITime parses the ISO-8601 timestamps returned by the API, keeping their offset.
// Timestamps without an offset are read in local time. An empty or null value is reported
// as absent; anything else that does not parse is an error.
func parseAPITime(s string) (time.Time, bool, error) {
	if s == "" || s == "null" {
		return time.Time{}, false, nil
	}
	for _, layout := range apiTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", s)
}
