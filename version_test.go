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

	"github.com/stretchr/testify/assert"
	"golang.org/x/mod/semver"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "bare release", input: "0.1.7", expected: "v0.1.7"},
		{name: "already prefixed", input: "v1.2.3", expected: "v1.2.3"},
		{name: "short form", input: "v2", expected: "v2.0.0"},
		{name: "prerelease", input: "1.5.0-beta", expected: "v1.5.0-beta"},
		{name: "commit hash", input: "a1b2c3d", expected: "a1b2c3d"},
		{name: "dev", input: "dev", expected: "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeVersion(tt.input))
		})
	}
}

func TestNormalizedVersionsOrder(t *testing.T) {
	tests := []struct {
		v1       string
		v2       string
		expected int
	}{
		{"0.1.7", "0.1.8", -1},
		{"1.9.0", "1.10.0", -1},
		{"2.0.0", "v1.9.0", 1},
		{"1.5.0-beta", "1.5.0", -1},
		{"v1.5.0", "1.5.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.v1+"_vs_"+tt.v2, func(t *testing.T) {
			got := semver.Compare(normalizeVersion(tt.v1), normalizeVersion(tt.v2))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGetVersion(t *testing.T) {
	assert.NotEmpty(t, GetVersion())
}

func TestGetUserAgent(t *testing.T) {
	ua := GetUserAgent()
	assert.True(t, strings.HasPrefix(ua, "octopus-usage-exporter/"), "unexpected user agent %s", ua)
}

func TestBuildLabels(t *testing.T) {
	labels := buildLabels()
	assert.Equal(t, GetVersion(), labels["version"])
	assert.Equal(t, GetUserAgent(), labels["user_agent"])
	assert.NotEmpty(t, labels["go_version"])
}
