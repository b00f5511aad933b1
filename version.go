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
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"golang.org/x/mod/semver"
)

// These variables are set at build time via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// GetVersion returns the application version
func GetVersion() string {
	if version != "dev" {
		return normalizeVersion(version)
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if semver.IsValid(info.Main.Version) {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return setting.Value[:7] // Short commit hash
			}
		}
	}

	if commit != "unknown" && len(commit) >= 7 {
		return commit[:7]
	}

	return "dev"
}

// normalizeVersion turns release tags such as "1.4.0" into canonical "v1.4.0";
// anything that is not semver is returned untouched.
func normalizeVersion(v string) string {
	candidate := v
	if !strings.HasPrefix(candidate, "v") {
		candidate = "v" + candidate
	}
	if semver.IsValid(candidate) {
		return semver.Canonical(candidate)
	}
	return v
}

// GetUserAgent returns the properly formatted user-agent string
func GetUserAgent() string {
	return fmt.Sprintf("octopus-usage-exporter/%s", GetVersion())
}

// buildLabels are the constant labels of the exporter info metric
func buildLabels() map[string]string {
	return map[string]string{
		"version":    GetVersion(),
		"user_agent": GetUserAgent(),
		"go_version": runtime.Version(),
	}
}
