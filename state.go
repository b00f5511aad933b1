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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateDisabled turns state persistence off when used as the state file path
const StateDisabled = "disable"

// AppState is the small amount of data persisted between runs
type AppState struct {
	JWTToken       string    `json:"jwt_token,omitempty"`
	JWTTokenExpiry time.Time `json:"jwt_token_expiry,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`

	mu   sync.Mutex
	path string
}

func getStateFilePath(accountID string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	// Use account ID in filename to separate cache per account
	return filepath.Join(homeDir, ".config", "octopus-usage-exporter", fmt.Sprintf("state_%s.json", accountID)), nil
}

// ResolveStatePath picks the configured state file, the per-account default, or "" when disabled
func ResolveStatePath(configured, accountID string) (string, error) {
	switch configured {
	case StateDisabled:
		return "", nil
	case "":
		return getStateFilePath(accountID)
	default:
		return configured, nil
	}
}

// LoadState reads the state file at path; a missing file yields empty state
func LoadState(path string) (*AppState, error) {
	state := &AppState{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		state.LastUpdated = time.Now()
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, nil
}

// Save writes the state back to its file
func (s *AppState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *AppState) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// The file holds a bearer token
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// CachedToken returns the persisted JWT, if any
func (s *AppState) CachedToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.JWTToken, s.JWTToken != ""
}

// StoreToken persists a freshly issued JWT
func (s *AppState) StoreToken(token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JWTToken = token.Value
	s.JWTTokenExpiry = token.ExpiresAt
	return s.saveLocked()
}
